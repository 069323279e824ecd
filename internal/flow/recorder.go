package flow

// Checkpoint carries the full partial state of a session, not a delta.
// Replaying the same checkpoint twice must produce the same stored
// state: sinks upsert by session id, never append.
type Checkpoint struct {
	SessionID   string
	VisitedPath []int64
	Answers     map[int64]string
}

// SubmittedAnswer is one entry of the final submission payload.
type SubmittedAnswer struct {
	QuestionID int64  `json:"question_id"`
	Answer     string `json:"answer"`
}

// Submission is the terminal payload handed to the response store.
// Answers are ordered by visitation order, not question order.
type Submission struct {
	SessionID    string
	Answers      []SubmittedAnswer
	Completed    bool
	CycleAborted bool
}

// CheckpointSink persists partial progress. Implementations own their
// retry policy; the recorder dispatches and moves on.
type CheckpointSink interface {
	SaveCheckpoint(cp Checkpoint)
}

// SubmissionSink receives the single terminal submission of a session.
type SubmissionSink interface {
	SubmitResponse(sub Submission)
}

// Recorder drives a session on behalf of a respondent: every accepted
// answer advances the traversal and checkpoints the accumulated answer
// set, and completion submits the final payload exactly once.
type Recorder struct {
	sessionID   string
	session     *Session
	checkpoints CheckpointSink
	submissions SubmissionSink
	submitted   bool
}

func NewRecorder(sessionID string, session *Session, checkpoints CheckpointSink, submissions SubmissionSink) *Recorder {
	return &Recorder{
		sessionID:   sessionID,
		session:     session,
		checkpoints: checkpoints,
		submissions: submissions,
	}
}

func (r *Recorder) Session() *Session { return r.session }

// OnAnswer advances the session and emits a checkpoint. When the
// advance completes the flow, the terminal submission is emitted in the
// same step; no separate submit call exists for the normal path.
func (r *Recorder) OnAnswer(answer string) error {
	if err := r.session.Advance(answer); err != nil {
		return err
	}
	r.checkpoint()
	if r.session.Completed() {
		r.submit()
	}
	return nil
}

// Back retreats one step and checkpoints the shortened path.
func (r *Recorder) Back() error {
	if err := r.session.Retreat(); err != nil {
		return err
	}
	r.checkpoint()
	return nil
}

// Finalize completes the session early (only valid while the current
// question is optional) and submits. Calling it after the session
// already submitted is a no-op.
func (r *Recorder) Finalize() error {
	if r.submitted {
		return nil
	}
	if err := r.session.FinalizeEarly(); err != nil {
		return err
	}
	r.submit()
	return nil
}

func (r *Recorder) checkpoint() {
	if r.checkpoints == nil {
		return
	}
	r.checkpoints.SaveCheckpoint(Checkpoint{
		SessionID:   r.sessionID,
		VisitedPath: r.session.VisitedPath(),
		Answers:     r.session.Answers(),
	})
}

func (r *Recorder) submit() {
	if r.submitted {
		return
	}
	r.submitted = true
	if r.submissions == nil {
		return
	}
	r.submissions.SubmitResponse(Submission{
		SessionID:    r.sessionID,
		Answers:      r.orderedAnswers(),
		Completed:    true,
		CycleAborted: r.session.CycleAborted(),
	})
}

// orderedAnswers flattens the answer map into visitation order. A
// question revisited through a cycle appears once, at its first visit,
// with its latest answer.
func (r *Recorder) orderedAnswers() []SubmittedAnswer {
	visited := r.session.VisitedPath()
	answers := r.session.Answers()
	seen := make(map[int64]bool, len(visited))
	out := make([]SubmittedAnswer, 0, len(answers))
	for _, id := range visited {
		if seen[id] {
			continue
		}
		seen[id] = true
		if v, ok := answers[id]; ok {
			out = append(out, SubmittedAnswer{QuestionID: id, Answer: v})
		}
	}
	return out
}
