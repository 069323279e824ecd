package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medsurvey_sessions_started_total",
		Help: "Total number of respondent sessions started.",
	})

	SessionsResumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medsurvey_sessions_resumed_total",
		Help: "Total number of respondent sessions resumed from a checkpoint.",
	})

	SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medsurvey_sessions_completed_total",
		Help: "Total number of respondent sessions that reached completion.",
	})

	SessionsCycleAborted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medsurvey_sessions_cycle_aborted_total",
		Help: "Total number of sessions force-completed by the traversal hop cap.",
	})

	CheckpointsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medsurvey_checkpoints_saved_total",
		Help: "Total number of partial-progress checkpoints written.",
	})

	CheckpointFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medsurvey_checkpoint_failures_total",
		Help: "Total number of checkpoint writes that failed.",
	})

	FlowDiagnostics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medsurvey_flow_diagnostics_total",
		Help: "Non-fatal flow graph anomalies absorbed at build time, labelled by kind.",
	}, []string{"kind"})

	ResponsesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medsurvey_responses_submitted_total",
		Help: "Total number of finalized survey responses stored.",
	})

	RedemptionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medsurvey_redemptions_processed_total",
		Help: "Redemption requests handled by the batch job, labelled by outcome.",
	}, []string{"status"})

	SessionAnswerCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "medsurvey_session_answer_count",
		Help:    "Number of answered questions per completed session.",
		Buckets: []float64{1, 2, 5, 10, 20, 40, 80},
	})
)
