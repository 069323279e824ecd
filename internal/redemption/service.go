package redemption

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suryakumar124/Med-survey-diff-sub001/internal/metrics"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrResponseNotFound = errors.New("response not found")
	ErrNotEligible      = errors.New("response is not eligible for redemption")
	ErrAlreadyRedeemed  = errors.New("response already has a redemption")
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Balance is the doctor's point ledger. Earned counts completed
// submissions; each completed response can be redeemed once for its
// survey's points_reward.
type Balance struct {
	DoctorID  int64 `json:"doctor_id"`
	Earned    int   `json:"earned"`
	Pending   int   `json:"pending"`
	Redeemed  int   `json:"redeemed"`
	Available int   `json:"available"`
}

type Redemption struct {
	ID            int64      `json:"id"`
	ResponseID    int64      `json:"response_id"`
	DoctorID      int64      `json:"doctor_id"`
	Points        int        `json:"points"`
	Method        string     `json:"method"`
	Details       string     `json:"details,omitempty"`
	Status        string     `json:"status"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	RequestedAt   time.Time  `json:"requested_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

func (s *Service) GetBalance(ctx context.Context, doctorID int64) (*Balance, error) {
	if doctorID <= 0 {
		return nil, ErrInvalidInput
	}

	out := &Balance{DoctorID: doctorID}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(sv.points_reward), 0)
		FROM survey_responses r
		JOIN surveys sv ON sv.id = r.survey_id
		WHERE r.doctor_id = $1
		  AND r.completed = TRUE
	`, doctorID).Scan(&out.Earned)
	if err != nil {
		return nil, fmt.Errorf("query earned points: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(points) FILTER (WHERE status = 'pending'), 0),
			COALESCE(SUM(points) FILTER (WHERE status = 'processed'), 0)
		FROM redemptions
		WHERE doctor_id = $1
	`, doctorID).Scan(&out.Pending, &out.Redeemed)
	if err != nil {
		return nil, fmt.Errorf("query redeemed points: %w", err)
	}

	out.Available = out.Earned - out.Pending - out.Redeemed
	if out.Available < 0 {
		out.Available = 0
	}
	return out, nil
}

// CanRedeem reports whether the doctor's completed response can still be
// redeemed. Only completed responses qualify, one redemption each.
func (s *Service) CanRedeem(ctx context.Context, doctorID, responseID int64) (bool, error) {
	if doctorID <= 0 || responseID <= 0 {
		return false, ErrInvalidInput
	}

	var completed bool
	err := s.db.QueryRowContext(ctx, `
		SELECT completed
		FROM survey_responses
		WHERE id = $1 AND doctor_id = $2
	`, responseID, doctorID).Scan(&completed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrResponseNotFound
	}
	if err != nil {
		return false, fmt.Errorf("load response: %w", err)
	}
	if !completed {
		return false, nil
	}

	var taken bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM redemptions
			WHERE response_id = $1 AND status IN ('pending', 'processed')
		)
	`, responseID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check existing redemption: %w", err)
	}
	return !taken, nil
}

// SubmitRedemption files a pending redemption for a completed response.
// Points come from the survey's configured reward, not the caller.
func (s *Service) SubmitRedemption(ctx context.Context, doctorID, responseID int64, method, details string) (*Redemption, error) {
	method = strings.TrimSpace(method)
	details = strings.TrimSpace(details)
	if doctorID <= 0 || responseID <= 0 || method == "" {
		return nil, ErrInvalidInput
	}

	var completed bool
	var points int
	err := s.db.QueryRowContext(ctx, `
		SELECT r.completed, sv.points_reward
		FROM survey_responses r
		JOIN surveys sv ON sv.id = r.survey_id
		WHERE r.id = $1 AND r.doctor_id = $2
	`, responseID, doctorID).Scan(&completed, &points)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResponseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load response: %w", err)
	}
	if !completed {
		return nil, ErrNotEligible
	}

	var out Redemption
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO redemptions (response_id, doctor_id, points, method, details, status, requested_at)
		VALUES ($1, $2, $3, $4, NULLIF($5,''), 'pending', now())
		ON CONFLICT (response_id) DO NOTHING
		RETURNING id, response_id, doctor_id, points, method, COALESCE(details,''), status, requested_at
	`, responseID, doctorID, points, method, details).Scan(
		&out.ID, &out.ResponseID, &out.DoctorID, &out.Points,
		&out.Method, &out.Details, &out.Status, &out.RequestedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlreadyRedeemed
	}
	if err != nil {
		return nil, fmt.Errorf("insert redemption: %w", err)
	}
	return &out, nil
}

func (s *Service) ListRedemptions(ctx context.Context, doctorID int64, status string, limit, offset int) ([]Redemption, error) {
	switch status {
	case "", "pending", "processed", "failed":
	default:
		return nil, fmt.Errorf("%w: invalid status filter", ErrInvalidInput)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, response_id, doctor_id, points, method, COALESCE(details,''), status, failure_reason, requested_at, processed_at
		FROM redemptions
		WHERE ($1 = 0 OR doctor_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY requested_at DESC, id DESC
		LIMIT $3
		OFFSET $4
	`, doctorID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	defer rows.Close()

	out := make([]Redemption, 0, limit)
	for rows.Next() {
		var it Redemption
		var reason sql.NullString
		var processedAt sql.NullTime
		if err := rows.Scan(&it.ID, &it.ResponseID, &it.DoctorID, &it.Points, &it.Method, &it.Details, &it.Status, &reason, &it.RequestedAt, &processedAt); err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		if reason.Valid {
			it.FailureReason = &reason.String
		}
		if processedAt.Valid {
			it.ProcessedAt = &processedAt.Time
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate redemptions: %w", err)
	}
	return out, nil
}

// ProcessPendingRedemptions settles pending requests oldest first,
// re-validating eligibility at settlement time. Requests whose response
// no longer qualifies are marked failed rather than blocking the batch.
func (s *Service) ProcessPendingRedemptions(ctx context.Context, limit int) (processed, failed int, err error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, response_id
		FROM redemptions
		WHERE status = 'pending'
		ORDER BY requested_at ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list pending redemptions: %w", err)
	}

	type pending struct {
		id         int64
		responseID int64
	}
	batch := make([]pending, 0, limit)
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.responseID); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("scan pending redemption: %w", err)
		}
		batch = append(batch, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, 0, fmt.Errorf("iterate pending redemptions: %w", err)
	}
	rows.Close()

	for _, p := range batch {
		if err := s.settle(ctx, p.id, p.responseID); err != nil {
			if errors.Is(err, ErrNotEligible) {
				failed++
				metrics.RedemptionsProcessed.WithLabelValues("failed").Inc()
				continue
			}
			return processed, failed, err
		}
		processed++
		metrics.RedemptionsProcessed.WithLabelValues("processed").Inc()
	}
	return processed, failed, nil
}

func (s *Service) settle(ctx context.Context, id, responseID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	if err := tx.QueryRowContext(ctx, `
		SELECT status
		FROM redemptions
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&status); err != nil {
		return fmt.Errorf("lock redemption: %w", err)
	}
	if status != "pending" {
		// Another worker settled it.
		return tx.Commit()
	}

	var completed bool
	err = tx.QueryRowContext(ctx, `
		SELECT completed
		FROM survey_responses
		WHERE id = $1
	`, responseID).Scan(&completed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load response: %w", err)
	}

	if errors.Is(err, sql.ErrNoRows) || !completed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE redemptions
			SET status = 'failed',
				failure_reason = 'response no longer eligible',
				processed_at = now()
			WHERE id = $1
		`, id); err != nil {
			return fmt.Errorf("mark redemption failed: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit failed redemption: %w", err)
		}
		return ErrNotEligible
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE redemptions
		SET status = 'processed',
			processed_at = now()
		WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("mark redemption processed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit redemption: %w", err)
	}
	return nil
}
