package masterdata

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
)

type Service struct {
	db         *sql.DB
	bcryptCost int
}

type Specialty struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

type DirectoryEntry struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	Email         string `json:"email"`
	Specialty     string `json:"specialty,omitempty"`
	LicenseNumber string `json:"license_number,omitempty"`
	IsActive      bool   `json:"is_active"`
}

type ImportDoctorsReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	Errors      []ImportRowError `json:"errors"`
}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, bcryptCost: bcrypt.DefaultCost}
}

func (s *Service) ListSpecialties(ctx context.Context, activeOnly bool) ([]Specialty, error) {
	query := `
		SELECT id, name, is_active
		FROM specialties
	`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY name ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list specialties: %w", err)
	}
	defer rows.Close()

	out := make([]Specialty, 0)
	for rows.Next() {
		var it Specialty
		if err := rows.Scan(&it.ID, &it.Name, &it.IsActive); err != nil {
			return nil, fmt.Errorf("scan specialty: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate specialties: %w", err)
	}
	return out, nil
}

func (s *Service) CreateSpecialty(ctx context.Context, actorID int64, name string) (*Specialty, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInput
	}

	var out Specialty
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO specialties (name, is_active, created_at, updated_at)
		VALUES ($1, TRUE, now(), now())
		RETURNING id, name, is_active
	`, name).Scan(&out.ID, &out.Name, &out.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create specialty: %w", err)
	}

	_ = s.writeAudit(ctx, actorID, "specialty_created", "specialty", fmt.Sprintf("%d", out.ID), map[string]any{
		"name": out.Name,
	})
	return &out, nil
}

// UpdateSpecialty renames a specialty and keeps the denormalized copy on
// doctor accounts in step with the rename.
func (s *Service) UpdateSpecialty(ctx context.Context, actorID, id int64, name string) (*Specialty, error) {
	name = strings.TrimSpace(name)
	if id <= 0 || name == "" {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var oldName string
	if err := tx.QueryRowContext(ctx, `
		SELECT name FROM specialties WHERE id = $1
	`, id).Scan(&oldName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("load specialty: %w", err)
	}

	var out Specialty
	if err := tx.QueryRowContext(ctx, `
		UPDATE specialties
		SET name = $2,
			updated_at = now()
		WHERE id = $1
		RETURNING id, name, is_active
	`, id, name).Scan(&out.ID, &out.Name, &out.IsActive); err != nil {
		return nil, fmt.Errorf("update specialty: %w", err)
	}

	if strings.TrimSpace(oldName) != strings.TrimSpace(name) {
		if _, err := tx.ExecContext(ctx, `
			UPDATE users
			SET specialty = $2
			WHERE role = 'doctor' AND specialty = $1
		`, oldName, name); err != nil {
			return nil, fmt.Errorf("sync doctor specialty: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	_ = s.writeAudit(ctx, actorID, "specialty_updated", "specialty", fmt.Sprintf("%d", out.ID), map[string]any{
		"old_name": oldName,
		"name":     out.Name,
	})
	return &out, nil
}

func (s *Service) DeleteSpecialty(ctx context.Context, actorID, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}

	var name string
	if err := s.db.QueryRowContext(ctx, `
		SELECT name FROM specialties WHERE id = $1
	`, id).Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("load specialty: %w", err)
	}

	var doctorCount int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM users WHERE role = 'doctor' AND specialty = $1
	`, name).Scan(&doctorCount); err != nil {
		return fmt.Errorf("count doctor references: %w", err)
	}
	if doctorCount > 0 {
		return errors.New("specialty is still used by doctors")
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM specialties WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete specialty: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}

	_ = s.writeAudit(ctx, actorID, "specialty_deleted", "specialty", fmt.Sprintf("%d", id), map[string]any{
		"name": name,
	})
	return nil
}

// ListDirectory returns the doctor directory, optionally filtered by specialty.
func (s *Service) ListDirectory(ctx context.Context, specialty string, activeOnly bool) ([]DirectoryEntry, error) {
	query := `
		SELECT id, full_name, COALESCE(email,''), COALESCE(specialty,''), COALESCE(license_number,''), is_active
		FROM users
		WHERE role = 'doctor'
			AND ($1 = '' OR specialty = $1)
	`
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY full_name ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, strings.TrimSpace(specialty))
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}
	defer rows.Close()

	out := make([]DirectoryEntry, 0)
	for rows.Next() {
		var it DirectoryEntry
		if err := rows.Scan(&it.ID, &it.FullName, &it.Email, &it.Specialty, &it.LicenseNumber, &it.IsActive); err != nil {
			return nil, fmt.Errorf("scan directory entry: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate directory: %w", err)
	}
	return out, nil
}

// ImportDoctorsCSV ingests a doctor directory file. Each row is imported in
// its own transaction so one bad row never rolls back the rest.
func (s *Service) ImportDoctorsCSV(ctx context.Context, actorID int64, r io.Reader) (*ImportDoctorsReport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		n := normalizeHeader(h)
		if n != "" {
			index[n] = i
		}
	}

	required := []string{"full_name", "email", "password", "specialty"}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	report := &ImportDoctorsReport{Errors: make([]ImportRowError, 0)}
	rowNo := 1
	for {
		rowNo++
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.TotalRows++
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: fmt.Sprintf("csv parse error: %v", err)})
			continue
		}

		report.TotalRows++
		if isRowEmpty(rec) {
			continue
		}

		row := map[string]string{
			"full_name":      cell(rec, index, "full_name"),
			"email":          strings.ToLower(cell(rec, index, "email")),
			"password":       cell(rec, index, "password"),
			"specialty":      cell(rec, index, "specialty"),
			"license_number": cell(rec, index, "license_number"),
		}

		if err := validateImportRow(row); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}

		if err := s.importDoctorRow(ctx, row); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}
		report.SuccessRows++
	}

	_ = s.writeAudit(ctx, actorID, "doctors_import_csv", "doctor_import", "csv", map[string]any{
		"total_rows":   report.TotalRows,
		"success_rows": report.SuccessRows,
		"failed_rows":  report.FailedRows,
	})

	return report, nil
}

func (s *Service) importDoctorRow(ctx context.Context, row map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := getOrCreateSpecialtyTx(ctx, tx, row["specialty"]); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(row["password"]), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	username := usernameFromEmail(row["email"])

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email) = $1)
	`, row["email"]).Scan(&exists); err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if exists {
		return fmt.Errorf("email already registered: %s", row["email"])
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (
			username, password_hash, full_name, role, is_active,
			email, specialty, license_number, account_status, approved_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, 'doctor', TRUE,
			$4, $5, NULLIF($6,''), 'active', now(), now(), now()
		)
	`, username, string(hash), row["full_name"], row["email"], row["specialty"], row["license_number"])
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func getOrCreateSpecialtyTx(ctx context.Context, tx *sql.Tx, name string) error {
	var id int64
	err := tx.QueryRowContext(ctx, `
		SELECT id
		FROM specialties
		WHERE LOWER(name) = LOWER($1)
		LIMIT 1
	`, name).Scan(&id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup specialty: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO specialties (name, is_active, created_at, updated_at)
		VALUES ($1, TRUE, now(), now())
	`, name); err != nil {
		return fmt.Errorf("insert specialty: %w", err)
	}
	return nil
}

func (s *Service) writeAudit(ctx context.Context, userID int64, action, entityType, entityID string, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, now())
	`, userID, action, entityType, entityID, string(b))
	return err
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, "-", "_")
	h = strings.ReplaceAll(h, " ", "_")
	return h
}

func cell(rec []string, idx map[string]int, key string) string {
	i, ok := idx[key]
	if !ok || i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func usernameFromEmail(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		local = email[:at]
	}
	return strings.ToLower(strings.TrimSpace(local))
}

func validateImportRow(row map[string]string) error {
	if row["full_name"] == "" {
		return errors.New("full_name is required")
	}
	if row["email"] == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(row["email"]); err != nil {
		return errors.New("invalid email format")
	}
	if len(row["password"]) < 8 {
		return errors.New("password minimum length is 8")
	}
	if row["specialty"] == "" {
		return errors.New("specialty is required")
	}
	return nil
}

func isRowEmpty(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
