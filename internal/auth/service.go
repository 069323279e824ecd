package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrRegistrationState    = errors.New("registration is not pending")
	ErrRateLimited          = errors.New("too many requests")
	ErrUserNotFound         = errors.New("user not found")
)

const (
	RoleAdmin          = "admin"
	RoleClient         = "client"
	RoleDoctor         = "doctor"
	RoleRepresentative = "representative"
)

type Service struct {
	db                *sql.DB
	sessionTTL        time.Duration
	bcryptCost        int
	loginMaxFailures  int
	loginLockDuration time.Duration
	mailer            Mailer
}

type ServiceConfig struct {
	SessionTTL        time.Duration
	BcryptCost        int
	LoginMaxFailures  int
	LoginLockDuration time.Duration
	Mailer            Mailer
}

type User struct {
	ID            int64      `json:"id"`
	Username      string     `json:"username"`
	Email         *string    `json:"email,omitempty"`
	FullName      string     `json:"full_name"`
	Role          string     `json:"role"`
	AccountStatus string     `json:"account_status"`
	Specialty     *string    `json:"specialty,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
}

// DoctorRegistrationInput is submitted by a representative onboarding
// a doctor into the panel.
type DoctorRegistrationInput struct {
	Email            string
	Password         string
	FullName         string
	Phone            string
	Specialty        string
	LicenseNumber    string
	RepresentativeID int64
}

type RegistrationRecord struct {
	ID               int64      `json:"id"`
	Email            string     `json:"email"`
	FullName         string     `json:"full_name"`
	Phone            *string    `json:"phone,omitempty"`
	Specialty        string     `json:"specialty"`
	LicenseNumber    *string    `json:"license_number,omitempty"`
	RepresentativeID int64      `json:"representative_id"`
	Status           string     `json:"status"`
	ReviewNote       *string    `json:"review_note,omitempty"`
	ReviewedBy       *int64     `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

type UserRecord struct {
	ID               int64      `json:"id"`
	Username         string     `json:"username"`
	Email            *string    `json:"email,omitempty"`
	FullName         string     `json:"full_name"`
	Role             string     `json:"role"`
	Specialty        *string    `json:"specialty,omitempty"`
	LicenseNumber    *string    `json:"license_number,omitempty"`
	RepresentativeID *int64     `json:"representative_id,omitempty"`
	IsActive         bool       `json:"is_active"`
	AccountStatus    string     `json:"account_status"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

type CreateUserInput struct {
	Username         string
	Email            string
	Password         string
	FullName         string
	Role             string
	Specialty        string
	LicenseNumber    string
	RepresentativeID *int64
}

type UpdateUserInput struct {
	FullName         string
	Email            string
	Role             string
	Password         string
	Specialty        string
	LicenseNumber    string
	RepresentativeID *int64
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.LoginMaxFailures <= 0 {
		cfg.LoginMaxFailures = 5
	}
	if cfg.LoginLockDuration <= 0 {
		cfg.LoginLockDuration = 15 * time.Minute
	}

	return &Service{
		db:                db,
		sessionTTL:        cfg.SessionTTL,
		bcryptCost:        cfg.BcryptCost,
		loginMaxFailures:  cfg.LoginMaxFailures,
		loginLockDuration: cfg.LoginLockDuration,
		mailer:            cfg.Mailer,
	}
}

func (s *Service) AuthenticatePassword(ctx context.Context, identifier, password string) (*User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	guardKey := normalizeGuardKey(identifier)
	locked, _, err := s.isGuardLocked(ctx, "password_login", guardKey)
	if err != nil {
		return nil, fmt.Errorf("check login guard: %w", err)
	}
	if locked {
		return nil, ErrRateLimited
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, role, account_status, specialty, approved_at, password_hash
		FROM users
		WHERE username = $1 OR email = $1
		LIMIT 1
	`, identifier)

	var u User
	var email sql.NullString
	var specialty sql.NullString
	var approvedAt sql.NullTime
	var passwordHash string
	if err := row.Scan(&u.ID, &u.Username, &email, &u.FullName, &u.Role, &u.AccountStatus, &specialty, &approvedAt, &passwordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = s.registerFailure(ctx, "password_login", guardKey)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if email.Valid {
		u.Email = &email.String
	}
	if specialty.Valid {
		u.Specialty = &specialty.String
	}
	if approvedAt.Valid {
		u.ApprovedAt = &approvedAt.Time
	}

	if u.AccountStatus != "active" {
		_ = s.registerFailure(ctx, "password_login", guardKey)
		return nil, ErrForbidden
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		_ = s.registerFailure(ctx, "password_login", guardKey)
		return nil, ErrInvalidCredentials
	}

	_ = s.clearGuard(ctx, "password_login", guardKey)
	return &u, nil
}

func (s *Service) CreateDoctorRegistration(ctx context.Context, in DoctorRegistrationInput) (int64, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FullName = strings.TrimSpace(in.FullName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Specialty = strings.TrimSpace(in.Specialty)
	in.LicenseNumber = strings.TrimSpace(in.LicenseNumber)

	if _, err := mail.ParseAddress(in.Email); err != nil {
		return 0, errors.New("invalid email")
	}
	if len(in.Password) < 8 {
		return 0, errors.New("password must be at least 8 characters")
	}
	if in.FullName == "" {
		return 0, errors.New("full_name is required")
	}
	if in.Specialty == "" {
		return 0, errors.New("specialty is required")
	}
	if in.RepresentativeID <= 0 {
		return 0, errors.New("representative_id is required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO doctor_registrations (
			email,
			password_hash,
			full_name,
			phone,
			specialty,
			license_number,
			representative_id,
			status,
			created_at,
			updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,'pending',now(),now()
		)
		RETURNING id
	`, in.Email, string(passwordHash), in.FullName, nullableString(in.Phone), in.Specialty, nullableString(in.LicenseNumber), in.RepresentativeID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert registration: %w", err)
	}
	return id, nil
}

func (s *Service) ListRegistrations(ctx context.Context, status string, limit, offset int) ([]RegistrationRecord, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", "pending", "approved", "rejected":
	default:
		return nil, errors.New("invalid status filter")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, full_name, phone, specialty, license_number, representative_id,
			status, review_note, reviewed_by, reviewed_at, created_at
		FROM doctor_registrations
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
		OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	out := make([]RegistrationRecord, 0, limit)
	for rows.Next() {
		var r RegistrationRecord
		var phone, license, reviewNote sql.NullString
		var reviewedBy sql.NullInt64
		var reviewedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Email, &r.FullName, &phone, &r.Specialty, &license, &r.RepresentativeID, &r.Status, &reviewNote, &reviewedBy, &reviewedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		if phone.Valid {
			r.Phone = &phone.String
		}
		if license.Valid {
			r.LicenseNumber = &license.String
		}
		if reviewNote.Valid {
			r.ReviewNote = &reviewNote.String
		}
		if reviewedBy.Valid {
			r.ReviewedBy = &reviewedBy.Int64
		}
		if reviewedAt.Valid {
			r.ReviewedAt = &reviewedAt.Time
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	return out, nil
}

func (s *Service) ApproveRegistration(ctx context.Context, registrationID, reviewerID int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, email, password_hash, full_name, specialty, license_number, representative_id, status
		FROM doctor_registrations
		WHERE id = $1
		FOR UPDATE
	`, registrationID)

	var id, repID int64
	var email, passwordHash, fullName, specialty, status string
	var license sql.NullString
	if err := row.Scan(&id, &email, &passwordHash, &fullName, &specialty, &license, &repID, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrRegistrationNotFound
		}
		return 0, fmt.Errorf("load registration: %w", err)
	}
	if status != "pending" {
		return 0, ErrRegistrationState
	}

	var userID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email = $1 LIMIT 1`, email).Scan(&userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup user email: %w", err)
	}

	if userID == 0 {
		username, err := s.nextUsernameTx(ctx, tx, email)
		if err != nil {
			return 0, err
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO users (
				username, password_hash, full_name, role, is_active,
				email, email_verified_at, account_status, specialty, license_number,
				representative_id, approved_by, approved_at, created_at, updated_at
			) VALUES (
				$1, $2, $3, 'doctor', TRUE,
				$4, now(), 'active', $5, $6,
				$7, $8, now(), now(), now()
			)
			RETURNING id
		`, username, passwordHash, fullName, email, specialty, license, repID, reviewerID).Scan(&userID)
		if err != nil {
			return 0, fmt.Errorf("insert approved doctor: %w", err)
		}
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE users
			SET full_name = COALESCE(NULLIF($1,''), full_name),
				password_hash = $2,
				role = 'doctor',
				is_active = TRUE,
				email_verified_at = COALESCE(email_verified_at, now()),
				account_status = 'active',
				specialty = $3,
				license_number = COALESCE($4, license_number),
				representative_id = $5,
				approved_by = $6,
				approved_at = now(),
				updated_at = now()
			WHERE id = $7
		`, fullName, passwordHash, specialty, license, repID, reviewerID, userID)
		if err != nil {
			return 0, fmt.Errorf("update approved doctor: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE doctor_registrations
		SET status = 'approved',
			review_note = 'approved',
			reviewed_by = $1,
			reviewed_at = now(),
			created_user_id = $2,
			updated_at = now()
		WHERE id = $3
	`, reviewerID, userID, registrationID)
	if err != nil {
		return 0, fmt.Errorf("update registration approved: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit approve: %w", err)
	}

	if s.mailer != nil {
		if err := s.mailer.SendWelcome(ctx, email, fullName); err != nil {
			log.Printf("smtp welcome send failed email=%s err=%v", email, err)
		}
	}
	return userID, nil
}

func (s *Service) RejectRegistration(ctx context.Context, registrationID, reviewerID int64, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		note = "rejected"
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE doctor_registrations
		SET status = 'rejected',
			review_note = $1,
			reviewed_by = $2,
			reviewed_at = now(),
			updated_at = now()
		WHERE id = $3
		  AND status = 'pending'
	`, note, reviewerID, registrationID)
	if err != nil {
		return fmt.Errorf("reject registration: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrRegistrationState
	}
	return nil
}

func (s *Service) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	tokenHash := hashToken(token)
	expiresAt := time.Now().Add(s.sessionTTL)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (
			user_id, session_token_hash, expires_at, ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4, $5, now()
		)
	`, userID, tokenHash, expiresAt, nullableString(ipAddress), nullableString(userAgent))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.full_name, u.role, u.account_status, u.specialty, u.approved_at
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.session_token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > now()
		LIMIT 1
	`, hashToken(token))

	var u User
	var email sql.NullString
	var specialty sql.NullString
	var approvedAt sql.NullTime
	if err := row.Scan(&u.ID, &u.Username, &email, &u.FullName, &u.Role, &u.AccountStatus, &specialty, &approvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("query session user: %w", err)
	}
	if email.Valid {
		u.Email = &email.String
	}
	if specialty.Valid {
		u.Specialty = &specialty.String
	}
	if approvedAt.Valid {
		u.ApprovedAt = &approvedAt.Time
	}
	if u.AccountStatus != "active" {
		return nil, ErrUnauthorized
	}
	return &u, nil
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = now()
		WHERE session_token_hash = $1
		  AND revoked_at IS NULL
	`, hashToken(token))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func isValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleClient, RoleDoctor, RoleRepresentative:
		return true
	default:
		return false
	}
}

func (s *Service) ListUsers(ctx context.Context, role, q string, limit, offset int) ([]UserRecord, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role != "" && !isValidRole(role) {
		return nil, errors.New("invalid role filter")
	}
	q = strings.TrimSpace(q)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, username, email, full_name, role,
			specialty, license_number, representative_id,
			is_active, account_status, approved_at, created_at
		FROM users
		WHERE ($1 = '' OR role = $1)
		  AND (
			$2 = ''
			OR username ILIKE '%' || $2 || '%'
			OR full_name ILIKE '%' || $2 || '%'
			OR COALESCE(email,'') ILIKE '%' || $2 || '%'
			OR COALESCE(specialty,'') ILIKE '%' || $2 || '%'
		  )
		ORDER BY created_at DESC, id DESC
		LIMIT $3
		OFFSET $4
	`, role, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]UserRecord, 0, limit)
	for rows.Next() {
		var it UserRecord
		var email, specialty, license sql.NullString
		var repID sql.NullInt64
		var approvedAt sql.NullTime
		if err := rows.Scan(&it.ID, &it.Username, &email, &it.FullName, &it.Role, &specialty, &license, &repID, &it.IsActive, &it.AccountStatus, &approvedAt, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if email.Valid {
			it.Email = &email.String
		}
		if specialty.Valid {
			it.Specialty = &specialty.String
		}
		if license.Valid {
			it.LicenseNumber = &license.String
		}
		if repID.Valid {
			it.RepresentativeID = &repID.Int64
		}
		if approvedAt.Valid {
			it.ApprovedAt = &approvedAt.Time
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (s *Service) CreateUser(ctx context.Context, actorID int64, in CreateUserInput) (*UserRecord, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.ToLower(strings.TrimSpace(in.Email))
	fullName := strings.TrimSpace(in.FullName)
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if username == "" || fullName == "" || !isValidRole(role) || len(strings.TrimSpace(in.Password)) < 8 {
		return nil, errors.New("username, full_name, role, and password(>=8) are required")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, errors.New("invalid email")
		}
	}
	if role == RoleDoctor && strings.TrimSpace(in.Specialty) == "" {
		return nil, errors.New("specialty is required for doctors")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var out UserRecord
	var emailNull, specialty, license sql.NullString
	var repID sql.NullInt64
	var approvedAt sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (
			username, password_hash, full_name, role, is_active,
			email, email_verified_at, account_status, specialty, license_number,
			representative_id, approved_by, approved_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, TRUE,
			NULLIF($5,''), CASE WHEN NULLIF($5,'') IS NOT NULL THEN now() ELSE NULL END,
			'active', NULLIF($6,''), NULLIF($7,''),
			$8, $9, now(), now(), now()
		)
		RETURNING id, username, email, full_name, role, specialty, license_number,
			representative_id, is_active, account_status, approved_at, created_at
	`, username, string(hash), fullName, role, email, strings.TrimSpace(in.Specialty), strings.TrimSpace(in.LicenseNumber), in.RepresentativeID, actorID).Scan(
		&out.ID, &out.Username, &emailNull, &out.FullName, &out.Role, &specialty, &license, &repID, &out.IsActive, &out.AccountStatus, &approvedAt, &out.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if emailNull.Valid {
		out.Email = &emailNull.String
	}
	if specialty.Valid {
		out.Specialty = &specialty.String
	}
	if license.Valid {
		out.LicenseNumber = &license.String
	}
	if repID.Valid {
		out.RepresentativeID = &repID.Int64
	}
	if approvedAt.Valid {
		out.ApprovedAt = &approvedAt.Time
	}
	return &out, nil
}

func (s *Service) UpdateUser(ctx context.Context, actorID, userID int64, in UpdateUserInput) (*UserRecord, error) {
	_ = actorID
	fullName := strings.TrimSpace(in.FullName)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if userID <= 0 || fullName == "" || !isValidRole(role) {
		return nil, errors.New("id, full_name, and valid role are required")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, errors.New("invalid email")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if strings.TrimSpace(in.Password) != "" {
		if len(strings.TrimSpace(in.Password)) < 8 {
			return nil, errors.New("password must be at least 8 characters")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE users
			SET password_hash = $2,
				updated_at = now()
			WHERE id = $1
		`, userID, string(hash)); err != nil {
			return nil, fmt.Errorf("update password: %w", err)
		}
	}

	var out UserRecord
	var emailNull, specialty, license sql.NullString
	var repID sql.NullInt64
	var approvedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		UPDATE users
		SET full_name = $2,
			role = $3,
			email = NULLIF($4,''),
			email_verified_at = CASE
				WHEN NULLIF($4,'') IS NOT NULL THEN COALESCE(email_verified_at, now())
				ELSE email_verified_at
			END,
			specialty = NULLIF($5,''),
			license_number = NULLIF($6,''),
			representative_id = $7,
			updated_at = now()
		WHERE id = $1
		RETURNING id, username, email, full_name, role, specialty, license_number,
			representative_id, is_active, account_status, approved_at, created_at
	`, userID, fullName, role, email, strings.TrimSpace(in.Specialty), strings.TrimSpace(in.LicenseNumber), in.RepresentativeID).Scan(
		&out.ID, &out.Username, &emailNull, &out.FullName, &out.Role, &specialty, &license, &repID, &out.IsActive, &out.AccountStatus, &approvedAt, &out.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	if emailNull.Valid {
		out.Email = &emailNull.String
	}
	if specialty.Valid {
		out.Specialty = &specialty.String
	}
	if license.Valid {
		out.LicenseNumber = &license.String
	}
	if repID.Valid {
		out.RepresentativeID = &repID.Int64
	}
	if approvedAt.Valid {
		out.ApprovedAt = &approvedAt.Time
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update user: %w", err)
	}
	return &out, nil
}

func (s *Service) DeactivateUser(ctx context.Context, actorID, userID int64) error {
	_ = actorID
	if userID <= 0 {
		return errors.New("invalid user id")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_active = FALSE,
			account_status = 'suspended',
			updated_at = now()
		WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) isGuardLocked(ctx context.Context, purpose, subjectKey string) (bool, time.Time, error) {
	var lockedUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT locked_until
		FROM auth_guard_states
		WHERE purpose = $1 AND subject_key = $2
	`, purpose, subjectKey).Scan(&lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	if !lockedUntil.Valid {
		return false, time.Time{}, nil
	}
	if time.Now().Before(lockedUntil.Time) {
		return true, lockedUntil.Time, nil
	}
	return false, lockedUntil.Time, nil
}

func (s *Service) registerFailure(ctx context.Context, purpose, subjectKey string) error {
	var failedCount int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO auth_guard_states (purpose, subject_key, failed_count, updated_at, created_at)
		VALUES ($1, $2, 1, now(), now())
		ON CONFLICT (purpose, subject_key)
		DO UPDATE SET
			failed_count = auth_guard_states.failed_count + 1,
			updated_at = now()
		RETURNING failed_count
	`, purpose, subjectKey).Scan(&failedCount)
	if err != nil {
		return err
	}

	if failedCount >= s.loginMaxFailures {
		_, err = s.db.ExecContext(ctx, `
			UPDATE auth_guard_states
			SET locked_until = now() + ($3 || ' seconds')::interval,
				failed_count = 0,
				updated_at = now()
			WHERE purpose = $1 AND subject_key = $2
		`, purpose, subjectKey, int(s.loginLockDuration.Seconds()))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) clearGuard(ctx context.Context, purpose, subjectKey string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM auth_guard_states
		WHERE purpose = $1 AND subject_key = $2
	`, purpose, subjectKey)
	return err
}

func (s *Service) nextUsernameTx(ctx context.Context, tx *sql.Tx, email string) (string, error) {
	local := strings.Split(email, "@")[0]
	base := normalizeUsername(local)
	if base == "" {
		base = "user"
	}

	candidate := base
	for i := 0; i < 20; i++ {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, candidate).Scan(&exists); err != nil {
			return "", fmt.Errorf("check username: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, i+1)
	}

	suffix, err := generateToken(3)
	if err != nil {
		return "", err
	}
	return base + suffix, nil
}

func normalizeUsername(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "._-")
}

func normalizeGuardKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func nullableString(s string) interface{} {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
