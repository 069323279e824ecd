package auth

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

type DoctorImportRowError struct {
	Row   int    `json:"row"`
	Email string `json:"email,omitempty"`
	Error string `json:"error"`
}

type DoctorImportReport struct {
	TotalRows   int                    `json:"total_rows"`
	SuccessRows int                    `json:"success_rows"`
	FailedRows  int                    `json:"failed_rows"`
	Errors      []DoctorImportRowError `json:"errors"`
}

func (s *Service) ExportDoctorsExcel(ctx context.Context, q string) ([]byte, error) {
	items, err := s.ListUsers(ctx, RoleDoctor, q, 10000, 0)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"username", "email", "full_name", "specialty", "license_number", "is_active", "account_status", "created_at"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		row := i + 2
		email := ""
		if it.Email != nil {
			email = *it.Email
		}
		specialty := ""
		if it.Specialty != nil {
			specialty = strings.TrimSpace(*it.Specialty)
		}
		license := ""
		if it.LicenseNumber != nil {
			license = strings.TrimSpace(*it.LicenseNumber)
		}
		values := []any{
			it.Username,
			email,
			it.FullName,
			specialty,
			license,
			it.IsActive,
			it.AccountStatus,
			it.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "H", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportDoctorsExcel creates or updates doctor accounts from a
// spreadsheet. Rows are processed independently so one bad row does
// not abort the file.
func (s *Service) ImportDoctorsExcel(ctx context.Context, actorID int64, r io.Reader) (*DoctorImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open excel: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel sheet is empty")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, errors.New("no data rows found")
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	required := []string{"email", "full_name", "specialty"}
	for _, col := range required {
		if _, ok := header[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	report := &DoctorImportReport{Errors: make([]DoctorImportRowError, 0)}
	for i := 1; i < len(rows); i++ {
		rowNo := i + 1
		row := rows[i]
		report.TotalRows++

		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		email := strings.ToLower(get("email"))
		fullName := get("full_name")
		specialty := get("specialty")
		license := get("license_number")
		password := get("password")
		activeRaw := strings.ToLower(get("is_active"))

		if email == "" || fullName == "" || specialty == "" {
			report.FailedRows++
			report.Errors = append(report.Errors, DoctorImportRowError{
				Row:   rowNo,
				Email: email,
				Error: "email/full_name/specialty are required",
			})
			continue
		}
		if _, err := mail.ParseAddress(email); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, DoctorImportRowError{
				Row:   rowNo,
				Email: email,
				Error: "invalid email",
			})
			continue
		}

		var userID int64
		err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&userID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			report.FailedRows++
			report.Errors = append(report.Errors, DoctorImportRowError{
				Row:   rowNo,
				Email: email,
				Error: "failed to check existing user",
			})
			continue
		}

		if userID == 0 {
			if len(strings.TrimSpace(password)) < 8 {
				report.FailedRows++
				report.Errors = append(report.Errors, DoctorImportRowError{
					Row:   rowNo,
					Email: email,
					Error: "password of at least 8 characters is required for new doctors",
				})
				continue
			}
			created, err := s.CreateUser(ctx, actorID, CreateUserInput{
				Username:      emailLocalUsername(email),
				Email:         email,
				Password:      password,
				FullName:      fullName,
				Role:          RoleDoctor,
				Specialty:     specialty,
				LicenseNumber: license,
			})
			if err != nil {
				report.FailedRows++
				report.Errors = append(report.Errors, DoctorImportRowError{
					Row:   rowNo,
					Email: email,
					Error: err.Error(),
				})
				continue
			}
			userID = created.ID
		} else {
			if _, err := s.UpdateUser(ctx, actorID, userID, UpdateUserInput{
				FullName:      fullName,
				Email:         email,
				Role:          RoleDoctor,
				Password:      password,
				Specialty:     specialty,
				LicenseNumber: license,
			}); err != nil {
				report.FailedRows++
				report.Errors = append(report.Errors, DoctorImportRowError{
					Row:   rowNo,
					Email: email,
					Error: err.Error(),
				})
				continue
			}
		}

		if activeRaw != "" {
			if !parseBoolLoose(activeRaw) {
				_ = s.DeactivateUser(ctx, actorID, userID)
			}
		}

		report.SuccessRows++
	}

	return report, nil
}

func emailLocalUsername(email string) string {
	local := strings.Split(email, "@")[0]
	u := normalizeUsername(local)
	if u == "" {
		return "doctor"
	}
	return u
}

func parseBoolLoose(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return true
	}
	switch v {
	case "1", "true", "yes", "active":
		return true
	case "0", "false", "no", "inactive":
		return false
	default:
		if n, err := strconv.Atoi(v); err == nil {
			return n != 0
		}
		return true
	}
}

func (h *Handler) ExportDoctors(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.ExportDoctorsExcel(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{OK: false, Error: "export failed"})
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="doctors.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) ImportDoctors(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid multipart form"})
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{OK: false, Error: "file field is required"})
		return
	}
	defer file.Close()

	report, err := h.svc.ImportDoctorsExcel(r.Context(), user.ID, file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{OK: true, Data: map[string]any{
		"filename": hdr.Filename,
		"report":   report,
	}})
}
