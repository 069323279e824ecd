package app

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suryakumar124/Med-survey-diff-sub001/internal/app/observability"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/assistant"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/auth"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/masterdata"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/redemption"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/report"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/response"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/survey"
)

// NewRouter wires every HTTP surface. The returned cleanup stops the
// response runtime's checkpoint writer and must run on shutdown.
func NewRouter(cfg Config, db *sql.DB) (http.Handler, func()) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)
	r.Use(IssueCSRFCookie)

	authLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	mailer := auth.NewSMTPMailer(auth.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	})

	authSvc := auth.NewService(db, auth.ServiceConfig{Mailer: mailer})
	authHandler := auth.NewHandler(authSvc)

	surveySvc := survey.NewService(db)
	surveyHandler := survey.NewHandler(surveySvc)

	responseSvc := response.NewService(db, surveySvc, response.Config{
		HopMultiplier:       cfg.TraversalHopMultiplier,
		CheckpointQueueSize: cfg.CheckpointQueueSize,
	})
	responseHandler := response.NewHandler(responseSvc)

	redemptionSvc := redemption.NewService(db)
	redemptionHandler := redemption.NewHandler(redemptionSvc)

	masterSvc := masterdata.NewService(db)
	masterHandler := masterdata.NewHandler(masterSvc)

	reportHandler := report.NewHandler(report.NewService(db))

	assistantSvc := assistant.NewService(assistant.ServiceConfig{
		GeminiAPIKey: cfg.GeminiAPIKey,
		GeminiModel:  cfg.GeminiModel,
	})
	assistantHandler := assistant.NewHandler(assistantSvc)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/debug/requests", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))

		api.With(RateLimitMiddleware(authLimiter)).Post("/auth/login", authHandler.Login)
		api.With(RateLimitMiddleware(authLimiter)).Post("/assistant/reply", assistantHandler.Reply)

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)

			// Survey design surface for clients; admins pass the same
			// ownership checks.
			secure.Group(func(design chi.Router) {
				design.Use(authHandler.RequireRoles(auth.RoleClient, auth.RoleAdmin))
				design.Post("/surveys", surveyHandler.Create)
				design.Get("/surveys", surveyHandler.List)
				design.Get("/surveys/{id}", surveyHandler.Get)
				design.Put("/surveys/{id}", surveyHandler.Update)
				design.Post("/surveys/{id}/publish", surveyHandler.Publish)
				design.Post("/surveys/{id}/archive", surveyHandler.Archive)

				design.Get("/surveys/{id}/questions", surveyHandler.ListQuestions)
				design.Post("/surveys/{id}/questions", surveyHandler.AddQuestion)
				design.Put("/surveys/{id}/questions/{questionID}", surveyHandler.UpdateQuestion)
				design.Delete("/surveys/{id}/questions/{questionID}", surveyHandler.DeleteQuestion)

				design.Get("/surveys/{id}/graph", surveyHandler.GetGraph)
				design.Put("/surveys/{id}/graph", surveyHandler.PutGraph)

				design.Post("/surveys/{id}/assignments", surveyHandler.AssignDoctors)

				design.Get("/surveys/{id}/report/summary", reportHandler.Summary)
				design.Get("/surveys/{id}/report/questions", reportHandler.Breakdowns)

				design.Get("/responses", responseHandler.ListResponses)
				design.Get("/responses/{id}/answers", responseHandler.GetResponseAnswers)
			})

			// Respondent surface.
			secure.Group(func(doctor chi.Router) {
				doctor.Use(authHandler.RequireRoles(auth.RoleDoctor))
				doctor.Get("/assigned-surveys", surveyHandler.ListAssigned)
				doctor.Post("/sessions", responseHandler.Start)
				doctor.Get("/sessions/{sessionID}", responseHandler.Current)
				doctor.Post("/sessions/{sessionID}/answer", responseHandler.Answer)
				doctor.Post("/sessions/{sessionID}/back", responseHandler.Back)
				doctor.Post("/sessions/{sessionID}/finalize", responseHandler.Finalize)

				doctor.Get("/redemptions/balance", redemptionHandler.GetBalance)
				doctor.Get("/redemptions/preview", redemptionHandler.Preview)
				doctor.Post("/redemptions", redemptionHandler.Submit)
				doctor.Get("/redemptions", redemptionHandler.List)
			})

			secure.Group(func(rep chi.Router) {
				rep.Use(authHandler.RequireRoles(auth.RoleRepresentative))
				rep.Post("/registrations", authHandler.CreateDoctorRegistration)
				rep.Post("/directory/doctors/import", masterHandler.ImportDoctorsCSV)
			})

			secure.Get("/specialties", masterHandler.ListSpecialties)
			secure.Get("/directory/doctors", masterHandler.ListDirectory)

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles(auth.RoleAdmin))
				admin.Get("/admin/registrations", authHandler.ListRegistrations)
				admin.Post("/admin/registrations/{id}/approve", authHandler.ApproveRegistration)
				admin.Post("/admin/registrations/{id}/reject", authHandler.RejectRegistration)

				admin.Get("/admin/users", authHandler.ListUsers)
				admin.Post("/admin/users", authHandler.CreateUser)
				admin.Put("/admin/users/{id}", authHandler.UpdateUser)
				admin.Delete("/admin/users/{id}", authHandler.DeactivateUser)

				admin.Get("/admin/doctors/export", authHandler.ExportDoctors)
				admin.Post("/admin/doctors/import", authHandler.ImportDoctors)

				admin.Post("/admin/specialties", masterHandler.CreateSpecialty)
				admin.Put("/admin/specialties/{id}", masterHandler.UpdateSpecialty)
				admin.Delete("/admin/specialties/{id}", masterHandler.DeleteSpecialty)

				admin.Get("/admin/redemptions", redemptionHandler.List)
				admin.Post("/admin/redemptions/process", redemptionHandler.ProcessPending)
			})
		})
	})

	return r, responseSvc.Close
}
