package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clinicdesk/appointment-booking/internal/auth"
	"github.com/clinicdesk/appointment-booking/internal/booking"
)

type RouterConfig struct {
	Service  *booking.Service
	Verifier *auth.Verifier
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Log      *zap.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Everything below requires a verified actor. Role gates live here;
	// ownership is the booking core's job.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Verifier))

		r.Get("/doctors", listDoctorsHandler(cfg.Service))
		r.Get("/doctors/{id}", getDoctorHandler(cfg.Service))

		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))

		r.Group(func(r chi.Router) {
			r.Use(RequireRoles(booking.RolePatient))
			r.Post("/appointments", createAppointmentHandler(cfg.Service))
			r.Get("/appointments/patient", listByPatientHandler(cfg.Service))
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireRoles(booking.RolePatient, booking.RoleManager, booking.RoleAdministrator))
			r.Put("/appointments/{id}", updateAppointmentHandler(cfg.Service))
			r.Delete("/appointments/{id}", deleteAppointmentHandler(cfg.Service))
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireRoles(booking.RoleManager, booking.RoleAdministrator))
			r.Get("/appointments/doctor/{doctorID}", listByDoctorHandler(cfg.Service))
		})
	})

	return r
}
