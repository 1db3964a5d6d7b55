package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"medsconnect/internal/auth"
	"medsconnect/internal/caregiver"
	"medsconnect/internal/config"
	"medsconnect/internal/doselog"
	"medsconnect/internal/http/handler"
	mw "medsconnect/internal/http/middleware"
	"medsconnect/internal/medication"
)

type Deps struct {
	Config     config.Config
	Auth       *auth.Service
	Registry   *medication.Registry
	Engine     *doselog.Engine
	Caregivers *caregiver.Service
	Log        *zap.Logger
	Now        func() time.Time
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.RequestLog(d.Log))
	r.Use(chimw.Recoverer)

	if len(d.Config.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(d.Config.CORSAllowedOrigins, d.Config.CORSAllowCredentials))
	}

	loc := d.Config.Location
	if loc == nil {
		loc = time.Local
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	requireAuth := auth.RequireAuth(d.Auth)

	ah := &handler.AuthHandler{Svc: d.Auth, Log: d.Log}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)
	r.With(requireAuth).Post("/auth/logout", ah.Logout)

	me := &handler.MeHandler{Svc: d.Auth, Log: d.Log}
	r.With(requireAuth).Get("/me", me.Me)
	r.With(requireAuth).Delete("/me", me.Delete)

	medH := &handler.MedicationHandler{Registry: d.Registry, Logs: d.Engine, Log: d.Log, Loc: loc, Now: now}
	r.Route("/medications", func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/", medH.List)
		r.Post("/", medH.Create)
		r.Get("/due", medH.Due)

		r.Get("/{id}", medH.Get)
		r.Put("/{id}", medH.Update)
		r.Delete("/{id}", medH.Delete)
		r.Get("/{id}/logs", medH.History)
	})

	logH := &handler.LogHandler{Engine: d.Engine, Log: d.Log, Loc: loc, Now: now}
	r.Route("/logs", func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/", logH.ListDay)
		r.Post("/generate", logH.Generate)
		r.Get("/summary", logH.Summary)
		r.Get("/adherence", logH.Adherence)

		r.Post("/{id}/taken", logH.Mark(doselog.StatusTaken))
		r.Post("/{id}/missed", logH.Mark(doselog.StatusMissed))
		r.Post("/{id}/skipped", logH.Mark(doselog.StatusSkipped))
	})

	cgH := &handler.CaregiverHandler{Svc: d.Caregivers, Log: d.Log}
	r.Route("/caregivers", func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/", cgH.ListCaregivers)
		r.Get("/patients", cgH.ListPatients)
		r.Get("/pending", cgH.ListPending)
		r.Post("/requests", cgH.SendRequest)

		r.Post("/{id}/approve", cgH.Approve)
		r.Post("/{id}/reject", cgH.Reject)
		r.Delete("/{id}", cgH.Remove)
		r.Put("/{id}/permissions", cgH.UpdatePermissions)
	})

	ptH := &handler.PatientHandler{
		Caregivers: d.Caregivers,
		Registry:   d.Registry,
		Engine:     d.Engine,
		Log:        d.Log,
		Loc:        loc,
		Now:        now,
	}
	r.Route("/patients/{id}", func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/medications", ptH.Medications)
		r.Get("/logs", ptH.Logs)
		r.Get("/adherence", ptH.Adherence)

		r.Post("/logs/{logID}/taken", ptH.Mark(doselog.StatusTaken))
		r.Post("/logs/{logID}/missed", ptH.Mark(doselog.StatusMissed))
		r.Post("/logs/{logID}/skipped", ptH.Mark(doselog.StatusSkipped))
	})

	return r
}
