package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/itf-gmbh/phone-agent/internal/http/handlers"
	httpmiddleware "github.com/itf-gmbh/phone-agent/internal/http/middleware"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger  *logging.Logger
	Health  *handlers.HealthHandler
	Control *handlers.ControlHandler
	Tasks   *handlers.TaskHandler

	Webhooks *handlers.WebhookHandler

	// MediaHandler terminates the PBX audio websocket.
	MediaHandler http.HandlerFunc
	MediaToken   string

	MetricsHandler http.Handler

	AdminAuthSecret    string
	CORSAllowedOrigins []string

	// WebhookRateLimit caps requests/sec per provider and caller on the
	// public webhook endpoints. Zero disables limiting.
	WebhookRateLimit float64
	WebhookBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks, PBX media)
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/health", cfg.Health.Check)
		}
		if cfg.Webhooks != nil {
			public.Route("/webhooks", func(r chi.Router) {
				if cfg.WebhookRateLimit > 0 {
					r.Use(httpmiddleware.WebhookRateLimit(cfg.WebhookRateLimit, cfg.WebhookBurst))
				}
				r.Post("/twilio/sms-status", cfg.Webhooks.HandleTwilioStatus)
				r.Post("/sendgrid/events", cfg.Webhooks.HandleSendGridEvents)
			})
		}
		if cfg.MediaHandler != nil {
			public.With(requireMediaToken(cfg.MediaToken)).Get("/media", cfg.MediaHandler)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Operator surface (protected by an HMAC-signed JWT)
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.Control != nil {
				admin.Route("/campaigns", func(r chi.Router) {
					r.Post("/reminders", cfg.Control.StartReminderCampaign)
					r.Get("/reminders/stats", cfg.Control.ReminderStats)
					r.Delete("/reminders", cfg.Control.CancelReminderCampaign)
					r.Route("/recalls/{campaignID}", func(r chi.Router) {
						r.Post("/start", cfg.Control.StartRecallCalling)
						r.Post("/pause", cfg.Control.PauseRecall)
						r.Post("/resume", cfg.Control.ResumeRecall)
						r.Get("/stats", cfg.Control.RecallStats)
					})
					r.Post("/no-shows/process", cfg.Control.ProcessNoShows)
				})
				admin.Route("/dialer", func(r chi.Router) {
					r.Get("/queue", cfg.Control.CallQueue)
					r.Delete("/queue", cfg.Control.ClearCallQueue)
					r.Delete("/queue/{callID}", cfg.Control.CancelQueuedCall)
					r.Post("/pause", cfg.Control.PauseDialer)
					r.Post("/resume", cfg.Control.ResumeDialer)
				})
			}
			if cfg.Tasks != nil {
				admin.With(requireTenantID).Post("/tasks/sweep-stale", cfg.Tasks.SweepStale)
			}
		})
	}

	return r
}
