package handlers

import (
	"net/http"

	customMiddleware "anonfeedback-backend/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Rounds    *RoundHandler
	Attempts  *AttemptHandler
	Views     *ViewHandler
	Webhook   *WebhookHandler // nil unless the widget provider is in use
	JWTSecret string
	Metrics   http.Handler
	Logger    *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.RequestLogger(cfg.Logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Secret"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"anonfeedback-backend"}`))
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/rounds", cfg.Rounds.CreateRound)
		r.Get("/rounds/{roundID}", cfg.Rounds.GetRound)
		r.Post("/rounds/{roundID}/attempts", cfg.Attempts.StartAttempt)

		if cfg.Webhook != nil {
			r.Post("/payments/widget/events", cfg.Webhook.WidgetEvent)
		}

		// Attempt routes (attempt token required)
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.AttemptAuth(cfg.JWTSecret))

			r.Get("/attempts/me", cfg.Attempts.GetAttempt)
			r.Put("/attempts/me/text", cfg.Attempts.UpdateText)
			r.Post("/attempts/me/submit", cfg.Attempts.Submit)
			r.Get("/attempts/me/wallet/challenge", cfg.Attempts.WalletChallenge)
			r.Post("/attempts/me/wallet", cfg.Attempts.ConnectWallet)
			r.Post("/attempts/me/payment", cfg.Attempts.Pay)
			r.Post("/attempts/me/payment/tx", cfg.Attempts.ReportTransaction)
			r.Post("/attempts/me/retry", cfg.Attempts.Retry)
		})
	})

	// Views: the path decides between the create-round and respond pages
	r.Post("/", cfg.Views.CreateFromForm)
	r.Get("/", cfg.Views.Show)
	r.Get("/*", cfg.Views.Show)

	return r
}
