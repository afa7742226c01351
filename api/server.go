/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. Logger:        Request logging
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the mobile/web clients
  5. WithPrincipal: Identity header extraction (every /api route)

ROUTE GROUPS:
  /api/users/*          Users, points, inboxes
  /api/screenings/*     Screening records and reporting
  /api/workers/*        Health worker directory
  /api/access-points/*  Service locations and hours
  /api/assignments/*    Peer navigation
  /api/rewards/*        Catalog and redemption
  /api/achievements/*   Gamification
  /api/templates, /api/notify, /api/messages

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID", "X-User-Role"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(WithPrincipal)

		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
			r.Delete("/{id}", h.DeleteUser)
			r.Get("/{id}/points", h.GetPoints)
			r.Post("/{id}/points/credit", h.CreditPoints)
			r.Get("/{id}/points/history", h.PointsHistory)
			r.Get("/{id}/notifications", h.ListUserNotifications)
			r.Get("/{id}/notifications/count", h.UnreadCount)
			r.Post("/{id}/notifications/clear", h.ClearNotifications)
			r.Get("/{id}/redemptions", h.ListRedemptions)
		})

		r.Post("/notifications/{id}/read", h.MarkNotificationRead)

		// Screening routes
		r.Route("/screenings", func(r chi.Router) {
			r.Get("/", h.ListScreenings)
			r.Post("/", h.CreateScreening)
			r.Get("/abnormal", h.AbnormalScreenings)
			r.Get("/statistics", h.ScreeningStatistics)
			r.Get("/{id}", h.GetScreening)
			r.Put("/{id}", h.UpdateScreening)
			r.Delete("/{id}", h.DeleteScreening)
			r.Post("/{id}/follow-up", h.ScheduleFollowUp)
		})
		r.Get("/patients/{id}/screenings", h.PatientScreenings)

		// Directory routes
		r.Route("/workers", func(r chi.Router) {
			r.Get("/", h.ListWorkers)
			r.Put("/availability", h.UpdateAvailability)
		})
		r.Route("/access-points", func(r chi.Router) {
			r.Get("/", h.ListAccessPoints)
			r.Post("/", h.CreateAccessPoint)
			r.Get("/{id}", h.GetAccessPoint)
			r.Get("/{id}/open", h.AccessPointOpen)
		})

		// Peer navigation routes
		r.Route("/assignments", func(r chi.Router) {
			r.Get("/", h.ListAssignments)
			r.Post("/", h.CreateAssignment)
			r.Get("/{id}", h.GetAssignment)
			r.Post("/{id}/complete", h.CompleteAssignment)
			r.Get("/{id}/sessions", h.ListSessions)
			r.Post("/{id}/sessions", h.RecordSession)
		})

		// Reward routes
		r.Route("/rewards", func(r chi.Router) {
			r.Get("/", h.ListRewardItems)
			r.Post("/", h.CreateRewardItem)
			r.Post("/{id}/redeem", h.Redeem)
		})
		r.Post("/redemptions/{id}/use", h.UseRedemption)

		// Achievement routes
		r.Route("/achievements", func(r chi.Router) {
			r.Get("/", h.ListAchievements)
			r.Post("/", h.CreateAchievement)
			r.Post("/{id}/unlock", h.Unlock)
		})

		// Notification dispatch routes
		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.SaveTemplate)
		})
		r.Post("/notify", h.Notify)

		// Messaging routes
		r.Route("/messages", func(r chi.Router) {
			r.Post("/", h.SendMessage)
			r.Get("/conversation", h.Conversation)
			r.Post("/{id}/read", h.MarkMessageRead)
		})
	})

	return r
}
