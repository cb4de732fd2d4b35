/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in the request log
  2. Logging:    One zap line per request (logging.Middleware)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the operator portal

ROUTE GROUPS:
  /api/health           Liveness
  /api/plans/*          Plans and their coverage tables
  /api/procedures/*     Procedure catalog
  /api/pets/*           Pets, memberships, claim history, usage
  /api/claims/*         Evaluation and submission
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/benefit-engine/logging"
)

// RouterOptions configures cross-cutting middleware.
type RouterOptions struct {
	Log         *zap.Logger
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Plan routes
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.CreatePlan)
			r.Get("/{id}", h.GetPlan)
			r.Get("/{id}/coverage", h.ListCoverage)
			r.Put("/{id}/coverage/{procedureID}", h.PutCoverage)
		})

		// Procedure routes
		r.Route("/procedures", func(r chi.Router) {
			r.Get("/", h.ListProcedures)
			r.Post("/", h.CreateProcedure)
		})

		// Pet routes
		r.Route("/pets", func(r chi.Router) {
			r.Post("/", h.CreatePet)
			r.Get("/{id}", h.GetPet)
			r.Post("/{id}/memberships", h.CreateMembership)
			r.Get("/{id}/memberships", h.ListMemberships)
			r.Get("/{id}/claims", h.ListPetClaims)
			r.Get("/{id}/usage", h.GetUsage)
		})

		// Claim routes
		r.Route("/claims", func(r chi.Router) {
			r.Post("/", h.SubmitClaim)
			r.Post("/evaluate", h.EvaluateClaim)
			r.Get("/{id}", h.GetClaim)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
