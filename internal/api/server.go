// internal/api/server.go
package api

import (
	"context"
	"log"
	"net/http"

	"upskill/internal/access"
	"upskill/internal/auth"
	"upskill/internal/catalog"
	"upskill/internal/checkout"
	"upskill/internal/dashboard"
	"upskill/internal/enrollment"
	"upskill/internal/ledger"
	"upskill/internal/membership"
	"upskill/internal/payments"
	"upskill/internal/respond"
	"upskill/internal/webhook"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the stores and secrets the HTTP surface is built from.
type Deps struct {
	Ledger  ledger.Ledger
	Index   enrollment.Index
	Courses catalog.Service
	Users   membership.Service

	Auth             *auth.Verifier
	PaymentVerifier  *webhook.Verifier
	IdentityVerifier *webhook.Verifier // nil reuses PaymentVerifier
	Payments         payments.Config

	CheckoutPerMinute int
	CORSOrigins       []string

	// Health reports backing store reachability; nil means always healthy.
	Health func(context.Context) error
}

// Server holds all the app components together.
type Server struct {
	Router   chi.Router
	Ingester *payments.Ingester
	health   func(context.Context) error
}

type route struct {
	method   string
	path     string
	handler  http.HandlerFunc
	policies []Policy
}

func NewServer(d Deps) *Server {
	gate := access.NewGate(d.Index)
	ingester := payments.NewIngester(d.Ledger, d.Index, d.PaymentVerifier, d.Payments)
	identityVerifier := d.IdentityVerifier
	if identityVerifier == nil {
		log.Printf("[api] WARNING: no identity webhook secret, identity webhook accepts payment provider signatures")
		identityVerifier = d.PaymentVerifier
	}

	catalogHandler := catalog.NewHandler(d.Courses, d.Users)
	accessHandler := access.NewHandler(gate, d.Courses, d.Users)
	checkoutHandler := checkout.NewHandler(checkout.NewService(d.Ledger, d.Index, d.Courses, d.CheckoutPerMinute))
	dashboardHandler := dashboard.NewHandler(dashboard.NewAggregator(d.Ledger, d.Index, d.Courses, d.Users))
	paymentsHandler := payments.NewHandler(ingester)
	identityHandler := membership.NewHandler(d.Users, identityVerifier)

	s := &Server{Router: chi.NewRouter(), Ingester: ingester, health: d.Health}
	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.Recoverer)

	cors := CORS(d.CORSOrigins)
	routes := []route{
		{http.MethodGet, "/healthz", s.handleHealth, nil},
		{http.MethodGet, "/course/all", catalogHandler.HandleListCourses, []Policy{cors}},
		{http.MethodGet, "/course/{id}", accessHandler.HandleGetCourse, []Policy{cors, OptionalAuth(d.Auth)}},
		{http.MethodPost, "/course/{id}/rating", accessHandler.HandleRateCourse, []Policy{cors, RequireAuth(d.Auth)}},
		{http.MethodPost, "/purchase", checkoutHandler.HandlePurchase, []Policy{cors, RequireAuth(d.Auth)}},
		{http.MethodGet, "/user/enrolled-courses", checkoutHandler.HandleEnrolledCourses, []Policy{cors, RequireAuth(d.Auth)}},
		{http.MethodGet, "/user/data", identityHandler.HandleGetUser, []Policy{cors, RequireAuth(d.Auth)}},
		{http.MethodGet, "/educator/courses", dashboardHandler.HandleCourses, []Policy{cors, RequireAuth(d.Auth), RequireEducator()}},
		{http.MethodGet, "/educator/dashboard", dashboardHandler.HandleDashboard, []Policy{cors, RequireAuth(d.Auth), RequireEducator()}},
		{http.MethodGet, "/educator/enrolled-students", dashboardHandler.HandleEnrolledStudents, []Policy{cors, RequireAuth(d.Auth), RequireEducator()}},
		{http.MethodPost, "/webhooks/payments", paymentsHandler.HandleWebhook, []Policy{RawBody()}},
		{http.MethodPost, "/webhooks/identity", identityHandler.HandleWebhook, []Policy{RawBody()}},
	}
	for _, rt := range routes {
		h := Compose(rt.handler, rt.policies...)
		s.Router.Method(rt.method, rt.path, h)
		if hasCORS(rt.policies) {
			// preflight is answered by the CORS policy itself
			s.Router.Method(http.MethodOptions, rt.path, h)
		}
		log.Printf("[api] %s %s [%s]", rt.method, rt.path, Names(rt.policies))
	}
	return s
}

func hasCORS(policies []Policy) bool {
	for _, p := range policies {
		if p.Stage == StageTransport {
			return true
		}
	}
	return false
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			respond.Error(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	respond.OK(w, map[string]string{"status": "ok"})
}
