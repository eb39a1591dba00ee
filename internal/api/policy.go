// internal/api/policy.go
package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"upskill/internal/auth"
	"upskill/internal/respond"
	"upskill/internal/webhook"

	"github.com/go-chi/cors"
)

// Stage fixes where a policy sits in the chain, outermost first. Routes
// list policies in any order; Compose always applies them by stage.
type Stage int

const (
	StageTransport Stage = iota * 10
	StageBody
	StageIdentity
	StageAuthorization
)

// Policy is one independent concern applied around a route handler.
type Policy struct {
	Name  string
	Stage Stage
	Wrap  func(http.Handler) http.Handler
}

// Compose wraps h with policies ordered by stage. Policies in the same stage
// keep their declared order.
func Compose(h http.Handler, policies ...Policy) http.Handler {
	ordered := make([]Policy, len(policies))
	copy(ordered, policies)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Stage < ordered[j].Stage })

	for i := len(ordered) - 1; i >= 0; i-- {
		h = ordered[i].Wrap(h)
	}
	return h
}

// CORS answers preflight requests and tags responses for allowed origins.
// A "*" entry allows every origin.
func CORS(allowed []string) Policy {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return Policy{Name: "cors", Stage: StageTransport, Wrap: c.Handler}
}

// RawBody buffers the request body exactly as received, bounded by
// webhook.MaxBodyBytes, so signature checks see the signed bytes.
func RawBody() Policy {
	return Policy{Name: "raw-body", Stage: StageBody, Wrap: func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := webhook.ReadBody(r)
			if errors.Is(err, webhook.ErrBodyTooLarge) {
				respond.Error(w, http.StatusRequestEntityTooLarge, err.Error())
				return
			}
			if err != nil {
				respond.Error(w, http.StatusBadRequest, err.Error())
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r)
		})
	}}
}

// OptionalAuth attaches the caller identity when a valid bearer token is
// present. Missing or bad tokens leave the request anonymous.
func OptionalAuth(v *auth.Verifier) Policy {
	return Policy{Name: "optional-auth", Stage: StageIdentity, Wrap: func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, err := v.FromRequest(r); err == nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}}
}

func RequireAuth(v *auth.Verifier) Policy {
	return Policy{Name: "require-auth", Stage: StageIdentity, Wrap: func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.FromRequest(r)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="upskill"`)
				respond.Error(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}}
}

// RequireEducator must follow an identity policy.
func RequireEducator() Policy {
	return Policy{Name: "require-educator", Stage: StageAuthorization, Wrap: func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.FromContext(r.Context()).IsEducator() {
				respond.Error(w, http.StatusForbidden, "educator access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}}
}

// Names lists policy names in applied order, for logging the route table.
func Names(policies []Policy) string {
	ordered := make([]Policy, len(policies))
	copy(ordered, policies)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Stage < ordered[j].Stage })

	names := make([]string, len(ordered))
	for i, p := range ordered {
		names[i] = p.Name
	}
	return strings.Join(names, ",")
}
