// internal/dashboard/handler.go
package dashboard

import (
	"log"
	"net/http"

	"upskill/internal/auth"
	"upskill/internal/respond"
)

type Handler struct {
	aggregator *Aggregator
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{aggregator: aggregator}
}

// HandleDashboard serves GET /educator/dashboard.
func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	d, err := h.aggregator.Dashboard(r.Context(), id.UserID)
	if err != nil {
		log.Printf("[dashboard] %s: %v", id.UserID, err)
		respond.Error(w, http.StatusInternalServerError, "could not build dashboard")
		return
	}
	respond.OK(w, d)
}

// HandleEnrolledStudents serves GET /educator/enrolled-students.
func (h *Handler) HandleEnrolledStudents(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	roster, err := h.aggregator.EnrolledStudents(r.Context(), id.UserID)
	if err != nil {
		log.Printf("[dashboard] %s: %v", id.UserID, err)
		respond.Error(w, http.StatusInternalServerError, "could not load students")
		return
	}
	respond.OK(w, roster)
}

// HandleCourses serves GET /educator/courses.
func (h *Handler) HandleCourses(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	courses, err := h.aggregator.Courses(r.Context(), id.UserID)
	if err != nil {
		log.Printf("[dashboard] %s: %v", id.UserID, err)
		respond.Error(w, http.StatusInternalServerError, "could not load courses")
		return
	}
	respond.OK(w, courses)
}
