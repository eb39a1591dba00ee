// internal/access/handler.go
package access

import (
	"encoding/json"
	"errors"
	"net/http"

	"upskill/internal/auth"
	"upskill/internal/catalog"
	"upskill/internal/membership"
	"upskill/internal/respond"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Handler struct {
	gate     *Gate
	catalog  catalog.Service
	users    membership.Service
	validate *validator.Validate
}

func NewHandler(gate *Gate, courses catalog.Service, users membership.Service) *Handler {
	return &Handler{gate: gate, catalog: courses, users: users, validate: validator.New()}
}

func (h *Handler) course(w http.ResponseWriter, r *http.Request) (*catalog.Course, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid course ID")
		return nil, false
	}
	course, err := h.catalog.Get(r.Context(), id)
	if errors.Is(err, catalog.ErrCourseNotFound) {
		respond.Error(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return course, true
}

// HandleGetCourse serves GET /course/{id}. Unpublished courses are only
// visible to their educator and enrolled students.
func (h *Handler) HandleGetCourse(w http.ResponseWriter, r *http.Request) {
	course, ok := h.course(w, r)
	if !ok {
		return
	}
	viewer := ViewerFrom(auth.FromContext(r.Context()))
	caps := h.gate.Capabilities(r.Context(), course, viewer)
	if !caps.CanOpen(course) {
		respond.Error(w, http.StatusNotFound, catalog.ErrCourseNotFound.Error())
		return
	}

	view := render(course, caps)
	view.Educator = catalog.Educators(r.Context(), h.users, []string{course.EducatorID})[course.EducatorID]
	respond.OK(w, view)
}

// HandleRateCourse serves POST /course/{id}/rating. Only enrolled students
// may rate.
func (h *Handler) HandleRateCourse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rating int `json:"rating" validate:"required,min=1,max=5"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respond.Validation(w, err)
		return
	}

	course, ok := h.course(w, r)
	if !ok {
		return
	}
	viewer := ViewerFrom(auth.FromContext(r.Context()))
	if !h.gate.Capabilities(r.Context(), course, viewer).IsEnrolled {
		respond.Error(w, http.StatusForbidden, "purchase this course before rating it")
		return
	}

	rated, err := h.catalog.Rate(r.Context(), course.ID, viewer.UserID, req.Rating)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond.JSON(w, http.StatusOK, true, "rating saved", map[string]int{
		"rating":       rated.AverageRating(),
		"rating_count": len(rated.Ratings),
	})
}
