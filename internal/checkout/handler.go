// internal/checkout/handler.go
package checkout

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"upskill/internal/auth"
	"upskill/internal/ledger"
	"upskill/internal/respond"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Handler struct {
	service  Service
	validate *validator.Validate
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// HandlePurchase serves POST /purchase.
func (h *Handler) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CourseID uuid.UUID `json:"course_id" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respond.Validation(w, err)
		return
	}

	id := auth.FromContext(r.Context())
	session, err := h.service.Start(r.Context(), id.UserID, req.CourseID)
	switch {
	case err == nil:
		respond.JSON(w, http.StatusCreated, true, "checkout started", session)
	case errors.Is(err, ledger.ErrDuplicateCheckout), errors.Is(err, ErrAlreadyEnrolled):
		respond.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrRateLimited):
		respond.Error(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrCourseUnavailable):
		respond.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrOwnCourse):
		respond.Error(w, http.StatusForbidden, err.Error())
	default:
		log.Printf("[checkout] failed for %s: %v", id.UserID, err)
		respond.Error(w, http.StatusInternalServerError, "could not start checkout")
	}
}

// HandleEnrolledCourses serves GET /user/enrolled-courses.
func (h *Handler) HandleEnrolledCourses(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	courses, err := h.service.EnrolledCourses(r.Context(), id.UserID)
	if err != nil {
		log.Printf("[checkout] enrolled courses for %s: %v", id.UserID, err)
		respond.Error(w, http.StatusInternalServerError, "could not load enrolled courses")
		return
	}
	respond.OK(w, courses)
}
