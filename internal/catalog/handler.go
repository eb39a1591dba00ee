// internal/catalog/handler.go
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"upskill/internal/membership"
	"upskill/internal/respond"
)

type Handler struct {
	service Service
	users   membership.Service
}

func NewHandler(service Service, users membership.Service) *Handler {
	return &Handler{service: service, users: users}
}

// HandleListCourses serves GET /course/all: published courses with their
// educator, without content or rater ids.
func (h *Handler) HandleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.ListPublished(r.Context())
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	respond.OK(w, WithEducators(r.Context(), h.users, courses))
}

// LoadFile saves every course in a JSON array file. It seeds stores that have
// no authoring front end in this service.
func LoadFile(ctx context.Context, service Service, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	var courses []*Course
	if err := json.Unmarshal(data, &courses); err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}
	for i, c := range courses {
		if err := service.Save(ctx, c); err != nil {
			return i, fmt.Errorf("save course %q: %w", c.Title, err)
		}
	}
	return len(courses), nil
}
