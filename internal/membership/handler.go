// internal/membership/handler.go
package membership

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"upskill/internal/auth"
	"upskill/internal/respond"
	"upskill/internal/webhook"

	"github.com/go-playground/validator/v10"
)

type Handler struct {
	service  Service
	verifier *webhook.Verifier
	validate *validator.Validate
}

func NewHandler(service Service, verifier *webhook.Verifier) *Handler {
	return &Handler{service: service, verifier: verifier, validate: validator.New()}
}

// HandleWebhook serves POST /webhooks/identity. user.created and
// user.updated upsert the user; other event types are acknowledged.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := webhook.ReadBody(r)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.verifier.Verify(body, r.Header.Get(webhook.SignatureHeader)); err != nil {
		log.Printf("[membership] rejected identity delivery: %v", err)
		respond.Error(w, http.StatusBadRequest, "invalid signature")
		return
	}

	var event identityEvent
	if err := json.Unmarshal(body, &event); err != nil {
		respond.Error(w, http.StatusBadRequest, "malformed event")
		return
	}

	switch event.Type {
	case "user.created", "user.updated":
	default:
		respond.JSON(w, http.StatusOK, true, "ignored", nil)
		return
	}

	user := event.Data
	if err := h.validate.Struct(user); err != nil {
		respond.Validation(w, err)
		return
	}
	if err := h.service.Upsert(r.Context(), &user); err != nil {
		log.Printf("[membership] failed to store user %s: %v", user.ID, err)
		respond.Error(w, http.StatusServiceUnavailable, "could not store user")
		return
	}
	respond.JSON(w, http.StatusOK, true, "received", nil)
}

// HandleGetUser serves GET /user/data for the signed-in user.
func (h *Handler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	user, err := h.service.Get(r.Context(), id.UserID)
	if errors.Is(err, ErrUserNotFound) {
		respond.Error(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		log.Printf("[membership] failed to load user %s: %v", id.UserID, err)
		respond.Error(w, http.StatusInternalServerError, "could not load user")
		return
	}
	respond.OK(w, user)
}
