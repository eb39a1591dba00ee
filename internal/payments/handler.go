// internal/payments/handler.go
package payments

import (
	"errors"
	"net/http"

	"upskill/internal/respond"
	"upskill/internal/webhook"
)

type Handler struct {
	ingester *Ingester
}

func NewHandler(ingester *Ingester) *Handler {
	return &Handler{ingester: ingester}
}

var statusByReason = map[Reason]int{
	ReasonInvalidSignature: http.StatusBadRequest,
	ReasonMalformed:        http.StatusBadRequest,
	ReasonUnknownIntent:    http.StatusNotFound,
	ReasonUnavailable:      http.StatusServiceUnavailable,
}

// HandleWebhook serves POST /webhooks/payments. The body is read unparsed so
// the signature is checked over the exact bytes the provider signed.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := webhook.ReadBody(r)
	if errors.Is(err, webhook.ErrBodyTooLarge) {
		respond.Error(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	res := h.ingester.Handle(r.Context(), body, r.Header.Get(webhook.SignatureHeader))
	if res.Ack {
		respond.JSON(w, http.StatusOK, true, "received", nil)
		return
	}
	respond.Error(w, statusByReason[res.Reason], string(res.Reason))
}
