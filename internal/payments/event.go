// internal/payments/event.go
package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrMalformed = errors.New("malformed payment event")

// Event is the closed set of payment events the ingester acts on.
type Event interface {
	EventID() string
	isEvent()
}

// PaymentSucceeded means the provider captured the money for an intent.
type PaymentSucceeded struct {
	ID       string
	Type     string
	IntentID uuid.UUID
}

// PaymentFailed means the intent will never be paid.
type PaymentFailed struct {
	ID       string
	Type     string
	IntentID uuid.UUID
	Reason   string
}

// Unrecognized is any event type we do not act on.
type Unrecognized struct {
	ID   string
	Type string
}

func (e PaymentSucceeded) EventID() string { return e.ID }
func (e PaymentFailed) EventID() string    { return e.ID }
func (e Unrecognized) EventID() string     { return e.ID }

func (PaymentSucceeded) isEvent() {}
func (PaymentFailed) isEvent()    {}
func (Unrecognized) isEvent()     {}

var (
	succeededTypes = map[string]bool{
		"checkout.session.completed": true,
		"payment_intent.succeeded":   true,
	}
	failedTypes = map[string]bool{
		"payment_intent.payment_failed":        true,
		"payment_intent.canceled":              true,
		"checkout.session.expired":             true,
		"checkout.session.async_payment_failed": true,
	}
)

type envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ClientReferenceID string            `json:"client_reference_id"`
			Metadata          map[string]string `json:"metadata"`
			LastPaymentError  *struct {
				Message string `json:"message"`
			} `json:"last_payment_error"`
		} `json:"object"`
	} `json:"data"`
}

// Parse maps a raw provider payload into an Event. Unknown types parse as
// Unrecognized; a known type without a usable intent reference is malformed.
func Parse(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformed)
	}

	succeeded, failed := succeededTypes[env.Type], failedTypes[env.Type]
	if !succeeded && !failed {
		return Unrecognized{ID: env.ID, Type: env.Type}, nil
	}

	obj := env.Data.Object
	ref := obj.Metadata["purchase_id"]
	if ref == "" {
		ref = obj.ClientReferenceID
	}
	intentID, err := uuid.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid purchase reference %q", ErrMalformed, ref)
	}

	if succeeded {
		return PaymentSucceeded{ID: env.ID, Type: env.Type, IntentID: intentID}, nil
	}
	var reason string
	if obj.LastPaymentError != nil {
		reason = obj.LastPaymentError.Message
	}
	return PaymentFailed{ID: env.ID, Type: env.Type, IntentID: intentID, Reason: reason}, nil
}
