package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"viralfaces/internal/payments"
)

const maxWebhookBytes = 1 << 20

// StripeWebhook handles POST /api/webhooks/stripe. Any verified event is
// acknowledged unless the handler fails, so Stripe only redelivers on 5xx.
func (a *App) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		a.json(w, http.StatusBadRequest, errorBody{Error: "Invalid payload"})
		return
	}
	event, err := a.Webhook.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrMissingSignature) {
			a.json(w, http.StatusBadRequest, errorBody{Error: "Missing stripe-signature header"})
			return
		}
		a.Logger.Warn().Err(err).Msg("webhook signature verification failed")
		a.json(w, http.StatusBadRequest, errorBody{Error: "Invalid signature"})
		return
	}
	if err := safeHandle(event.ID, func() error { return a.Webhook.Handle(r.Context(), event) }); err != nil {
		a.Logger.Error().Err(err).Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("webhook handler failed")
		a.json(w, http.StatusInternalServerError, errorBody{Error: "Webhook handler failed"})
		return
	}
	a.json(w, http.StatusOK, map[string]bool{"received": true})
}

func safeHandle(eventID string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic handling event %s: %v", eventID, rec)
		}
	}()
	return fn()
}
