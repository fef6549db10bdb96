package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"viralfaces/internal/domain"
)

var (
	ErrMissingSignature = errors.New("payments: missing stripe-signature header")
	ErrInvalidSignature = errors.New("payments: invalid signature")
)

// Checkout is the subset of a completed checkout session the service acts on.
type Checkout struct {
	SessionID     string
	CustomerEmail string
	PaymentStatus string
	UserID        string
	VideoID       string
}

// CheckoutHook reacts to a completed checkout. A returned error makes the
// webhook answer 500 so Stripe redelivers the event.
type CheckoutHook interface {
	CheckoutCompleted(ctx context.Context, checkout Checkout) error
}

// LogHook only logs completed checkouts.
type LogHook struct {
	Logger zerolog.Logger
}

func (h LogHook) CheckoutCompleted(_ context.Context, c Checkout) error {
	h.Logger.Info().
		Str("session_id", c.SessionID).
		Str("user_id", c.UserID).
		Str("video_id", c.VideoID).
		Msg("payments: checkout completed")
	return nil
}

// PaidMarker flags a result as paid.
type PaidMarker interface {
	MarkPaid(ctx context.Context, resultID, userID string) error
}

// MarkPaidHook marks metadata.videoId as paid for metadata.userId.
type MarkPaidHook struct {
	Results PaidMarker
	Logger  zerolog.Logger
}

func (h MarkPaidHook) CheckoutCompleted(ctx context.Context, c Checkout) error {
	log := h.Logger.With().Str("session_id", c.SessionID).Str("user_id", c.UserID).Str("video_id", c.VideoID).Logger()
	if c.UserID == "" || c.VideoID == "" {
		log.Warn().Msg("payments: checkout without userId/videoId metadata")
		return nil
	}
	if c.PaymentStatus != "" && c.PaymentStatus != string(stripe.CheckoutSessionPaymentStatusPaid) {
		log.Info().Str("payment_status", c.PaymentStatus).Msg("payments: checkout not yet paid")
		return nil
	}
	err := h.Results.MarkPaid(ctx, c.VideoID, c.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Warn().Msg("payments: paid result not found")
		return nil
	case err != nil:
		return fmt.Errorf("payments: mark paid: %w", err)
	}
	log.Info().Msg("payments: result marked paid")
	return nil
}

// Listener verifies and dispatches Stripe webhook events.
type Listener struct {
	secret    string
	tolerance time.Duration
	hook      CheckoutHook
	logger    zerolog.Logger
}

// NewListener builds a listener. A nil hook falls back to LogHook.
func NewListener(secret string, hook CheckoutHook, logger zerolog.Logger) *Listener {
	if hook == nil {
		hook = LogHook{Logger: logger}
	}
	return &Listener{
		secret:    secret,
		tolerance: webhook.DefaultTolerance,
		hook:      hook,
		logger:    logger,
	}
}

// Verify checks the Stripe-Signature header against the raw payload. The
// event's API version is not checked.
func (l *Listener) Verify(payload []byte, header string) (stripe.Event, error) {
	if strings.TrimSpace(header) == "" {
		return stripe.Event{}, ErrMissingSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, l.secret, webhook.ConstructEventOptions{
		Tolerance:                l.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// Handle dispatches a verified event. Unknown types are logged and accepted.
func (l *Listener) Handle(ctx context.Context, event stripe.Event) error {
	log := l.logger.With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Logger()
	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := decodeObject(event, &session); err != nil {
			return err
		}
		log.Info().Str("session_id", session.ID).Msg("payments: payment successful")
		return l.hook.CheckoutCompleted(ctx, checkoutFrom(&session))
	case "checkout.session.async_payment_succeeded", "checkout.session.async_payment_failed":
		var session stripe.CheckoutSession
		if err := decodeObject(event, &session); err != nil {
			return err
		}
		log.Info().Str("session_id", session.ID).Msg("payments: async payment update")
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := decodeObject(event, &intent); err != nil {
			return err
		}
		log.Info().Str("payment_intent_id", intent.ID).Str("status", string(intent.Status)).Msg("payments: payment intent update")
	default:
		log.Debug().Msg("payments: unhandled event type")
	}
	return nil
}

func decodeObject(event stripe.Event, dst any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return fmt.Errorf("payments: event %s has no data", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, dst); err != nil {
		return fmt.Errorf("payments: decode %s: %w", event.Type, err)
	}
	return nil
}

func checkoutFrom(s *stripe.CheckoutSession) Checkout {
	c := Checkout{
		SessionID:     s.ID,
		CustomerEmail: s.CustomerEmail,
		PaymentStatus: string(s.PaymentStatus),
	}
	if c.CustomerEmail == "" && s.CustomerDetails != nil {
		c.CustomerEmail = s.CustomerDetails.Email
	}
	if s.Metadata != nil {
		c.UserID = s.Metadata["userId"]
		c.VideoID = s.Metadata["videoId"]
	}
	return c
}
