package billing

import (
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/apperror"
)

// Stripe event types the ingestor understands.
const (
	checkoutSessionCompleted    = "checkout.session.completed"
	customerSubscriptionCreated = "customer.subscription.created"
	customerSubscriptionUpdated = "customer.subscription.updated"
	customerSubscriptionDeleted = "customer.subscription.deleted"
	invoicePaymentFailed        = "invoice.payment_failed"
)

// StripeVerifier verifies Stripe-Signature headers with the endpoint secret.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeVerifier returns a verifier for the given webhook signing secret.
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

// Verify checks the signature and timestamp, then converts the event.
func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) (Event, error) {
	se, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, apperror.Wrap(apperror.SignatureInvalid, err, "webhook signature verification failed")
	}
	return fromStripe(se)
}

func fromStripe(se stripe.Event) (Event, error) {
	ev := Event{
		ID:       se.ID,
		Type:     string(se.Type),
		Category: Unknown,
		Time:     time.Unix(se.Created, 0).UTC(),
	}
	if se.Data == nil || len(se.Data.Raw) == 0 {
		return ev, nil
	}

	switch ev.Type {
	case checkoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(se.Data.Raw, &sess); err != nil {
			return ev, fmt.Errorf("parse checkout session: %w", err)
		}
		ev.Category = Activated
		ev.Account = sess.ClientReferenceID
		if ev.Account == "" {
			ev.Account = sess.CustomerEmail
		}
		if ev.Account == "" && sess.CustomerDetails != nil {
			ev.Account = sess.CustomerDetails.Email
		}
		ev.PlanID = sess.Metadata["price_id"]
		if sess.LineItems != nil {
			for _, li := range sess.LineItems.Data {
				if li.Price != nil && li.Price.ID != "" {
					ev.PlanID = li.Price.ID
					break
				}
			}
		}

	case customerSubscriptionCreated, customerSubscriptionUpdated, customerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(se.Data.Raw, &sub); err != nil {
			return ev, fmt.Errorf("parse subscription: %w", err)
		}
		ev.Account = sub.Metadata["account"]
		if ev.Account == "" && sub.Customer != nil {
			ev.Account = sub.Customer.Email
		}
		if sub.Items != nil {
			for _, item := range sub.Items.Data {
				if item.Price != nil && item.Price.ID != "" {
					ev.PlanID = item.Price.ID
					break
				}
			}
		}
		ev.Category = subscriptionCategory(ev.Type, sub.Status)

	case invoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(se.Data.Raw, &inv); err != nil {
			return ev, fmt.Errorf("parse invoice: %w", err)
		}
		ev.Category = PaymentFailed
		ev.Account = inv.CustomerEmail
		if ev.Account == "" && inv.Customer != nil {
			ev.Account = inv.Customer.Email
		}
	}
	return ev, nil
}

func subscriptionCategory(eventType string, status stripe.SubscriptionStatus) Category {
	if eventType == customerSubscriptionDeleted {
		return Cancelled
	}
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return Activated
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid:
		return Cancelled
	}
	return Unknown
}
