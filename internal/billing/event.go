// Package billing verifies payment-provider webhooks and applies the
// resulting tier changes to the entitlement store.
package billing

import "time"

// Category is the closed set of event kinds the ingestor acts on.
type Category string

const (
	Activated     Category = "activated"
	Cancelled     Category = "cancelled"
	PaymentFailed Category = "payment_failed"
	Unknown       Category = "unknown"
)

// Event is a verified billing event reduced to what entitlements need.
type Event struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Category Category  `json:"category"`
	Account  string    `json:"account,omitempty"`
	PlanID   string    `json:"plan_id,omitempty"`
	Time     time.Time `json:"time"`
}

// Verifier checks a webhook signature and decodes the event.
type Verifier interface {
	Verify(payload []byte, signatureHeader string) (Event, error)
}
