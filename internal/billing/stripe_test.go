package billing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/apperror"
)

const testSecret = "whsec_test_secret"

func signed(t *testing.T, payload string) (body []byte, header string) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return sp.Payload, sp.Header
}

func stripeEvent(id, typ string, created int64, object string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","api_version":"2020-08-27","type":%q,"created":%d,"data":{"object":%s}}`,
		id, typ, created, object)
}

func TestVerifyCheckoutCompleted(t *testing.T) {
	body, header := signed(t, stripeEvent("evt_1", "checkout.session.completed", 1767225600,
		`{"id":"cs_1","object":"checkout.session","client_reference_id":"Alice@Example.com","customer_email":"other@example.com","metadata":{"price_id":"price_std"}}`))

	ev, err := NewStripeVerifier(testSecret).Verify(body, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, Activated, ev.Category)
	assert.Equal(t, "Alice@Example.com", ev.Account)
	assert.Equal(t, "price_std", ev.PlanID)
	assert.True(t, ev.Time.Equal(time.Unix(1767225600, 0)))
}

func TestVerifyCheckoutFallsBackToEmail(t *testing.T) {
	body, header := signed(t, stripeEvent("evt_2", "checkout.session.completed", 1767225600,
		`{"id":"cs_2","object":"checkout.session","customer_details":{"email":"bob@example.com"},"metadata":{"price_id":"price_basic"}}`))

	ev, err := NewStripeVerifier(testSecret).Verify(body, header)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", ev.Account)
}

func TestVerifySubscriptionEvents(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		status  string
		want    Category
		account string
	}{
		{"created active", "customer.subscription.created", "active", Activated, "carol@example.com"},
		{"updated trialing", "customer.subscription.updated", "trialing", Activated, "carol@example.com"},
		{"updated unpaid", "customer.subscription.updated", "unpaid", Cancelled, "carol@example.com"},
		{"updated past_due", "customer.subscription.updated", "past_due", Unknown, "carol@example.com"},
		{"deleted", "customer.subscription.deleted", "canceled", Cancelled, "carol@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := fmt.Sprintf(`{"id":"sub_1","object":"subscription","status":%q,"metadata":{"account":"carol@example.com"},
				"items":{"object":"list","data":[{"id":"si_1","object":"subscription_item","price":{"id":"price_prem","object":"price"}}]}}`, tt.status)
			body, header := signed(t, stripeEvent("evt_s", tt.typ, 1767225600, obj))

			ev, err := NewStripeVerifier(testSecret).Verify(body, header)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Category)
			assert.Equal(t, tt.account, ev.Account)
			assert.Equal(t, "price_prem", ev.PlanID)
		})
	}
}

func TestVerifySubscriptionExpandedCustomer(t *testing.T) {
	body, header := signed(t, stripeEvent("evt_c", "customer.subscription.deleted", 1767225600,
		`{"id":"sub_2","object":"subscription","status":"canceled","customer":{"id":"cus_1","object":"customer","email":"dan@example.com"}}`))

	ev, err := NewStripeVerifier(testSecret).Verify(body, header)
	require.NoError(t, err)
	assert.Equal(t, "dan@example.com", ev.Account)
	assert.Equal(t, Cancelled, ev.Category)
}

func TestVerifyInvoicePaymentFailed(t *testing.T) {
	body, header := signed(t, stripeEvent("evt_i", "invoice.payment_failed", 1767225600,
		`{"id":"in_1","object":"invoice","customer_email":"erin@example.com"}`))

	ev, err := NewStripeVerifier(testSecret).Verify(body, header)
	require.NoError(t, err)
	assert.Equal(t, PaymentFailed, ev.Category)
	assert.Equal(t, "erin@example.com", ev.Account)
}

func TestVerifyUnknownType(t *testing.T) {
	body, header := signed(t, stripeEvent("evt_u", "charge.refunded", 1767225600, `{"id":"ch_1","object":"charge"}`))

	ev, err := NewStripeVerifier(testSecret).Verify(body, header)
	require.NoError(t, err)
	assert.Equal(t, Unknown, ev.Category)
}

func TestVerifyBadSignature(t *testing.T) {
	body, header := signed(t, stripeEvent("evt_x", "checkout.session.completed", 1767225600, `{"id":"cs_x"}`))

	_, err := NewStripeVerifier("whsec_other").Verify(body, header)
	assert.Equal(t, apperror.SignatureInvalid, apperror.CodeOf(err))

	_, err = NewStripeVerifier(testSecret).Verify(body, "t=1,v1=deadbeef")
	assert.Equal(t, apperror.SignatureInvalid, apperror.CodeOf(err))

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] = ' '
	_, err = NewStripeVerifier(testSecret).Verify(tampered, header)
	assert.Equal(t, apperror.SignatureInvalid, apperror.CodeOf(err))
}
