package models

import "encoding/json"

// Typed webhook payloads, one shape per recognized event type. The Stripe
// envelope itself (type, signature, data.object) is handled by the stripe-go
// webhook package; these structs are what data.object decodes into. Fields
// the reconciler never reads are deliberately omitted.

// CheckoutSessionPayload is the data.object of checkout.session.completed.
// In webhook deliveries customer and subscription arrive as plain IDs,
// not expanded objects.
type CheckoutSessionPayload struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	CustomerEmail     string            `json:"customer_email"`
	CustomerDetails   *CustomerDetails  `json:"customer_details"`
	Subscription      string            `json:"subscription"`
	AmountTotal       int64             `json:"amount_total"` // minor units
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
}

// CustomerDetails carries the checkout-time customer fields.
type CustomerDetails struct {
	Email string `json:"email"`
}

// Email returns the best-known customer email for the session.
func (p *CheckoutSessionPayload) Email() string {
	if p.CustomerEmail != "" {
		return p.CustomerEmail
	}
	if p.CustomerDetails != nil {
		return p.CustomerDetails.Email
	}
	return ""
}

// SubscriptionPayload is the data.object of customer.subscription.updated
// and customer.subscription.deleted.
type SubscriptionPayload struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
	Items    struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID returns the price id of the first subscription item, or "".
func (p *SubscriptionPayload) PriceID() string {
	if len(p.Items.Data) == 0 {
		return ""
	}
	return p.Items.Data[0].Price.ID
}

// InvoicePayload is the data.object of invoice.payment_succeeded and
// invoice.payment_failed.
type InvoicePayload struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountPaid   int64  `json:"amount_paid"` // minor units
	Currency     string `json:"currency"`
}

// FlutterwaveEvent is the full envelope delivered by the legacy Flutterwave
// webhook. Flutterwave authenticates with a shared verif-hash header rather
// than a computed signature, so the whole body can be decoded up front.
type FlutterwaveEvent struct {
	Event string                `json:"event"`
	Data  FlutterwaveChargeData `json:"data"`
}

// FlutterwaveChargeData is the data block of charge.completed and
// subscription.cancelled events.
type FlutterwaveChargeData struct {
	ID       json.Number `json:"id"`
	Status   string      `json:"status"`
	TxRef    string      `json:"tx_ref"`
	Amount   float64     `json:"amount"` // already major units
	Currency string      `json:"currency"`
	Customer struct {
		ID    json.Number `json:"id"`
		Email string      `json:"email"`
	} `json:"customer"`
	Meta struct {
		CustomerID string `json:"customer_id"`
		Plan       string `json:"plan"`
	} `json:"meta"`
}
