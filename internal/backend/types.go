package backend

import (
	"encoding/json"
	"time"
)

// Credential is the backend's record of the caller's API key. Key is the
// full secret only in responses that issue it.
type Credential struct {
	Key       string     `json:"key"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type PaymentOrder struct {
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	RazorpayKey string `json:"razorpay_key"`
}

type keysResponse struct {
	Keys []Credential `json:"keys"`
}

type issuedKeyResponse struct {
	APIKey string `json:"api_key"`
}

type planRequest struct {
	Plan string `json:"plan"`
}

// VerifyPayload is the checkout widget's success response, forwarded to the
// backend byte for byte.
type VerifyPayload = json.RawMessage
