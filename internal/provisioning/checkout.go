package provisioning

import (
	"github.com/marcogenualdo/keyconsole/internal/backend"
	"github.com/marcogenualdo/keyconsole/internal/config"
)

// Checkout is the option set handed to the checkout widget in the browser.
type Checkout struct {
	Key         string  `json:"key"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	OrderID     string  `json:"order_id"`
	Prefill     Prefill `json:"prefill"`
	Method      Methods `json:"method"`
	Theme       Theme   `json:"theme"`
}

type Prefill struct {
	Email string `json:"email,omitempty"`
}

type Methods struct {
	UPI        bool `json:"upi"`
	Card       bool `json:"card"`
	Netbanking bool `json:"netbanking"`
	Wallet     bool `json:"wallet"`
}

type Theme struct {
	Color string `json:"color"`
}

func newCheckout(cfg config.PaymentsConfig, order *backend.PaymentOrder, email string) *Checkout {
	currency := order.Currency
	if currency == "" {
		currency = cfg.DefaultCurrency
	}

	return &Checkout{
		Key:         order.RazorpayKey,
		Amount:      order.Amount,
		Currency:    currency,
		Name:        cfg.MerchantName,
		Description: cfg.Description,
		OrderID:     order.OrderID,
		Prefill:     Prefill{Email: email},
		Method: Methods{
			UPI:        cfg.Methods.UPI,
			Card:       cfg.Methods.Card,
			Netbanking: cfg.Methods.Netbanking,
			Wallet:     cfg.Methods.Wallet,
		},
		Theme: Theme{Color: cfg.ThemeColor},
	}
}
