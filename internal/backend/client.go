package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/marcogenualdo/keyconsole/internal/config"
	"github.com/marcogenualdo/keyconsole/internal/identity"
)

var (
	ErrNoProof     = errors.New("destructive call requires a re-authentication proof")
	ErrEmptySecret = errors.New("backend issued an empty key")
)

// RequestFailed is returned for any non-2xx answer from the backend.
type RequestFailed struct {
	Op     string
	Status int
}

func (e *RequestFailed) Error() string {
	return fmt.Sprintf("%s failed with status %d", e.Op, e.Status)
}

// Client calls the key and payment endpoints of the backend. It never
// retries; callers decide.
type Client struct {
	baseURL     string
	tokenHeader string
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewClient(cfg config.BackendConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		tokenHeader: cfg.TokenHeader,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// FetchCurrent returns the caller's current key, or nil when none exists.
func (c *Client) FetchCurrent(ctx context.Context, token string) (*Credential, error) {
	var resp keysResponse
	if err := c.do(ctx, "fetch credential", http.MethodGet, "/api-keys/me", token, nil, &resp); err != nil {
		return nil, err
	}

	if len(resp.Keys) == 0 {
		return nil, nil
	}
	return &resp.Keys[0], nil
}

func (c *Client) Regenerate(ctx context.Context, proof identity.Proof, plan string) (string, error) {
	if !proof.Valid() {
		return "", ErrNoProof
	}

	var resp issuedKeyResponse
	if err := c.do(ctx, "regenerate", http.MethodPost, "/api-keys/regenerate", proof.Token(), planRequest{Plan: plan}, &resp); err != nil {
		return "", err
	}
	if resp.APIKey == "" {
		return "", ErrEmptySecret
	}
	return resp.APIKey, nil
}

func (c *Client) Revoke(ctx context.Context, proof identity.Proof) error {
	if !proof.Valid() {
		return ErrNoProof
	}
	return c.do(ctx, "revoke", http.MethodPost, "/api-keys/revoke", proof.Token(), nil, nil)
}

func (c *Client) CreateOrder(ctx context.Context, token, plan string) (*PaymentOrder, error) {
	var order PaymentOrder
	if err := c.do(ctx, "create order", http.MethodPost, "/payments/create-order", token, planRequest{Plan: plan}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) VerifyPayment(ctx context.Context, token string, payload VerifyPayload) (string, error) {
	var resp issuedKeyResponse
	if err := c.do(ctx, "verify payment", http.MethodPost, "/payments/verify", token, payload, &resp); err != nil {
		return "", err
	}
	if resp.APIKey == "" {
		return "", ErrEmptySecret
	}
	return resp.APIKey, nil
}

// Ping reports whether the backend answers at all; any HTTP status counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path, token string, body any, out any) error {
	if token == "" {
		return identity.ErrNotAuthenticated
	}

	var reader io.Reader
	if body != nil {
		var payload []byte
		switch v := body.(type) {
		case json.RawMessage:
			payload = v
		default:
			var err error
			payload, err = json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to marshal %s request: %w", op, err)
			}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(c.tokenHeader, token)
	requestID := uuid.New().String()
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		c.logger.Debug("backend request failed",
			"op", op,
			"status", resp.StatusCode,
			"request_id", requestID,
		)
		return &RequestFailed{Op: op, Status: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
