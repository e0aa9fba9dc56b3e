package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/keyconsole/internal/backend"
	"github.com/marcogenualdo/keyconsole/internal/config"
	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/marcogenualdo/keyconsole/internal/middleware"
	"github.com/marcogenualdo/keyconsole/internal/provisioning"
)

const maxPaymentBody = 64 << 10

const (
	msgUnknownPlan     = "Unknown plan."
	msgPaymentInFlight = "A payment is already in progress. Finish or close it first."
	msgPaymentAuth     = "Your session has expired. Please sign in again."
	msgPaymentTimeout  = "The payment service is not responding. Please try again later."
	msgPaymentFailed   = "Payment could not be started. Please try again."
	msgPaymentRejected = "The payment service could not accept this request. Please reload the page and try again."
)

type PaymentPageData struct {
	Plan           config.PlanConfig
	CheckoutScript string
	// InProgress disables the pay button while an order is being created
	// or verified for this user.
	InProgress     bool
	PendingMessage string
}

type orderRequest struct {
	Plan string `json:"plan"`
}

type verifyResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
	Redirect string `json:"redirect"`
}

type errorResponse struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
}

// PaymentHandler drives the checkout widget: order creation, the widget's
// success callback and its dismissal.
type PaymentHandler struct {
	cfg    *config.Config
	orch   *provisioning.Orchestrator
	render *Renderer
	logger *slog.Logger
}

func NewPaymentHandler(cfg *config.Config, orch *provisioning.Orchestrator, render *Renderer, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		cfg:    cfg,
		orch:   orch,
		render: render,
		logger: logger,
	}
}

func (h *PaymentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	plan, ok := h.cfg.Plan(r.URL.Query().Get("plan"))
	if !ok {
		http.Redirect(w, r, "/pricing", http.StatusFound)
		return
	}

	data := PaymentPageData{
		Plan:           plan,
		CheckoutScript: h.cfg.Payments.CheckoutScript,
		PendingMessage: provisioning.MsgPendingActivation,
	}
	if sess, ok := middleware.GetSession(r.Context()); ok {
		data.InProgress = h.orch.State(sess.UserID).Busy()
	}

	h.render.Render(w, r, http.StatusOK, "payment.html", data)
}

func (h *PaymentHandler) HandleOrder(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())

	var req orderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPaymentBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request"})
		return
	}

	checkout, err := h.orch.Provision(r.Context(), sess, req.Plan)
	if err != nil {
		switch {
		case errors.Is(err, provisioning.ErrUnknownPlan):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgUnknownPlan})
		case errors.Is(err, provisioning.ErrRequestRejected):
			h.logger.Warn("order request rejected", "session_id", sess.ID, "error", err)
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgPaymentRejected})
		case errors.Is(err, provisioning.ErrAttemptInFlight):
			writeJSON(w, http.StatusConflict, errorResponse{Error: msgPaymentInFlight})
		case errors.Is(err, identity.ErrNotAuthenticated), errors.Is(err, provisioning.ErrAuth):
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msgPaymentAuth, Redirect: "/login"})
		case errors.Is(err, provisioning.ErrProvisioningTimeout):
			writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: msgPaymentTimeout})
		default:
			h.logger.Error("failed to provision order", "session_id", sess.ID, "error", err)
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: msgPaymentFailed})
		}
		return
	}

	writeJSON(w, http.StatusOK, checkout)
}

// HandleVerify forwards the widget's success payload untouched.
func (h *PaymentHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPaymentBody))
	if err != nil || !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request"})
		return
	}

	result, err := h.orch.Complete(r.Context(), sess, backend.VerifyPayload(body))
	if err != nil {
		if errors.Is(err, identity.ErrNotAuthenticated) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msgPaymentAuth, Redirect: "/login"})
			return
		}
		h.logger.Error("failed to complete payment", "session_id", sess.ID, "error", err)
		result = provisioning.Result{Message: provisioning.MsgPendingActivation}
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Verified: result.Verified,
		Message:  result.Message,
		Redirect: "/keys",
	})
}

func (h *PaymentHandler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())
	h.orch.Dismiss(sess)
	writeJSON(w, http.StatusOK, map[string]bool{"dismissed": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
