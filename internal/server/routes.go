package server

import (
	"net/http"

	"github.com/marcogenualdo/keyconsole/internal/handlers"
	"github.com/marcogenualdo/keyconsole/internal/middleware"
)

func (s *Server) setupRoutes() (http.Handler, error) {
	mux := http.NewServeMux()
	d := s.deps

	csrf := middleware.NewCSRFMiddleware(s.cfg.Server.CookieName, d.Cache, s.logger)
	authMW := middleware.NewAuthMiddleware(s.cfg.Server, d.Store, s.logger)

	federatedName := ""
	if d.Federation != nil {
		federatedName = d.Federation.Name()
	}

	render, err := handlers.NewRenderer(s.cfg.UI, csrf, federatedName, s.logger)
	if err != nil {
		return nil, err
	}

	login := handlers.NewLoginHandler(s.cfg.Server, d.Auth, d.Federation, authMW, render, s.logger)
	verify := handlers.NewVerifyHandler(d.Auth, render, s.logger)
	logout := handlers.NewLogoutHandler(s.cfg.Server, d.Auth, d.Gate, s.logger)
	pages := handlers.NewPagesHandler(s.cfg.Payments.Plans, authMW, render)
	keys := handlers.NewKeysHandler(d.Loader, d.Gate, render, s.logger)
	payment := handlers.NewPaymentHandler(&s.cfg, d.Orchestrator, render, s.logger)
	checks := map[string]handlers.Pinger{"cache": d.Cache}
	if d.Backend != nil {
		checks["backend"] = d.Backend
	}
	if d.Identity != nil {
		checks["identity"] = d.Identity
	}
	health := handlers.NewHealthHandler(checks, federatedName, s.logger)

	handle := func(pattern string, h http.Handler) {
		mux.Handle(pattern, d.Metrics.Instrument(pattern, h))
	}
	// post is a state-changing route: CSRF-checked, then signed-in and verified.
	post := func(pattern string, h http.HandlerFunc) {
		handle(pattern, csrf.ValidateCSRF(authMW.RequireAuth(h)))
	}

	handle("GET /{$}", http.HandlerFunc(pages.Landing))
	handle("GET /logo", http.HandlerFunc(render.ServeLogo))

	handle("GET /login", login)
	handle("POST /login", csrf.ValidateCSRF(login))
	handle("POST /login/federated", csrf.ValidateCSRF(http.HandlerFunc(login.HandleFederated)))
	if d.Federation != nil {
		callback := handlers.NewCallbackHandler(s.cfg.Server, d.Federation, d.Auth, d.Store, s.logger)
		handle("GET /auth/oidc/callback", callback)
	}

	handle("GET /verify-email", authMW.RequireSession(verify))
	handle("POST /verify-email/resend", csrf.ValidateCSRF(authMW.RequireSession(http.HandlerFunc(verify.HandleResend))))
	handle("POST /verify-email/check", csrf.ValidateCSRF(authMW.RequireSession(http.HandlerFunc(verify.HandleCheck))))
	handle("POST /logout", csrf.ValidateCSRF(logout))

	handle("GET /dashboard", authMW.RequireAuth(http.HandlerFunc(pages.Dashboard)))
	handle("GET /pricing", authMW.RequireAuth(http.HandlerFunc(pages.Pricing)))

	handle("GET /keys", authMW.RequireAuth(keys))
	post("POST /keys/select", keys.HandleSelect)
	post("POST /keys/confirm", keys.HandleConfirm)
	post("POST /keys/cancel", keys.HandleCancel)
	post("POST /keys/reauth/password", keys.HandlePassword)
	post("POST /keys/reauth/federated", keys.HandleFederated)

	handle("GET /payment", authMW.RequireAuth(payment))
	post("POST /payment/order", payment.HandleOrder)
	post("POST /payment/verify", payment.HandleVerify)
	post("POST /payment/dismiss", payment.HandleDismiss)

	handle("GET /health", health)
	mux.Handle("GET /metrics", d.Metrics.Handler())

	handler := middleware.Logging(s.logger)(
		middleware.Recovery(s.logger)(
			addSecurityHeaders(mux),
		),
	)

	return handler, nil
}

func addSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}
