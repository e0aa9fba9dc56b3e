package handlers

import (
	"net/http"

	"github.com/marcogenualdo/keyconsole/internal/config"
	"github.com/marcogenualdo/keyconsole/internal/middleware"
)

// PagesHandler serves the static-content pages.
type PagesHandler struct {
	plans  []config.PlanConfig
	mw     *middleware.AuthMiddleware
	render *Renderer
}

func NewPagesHandler(plans []config.PlanConfig, mw *middleware.AuthMiddleware, render *Renderer) *PagesHandler {
	return &PagesHandler{plans: plans, mw: mw, render: render}
}

func (h *PagesHandler) Landing(w http.ResponseWriter, r *http.Request) {
	if sess, ok := h.mw.Session(r); ok {
		http.Redirect(w, r, landingFor(sess), http.StatusFound)
		return
	}
	h.render.Render(w, r, http.StatusOK, "landing.html", nil)
}

func (h *PagesHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, r, http.StatusOK, "dashboard.html", nil)
}

func (h *PagesHandler) Pricing(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, r, http.StatusOK, "pricing.html", h.plans)
}
