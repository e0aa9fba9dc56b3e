package handlers

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/marcogenualdo/keyconsole/internal/config"
	"github.com/marcogenualdo/keyconsole/internal/middleware"
)

//go:embed templates/*
var templatesFS embed.FS

var pages = []string{
	"landing.html",
	"login.html",
	"verify_email.html",
	"dashboard.html",
	"pricing.html",
	"keys.html",
	"payment.html",
}

var funcs = template.FuncMap{
	"date": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format("2 Jan 2006")
	},
	"initial": func(email string) string {
		if email == "" {
			return "?"
		}
		return strings.ToUpper(email[:1])
	},
}

// PageData is what every page template receives. Content carries the
// page's own data.
type PageData struct {
	Title         string
	Accent        string
	LogoURL       string
	Email         string
	CSRFToken     string
	FederatedName string
	Content       any
}

type Renderer struct {
	ui            config.UIConfig
	csrf          *middleware.CSRFMiddleware
	federatedName string
	templates     map[string]*template.Template
	logger        *slog.Logger
}

func NewRenderer(ui config.UIConfig, csrf *middleware.CSRFMiddleware, federatedName string, logger *slog.Logger) (*Renderer, error) {
	templates := make(map[string]*template.Template, len(pages))
	for _, name := range pages {
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(templatesFS, "templates/base.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		templates[name] = tmpl
	}

	return &Renderer{
		ui:            ui,
		csrf:          csrf,
		federatedName: federatedName,
		templates:     templates,
		logger:        logger,
	}, nil
}

// Render writes the named page with a fresh CSRF token bound to the
// request's session.
func (rr *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name string, content any) {
	tmpl, ok := rr.templates[name]
	if !ok {
		rr.logger.Error("unknown template", "template", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	token, err := rr.csrf.GenerateCSRFToken(r.Context(), r)
	if err != nil {
		rr.logger.Error("failed to generate CSRF token", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	data := PageData{
		Title:         rr.ui.Title,
		Accent:        rr.ui.AccentColor,
		CSRFToken:     token,
		FederatedName: rr.federatedName,
		Content:       content,
	}
	if rr.ui.LogoPath != "" {
		data.LogoURL = "/logo"
	}
	if sess, ok := middleware.GetSession(r.Context()); ok {
		data.Email = sess.Email
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		rr.logger.Error("failed to render template", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// ServeLogo serves the configured logo file.
func (rr *Renderer) ServeLogo(w http.ResponseWriter, r *http.Request) {
	if rr.ui.LogoPath == "" {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, rr.ui.LogoPath)
}
