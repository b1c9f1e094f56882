package http

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"ecu/internal/api"
	"ecu/internal/core"
	"ecu/internal/log"
	"ecu/internal/routes"
)

// pageData is what every page template receives.
type pageData struct {
	Title    string
	User     *core.User
	Data     any
	Error    string
	Username string
	// Now pre-fills datetime-local inputs.
	Now string

	SheetsEnabled   bool
	ActivityEnabled bool
}

func (s *Server) templateFuncs() template.FuncMap {
	return template.FuncMap{
		"amount": core.FormatAmount,
		"money": func(d decimal.Decimal) string {
			return d.StringFixed(2)
		},
		"when": func(t time.Time) string {
			return core.FormatTimestampLocalForDisplay(t, s.loc)
		},
		"inputTime": func(t time.Time) string {
			return core.FormatTimestampLocal(t, s.loc)
		},
		"isoTime": core.FormatISO,
		"dict":    dict,
	}
}

// dict builds a map from alternating keys and values so partials can take
// several arguments.
func dict(kv ...any) (map[string]any, error) {
	if len(kv)%2 != 0 {
		return nil, errors.New("dict: odd number of arguments")
	}
	m := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict: key %v is not a string", kv[i])
		}
		m[k] = kv[i+1]
	}
	return m, nil
}

func (s *Server) page(title string, user *core.User, data any) pageData {
	return pageData{
		Title:           title,
		User:            user,
		Data:            data,
		Now:             core.FormatTimestampLocal(time.Now(), s.loc),
		SheetsEnabled:   s.sheets != nil,
		ActivityEnabled: s.journal != nil,
	}
}

// render executes name into a buffer so a template failure never leaves a
// half-written page.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.FromContext(r.Context()).WithComponent(log.ComponentTemplate).ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err,
			"template", name)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if isHTMX(r) {
		ErrorResponse(status, message).Write(w)
		return
	}
	data := s.page("Error", nil, nil)
	data.Error = message
	s.render(w, r, status, "error.html", data)
}

// handleLoadError maps a page load failure to a response: *routes.Redirect
// and 401 go to the login page, 404 renders not found, anything else is an
// upstream failure.
func (s *Server) handleLoadError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var redir *routes.Redirect
	switch {
	case errors.As(err, &redir):
		s.clearCredentialCookie(w)
		redirect(w, r, redir.To)
	case errors.Is(err, api.ErrUnauthorized):
		s.clearCredentialCookie(w)
		redirect(w, r, loginPath)
	case errors.Is(err, api.ErrNotFound):
		s.renderError(w, r, http.StatusNotFound, "Not found")
	default:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Upstream request failed",
			log.FieldError, err,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, api.StatusCode(err),
			"error_type", log.ErrorTypeUpstream)
		s.renderError(w, r, http.StatusBadGateway, api.Message(err, fallback))
	}
}
