package http

import (
	"net/http"
	"strings"

	"ecu/internal/api"
	"ecu/internal/session"
)

// CredentialCookie holds the API credential in the browser.
const CredentialCookie = "ecu_session"

// sanitizeInput removes control characters except tab, newline and
// carriage return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// redirect navigates the browser: HX-Redirect for htmx, 303 otherwise.
func redirect(w http.ResponseWriter, r *http.Request, to string) {
	if isHTMX(r) {
		NewHTMXResponse().Redirect(to).Write(w)
		return
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// session builds a per-request session seeded from the browser cookie.
func (s *Server) session(r *http.Request) *session.Session {
	sess := session.New(s.backend)
	if c, err := r.Cookie(CredentialCookie); err == nil {
		sess.Restore(api.Credential(c.Value))
	}
	return sess
}

func (s *Server) setCredentialCookie(w http.ResponseWriter, cred api.Credential) {
	http.SetCookie(w, &http.Cookie{
		Name:     CredentialCookie,
		Value:    string(cred),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCredentialCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CredentialCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
