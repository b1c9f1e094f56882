package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ecu/internal/activity"
	"ecu/internal/api"
	"ecu/internal/log"
	"ecu/internal/session"
)

const loginPath = session.LoginPath

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).String(),
	})
}

type pinger interface {
	Ping(ctx context.Context) error
}

// handleReady checks the remote API and, when configured, the journal.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)
	fail := func(name string, err error) {
		checks[name] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	if err := s.backend.Health(ctx); err != nil {
		fail("api", err)
	} else {
		checks["api"] = "ok"
	}

	if p, ok := s.journal.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			fail("journal", err)
		} else {
			checks["journal"] = "ok"
		}
	} else {
		checks["journal"] = "not_configured"
	}

	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics writes request and security counters in Prometheus text
// format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.traceMiddleware.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	securityMetrics := s.securityDetector.GetMetrics()

	w.WriteHeader(http.StatusOK)
	metric := func(name, help, kind string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}
	metric("http_requests_total", "Total number of HTTP requests", "counter", traceMetrics.TotalRequests)
	metric("http_request_duration_avg_microseconds", "Average request duration", "gauge", traceMetrics.AverageResponseTime)
	metric("rate_limit_hits_total", "Total rate limited requests", "counter", rateLimitMetrics.TotalHits)
	metric("active_rate_limit_clients", "Currently tracked rate limit clients", "gauge", rateLimitMetrics.ClientCount)
	metric("suspicious_requests_total", "Total suspicious requests detected", "counter", securityMetrics.SuspiciousRequests)
	metric("uptime_seconds", "Application uptime in seconds", "gauge", fmt.Sprintf("%.0f", time.Since(s.started).Seconds()))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/transactions", http.StatusSeeOther)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "login.html", s.page("Log in", nil, nil))
}

func (s *Server) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "signup.html", s.page("Sign up", nil, nil))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.authenticate(w, r, activity.KindLogin, "login.html", "Log in", "Failed to log in")
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	s.authenticate(w, r, activity.KindSignup, "signup.html", "Sign up", "Failed to sign up")
}

// authenticate handles both auth forms. On success the credential goes
// into the cookie and the browser moves on to the transactions page.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, kind activity.Kind, tmpl, title, fallback string) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	u, err := ParseCredentialsForm(r.Form)
	if err != nil {
		data := s.page(title, nil, nil)
		data.Error = formErrorMessage(err)
		data.Username = sanitizeInput(r.Form.Get("username"))
		s.render(w, r, http.StatusUnprocessableEntity, tmpl, data)
		return
	}

	sess := session.New(s.backend)
	if kind == activity.KindSignup {
		err = sess.Signup(r.Context(), u)
	} else {
		err = sess.Login(r.Context(), u)
	}
	s.recordAuth(r.Context(), sess, kind, err)

	logger := log.FromContext(r.Context()).WithComponent(log.ComponentSession)
	if err != nil {
		logger.WarnContext(r.Context(), "Authentication failed",
			log.FieldOperation, string(kind),
			log.FieldUsername, u.Username,
			log.FieldError, err)
		status := api.StatusCode(err)
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		data := s.page(title, nil, nil)
		data.Error = api.Message(err, fallback)
		data.Username = u.Username
		s.render(w, r, status, tmpl, data)
		return
	}

	logger.InfoContext(r.Context(), "User authenticated",
		log.FieldOperation, string(kind),
		log.FieldUsername, u.Username)
	s.setCredentialCookie(w, sess.Credential())
	redirect(w, r, "/transactions")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	var owner string
	if sess.Credential().Valid() {
		if u, err := sess.Check(r.Context()); err == nil {
			owner = u.ID
		}
	}
	to, err := sess.Logout(r.Context())
	s.recordAuthFor(r.Context(), owner, activity.KindLogout, err)
	if err != nil {
		log.FromContext(r.Context()).WithComponent(log.ComponentSession).WarnContext(r.Context(), "Logout request failed",
			log.FieldOperation, log.OpLogout,
			log.FieldError, err)
	}
	s.clearCredentialCookie(w)
	redirect(w, r, to)
}

// recordAuth journals a login or signup. A successful one is attributed to
// the account sess now belongs to; a failed one has no owner and is never
// listed.
func (s *Server) recordAuth(ctx context.Context, sess *session.Session, kind activity.Kind, err error) {
	var owner string
	if err == nil {
		if u, cerr := sess.Check(ctx); cerr == nil {
			owner = u.ID
		}
	}
	s.recordAuthFor(ctx, owner, kind, err)
}

func (s *Server) recordAuthFor(ctx context.Context, userID string, kind activity.Kind, err error) {
	ev := activity.NewEvent(kind, err)
	ev.UserID = userID
	if rerr := s.recorder.Record(ctx, ev); rerr != nil {
		log.FromContext(ctx).WithComponent(log.ComponentActivity).WarnContext(ctx, "Failed to record activity",
			log.FieldEventKind, string(kind),
			log.FieldError, rerr)
	}
}

// credential returns the browser's credential, redirecting to the login
// page when there is none.
func (s *Server) credential(w http.ResponseWriter, r *http.Request) (api.Credential, bool) {
	cred := s.session(r).Credential()
	if !cred.Valid() {
		redirect(w, r, loginPath)
		return "", false
	}
	return cred, true
}

// mutationDone answers a successful form post.
func (s *Server) mutationDone(w http.ResponseWriter, r *http.Request, to, message string) {
	if isHTMX(r) {
		NewHTMXResponse().
			TriggerFormReset().
			TriggerPageRefresh().
			TriggerSuccessNotification(message).
			Write(w)
		return
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
