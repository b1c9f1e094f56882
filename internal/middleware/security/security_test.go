package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractClientIP(t *testing.T) {
	d := NewDetector()
	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct", "203.0.113.7:5555", "", "", "203.0.113.7"},
		{"untrusted peer ignores forwarded", "203.0.113.7:5555", "198.51.100.1", "", "203.0.113.7"},
		{"trusted proxy uses first forwarded", "127.0.0.1:80", "198.51.100.1, 10.0.0.2", "", "198.51.100.1"},
		{"trusted proxy falls back to real ip", "10.0.0.5:80", "garbage", "198.51.100.9", "198.51.100.9"},
		{"trusted proxy without headers", "192.168.1.2:80", "", "", "192.168.1.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := d.ExtractClientIP(r); got != tt.want {
				t.Errorf("ExtractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectSuspiciousRequest(t *testing.T) {
	d := NewDetector()
	tests := []struct {
		name   string
		method string
		target string
		agent  string
		want   bool
	}{
		{"normal page", http.MethodGet, "/transactions", "Mozilla/5.0", false},
		{"path traversal", http.MethodGet, "/static/../.env", "Mozilla/5.0", true},
		{"scanner agent", http.MethodGet, "/", "sqlmap/1.7", true},
		{"trace method", "TRACE", "/", "Mozilla/5.0", true},
		{"script in query", http.MethodGet, "/login?next=javascript:alert(1)", "Mozilla/5.0", true},
		{"query without patterns", http.MethodGet, "/transactions?page=2", "Mozilla/5.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.target, nil)
			r.Header.Set("User-Agent", tt.agent)
			if got := d.DetectSuspiciousRequest(r); got != tt.want {
				t.Errorf("DetectSuspiciousRequest() = %v, want %v", got, tt.want)
			}
		})
	}
	if d.GetMetrics().SuspiciousRequests != 4 {
		t.Errorf("SuspiciousRequests = %d, want 4", d.GetMetrics().SuspiciousRequests)
	}
}

func TestHeadersMiddleware(t *testing.T) {
	h := NewHeadersMiddleware(DefaultHeadersConfig()).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, name := range []string{"Content-Security-Policy", "X-Frame-Options", "X-Content-Type-Options", "Referrer-Policy"} {
		if rr.Header().Get(name) == "" {
			t.Errorf("missing %s", name)
		}
	}
	if rr.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent over plain HTTP")
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("HSTS = %q", got)
	}
}
