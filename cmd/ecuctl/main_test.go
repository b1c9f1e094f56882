package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"ecu/internal/api/memory"
	"ecu/internal/config"
	"ecu/internal/core"
	"ecu/internal/log"
)

type env struct {
	t       *testing.T
	cfg     *config.Config
	backend *memory.Server
	dir     string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	backend := memory.NewServer(memory.WithBcryptCost(bcrypt.MinCost))
	ts := httptest.NewServer(backend)
	t.Cleanup(ts.Close)
	dir := t.TempDir()
	return &env{
		t:       t,
		backend: backend,
		dir:     dir,
		cfg: &config.Config{
			APIBaseURL:     ts.URL,
			CredentialFile: filepath.Join(dir, "ecu", "session"),
		},
	}
}

func (e *env) run(stdin string, args ...string) (string, error) {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), e.cfg, log.Discard(), args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func TestLoginPersistsCredential(t *testing.T) {
	e := newEnv(t)

	if _, err := e.run("", "whoami"); err == nil || !strings.Contains(err.Error(), "not logged in") {
		t.Fatalf("whoami before login: %v", err)
	}

	out, err := e.run("password123\n", "signup", "-u", "ana")
	if err != nil || !strings.Contains(out, "Logged in as ana") {
		t.Fatalf("signup: %q, %v", out, err)
	}
	info, err := os.Stat(e.cfg.CredentialFile)
	if err != nil {
		t.Fatalf("credential file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("credential file mode = %o, want 600", perm)
	}

	out, err = e.run("", "whoami")
	if err != nil || strings.TrimSpace(out) != "ana" {
		t.Fatalf("whoami: %q, %v", out, err)
	}

	if _, err := e.run("", "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := os.Stat(e.cfg.CredentialFile); !os.IsNotExist(err) {
		t.Fatalf("credential file still present after logout: %v", err)
	}
}

func TestLoginFailureKeepsNoCredential(t *testing.T) {
	e := newEnv(t)
	if _, err := e.run("", "signup", "-u", "ana", "-p", "password123"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.run("", "logout"); err != nil {
		t.Fatal(err)
	}

	_, err := e.run("", "login", "-u", "ana", "-p", "nope")
	if err == nil || err.Error() != "Failed to log in" {
		t.Fatalf("bad login error = %v", err)
	}
	if _, err := os.Stat(e.cfg.CredentialFile); !os.IsNotExist(err) {
		t.Fatal("credential written after failed login")
	}

	_, err = e.run("", "signup", "-u", "bob", "-p", "short")
	if err == nil || !strings.Contains(err.Error(), "Password too short") {
		t.Fatalf("short password error = %v", err)
	}
}

func TestStaleCredentialIsRemoved(t *testing.T) {
	e := newEnv(t)
	if err := os.MkdirAll(filepath.Dir(e.cfg.CredentialFile), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(e.cfg.CredentialFile, []byte("stale\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := e.run("", "export", "-o", "-")
	if err == nil || !strings.Contains(err.Error(), "session expired") {
		t.Fatalf("export with stale credential: %v", err)
	}
	if _, err := os.Stat(e.cfg.CredentialFile); !os.IsNotExist(err) {
		t.Fatal("stale credential not removed")
	}
	if n := e.backend.Hits("GET /api/transactions"); n != 0 {
		t.Fatalf("export listed transactions %d times without a session", n)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	e := newEnv(t)
	if _, err := e.run("", "signup", "-u", "ana", "-p", "password123"); err != nil {
		t.Fatal(err)
	}

	doc := `{"categories":[{"id":7,"name":"Food","created_at":"2024-01-01T00:00:00Z"}],
		"transactions":[{"id":1,"description":"Coffee","amount":-4.5,"created_at":"2024-01-02T08:00:00Z","category":{"id":7,"name":"Food"}}]}`
	in := filepath.Join(e.dir, "in.json")
	if err := os.WriteFile(in, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if out, err := e.run("", "import", in); err != nil || !strings.Contains(out, "Imported") {
		t.Fatalf("import: %q, %v", out, err)
	}

	outPath := filepath.Join(e.dir, "out.json")
	if _, err := e.run("", "export", "-o", outPath); err != nil {
		t.Fatalf("export: %v", err)
	}
	b, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	var got core.ExportDocument
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("exported file is not JSON: %v", err)
	}
	if len(got.Transactions) != 1 || len(got.Categories) != 1 || got.Transactions[0].Category.Name != "Food" {
		t.Fatalf("exported document = %+v", got)
	}

	// Importing the export again leaves the dataset unchanged.
	if _, err := e.run("", "import", outPath); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	stdout, err := e.run("", "export", "-o", "-")
	if err != nil {
		t.Fatal(err)
	}
	var again core.ExportDocument
	if err := json.Unmarshal([]byte(stdout), &again); err != nil || len(again.Transactions) != 1 {
		t.Fatalf("round trip changed dataset: %d transactions (%v)", len(again.Transactions), err)
	}
}

func TestImportRejectsMalformedFile(t *testing.T) {
	e := newEnv(t)
	if _, err := e.run("", "signup", "-u", "ana", "-p", "password123"); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(e.dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.run("", "import", bad); err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Fatalf("malformed import error = %v", err)
	}
	if n := e.backend.Hits("POST /api/import"); n != 0 {
		t.Fatalf("malformed file reached the API %d times", n)
	}
}

func TestUpstreamFailureMessage(t *testing.T) {
	e := newEnv(t)
	if _, err := e.run("", "signup", "-u", "ana", "-p", "password123"); err != nil {
		t.Fatal(err)
	}
	e.backend.Fail("GET /api/categories", http.StatusInternalServerError)
	_, err := e.run("", "export", "-o", "-")
	if err == nil || err.Error() != "Failed to fetch categories" {
		t.Fatalf("export error = %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	e := newEnv(t)
	for _, args := range [][]string{
		nil,
		{"frobnicate"},
		{"login"},
		{"import"},
	} {
		if _, err := e.run("", args...); err == nil || !strings.Contains(err.Error(), "usage") {
			t.Errorf("args %v: error = %v", args, err)
		}
	}
}
