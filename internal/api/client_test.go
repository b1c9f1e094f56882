package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ecu/internal/api/memory"
	"ecu/internal/core"
	"ecu/internal/log"
)

func newMemoryClient(t *testing.T) (*Client, *memory.Server) {
	t.Helper()
	backend := memory.NewServer(memory.WithBcryptCost(bcrypt.MinCost))
	ts := httptest.NewServer(backend)
	t.Cleanup(ts.Close)
	return New(ts.URL, WithLogger(log.Discard())), backend
}

func TestCreateTransactionNormalizesCreatedAt(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/transactions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ck, err := r.Cookie(CookieName); err != nil || ck.Value != "abc" {
			t.Errorf("missing credential cookie: %v", err)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":1,"description":"Coffee","amount":-4.5,"created_at":"2024-01-01T09:00:00Z","category":{"id":2,"name":"Food"}}`)
	}))
	defer ts.Close()

	rome := time.FixedZone("CET", 3600)
	local, err := core.ParseLocalTimestamp("2024-01-01T10:00:00", rome)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := New(ts.URL, WithLogger(log.Discard()))
	tx, err := c.CreateTransaction(context.Background(), "abc", core.NewTransaction{
		Description: "Coffee", Amount: -4.5, CategoryID: 2, CreatedAt: &local,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got["created_at"] != "2024-01-01T09:00:00.000Z" {
		t.Fatalf("created_at sent as %v", got["created_at"])
	}
	if got["category_id"] != float64(2) || got["amount"] != -4.5 {
		t.Fatalf("unexpected payload: %v", got)
	}
	if tx.Category.Name != "Food" {
		t.Fatalf("unexpected result: %+v", tx)
	}
}

func TestUpdateTransactionOmitsNilCreatedAt(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"id":5}`)
	}))
	defer ts.Close()

	c := New(ts.URL, WithLogger(log.Discard()))
	if _, err := c.UpdateTransaction(context.Background(), "abc", 5, core.NewTransaction{Description: "x", Amount: 1, CategoryID: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok := got["created_at"]; ok {
		t.Fatalf("created_at should be omitted: %v", got)
	}
}

func TestFailuresSurfaceAsErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()
	c := New(ts.URL, WithLogger(log.Discard()))
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
		msg  string
	}{
		{"create", func() error {
			_, err := c.CreateTransaction(ctx, "abc", core.NewTransaction{Description: "x"})
			return err
		}, "Failed to create transaction"},
		{"update transaction", func() error {
			_, err := c.UpdateTransaction(ctx, "abc", 1, core.NewTransaction{})
			return err
		}, "Failed to update transaction"},
		{"delete transaction", func() error { return c.DeleteTransaction(ctx, "abc", 1) }, "Failed to delete transaction"},
		{"update category", func() error {
			_, err := c.UpdateCategory(ctx, "abc", 1, core.NewCategory{Name: "x"})
			return err
		}, "Failed to update category"},
		{"delete category", func() error { return c.DeleteCategory(ctx, "abc", 1) }, "Failed to delete category"},
		{"list", func() error {
			_, err := c.ListTransactions(ctx, "abc")
			return err
		}, "Failed to fetch transactions"},
		{"import", func() error { return c.Import(ctx, "abc", []byte(`{}`)) }, "Failed to import data"},
	}
	for _, tc := range cases {
		err := tc.call()
		var apiErr *Error
		if !errors.As(err, &apiErr) {
			t.Fatalf("%s: expected *Error, got %v", tc.name, err)
		}
		if apiErr.StatusCode != http.StatusInternalServerError || apiErr.Message != tc.msg {
			t.Fatalf("%s: unexpected error %+v", tc.name, apiErr)
		}
	}
}

func TestUnauthorizedIsDetectable(t *testing.T) {
	c, _ := newMemoryClient(t)
	_, err := c.Me(context.Background(), "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("status = %d", StatusCode(err))
	}
}

func TestSignupLoginAndCRUD(t *testing.T) {
	c, _ := newMemoryClient(t)
	ctx := context.Background()

	cred, err := c.Signup(ctx, core.NewUser{Username: "ana", Password: "password123"})
	if err != nil || !cred.Valid() {
		t.Fatalf("signup: cred=%q err=%v", cred, err)
	}
	_, err = c.Signup(ctx, core.NewUser{Username: "ana", Password: "password123"})
	if Message(err, "") != "Username already taken" {
		t.Fatalf("duplicate signup message = %q (err=%v)", Message(err, ""), err)
	}
	cred, err = c.Login(ctx, core.NewUser{Username: "ana", Password: "password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := c.Login(ctx, core.NewUser{Username: "ana", Password: "nope-nope"}); Message(err, "") != "Failed to log in" {
		t.Fatalf("bad login error = %v", err)
	}

	me, err := c.Me(ctx, cred)
	if err != nil || me.Username != "ana" {
		t.Fatalf("me = %+v err=%v", me, err)
	}

	cat, err := c.CreateCategory(ctx, cred, core.NewCategory{Name: "Food"})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	tx, err := c.CreateTransaction(ctx, cred, core.NewTransaction{Description: "Coffee", Amount: -4.5, CategoryID: cat.ID})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if tx.Category.ID != cat.ID {
		t.Fatalf("category not embedded: %+v", tx)
	}

	if _, err := c.UpdateCategory(ctx, cred, cat.ID, core.NewCategory{Name: "Groceries"}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, err := c.GetTransaction(ctx, cred, tx.ID)
	if err != nil || got.Category.Name != "Groceries" {
		t.Fatalf("get = %+v err=%v", got, err)
	}
	byCat, err := c.ListCategoryTransactions(ctx, cred, cat.ID)
	if err != nil || len(byCat) != 1 {
		t.Fatalf("category transactions = %v err=%v", byCat, err)
	}

	if err := c.DeleteTransaction(ctx, cred, tx.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := c.DeleteTransaction(ctx, cred, tx.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
	if err := c.Logout(ctx, cred); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := c.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestLoginWithoutCookieFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()
	c := New(ts.URL, WithLogger(log.Discard()))
	_, err := c.Login(context.Background(), core.NewUser{Username: "a", Password: "b"})
	if !errors.Is(err, ErrNoSessionCookie) {
		t.Fatalf("expected ErrNoSessionCookie, got %v", err)
	}
}

func TestNetworkFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(url, WithLogger(log.Discard()), WithTimeout(time.Second))
	_, err := c.ListCategories(context.Background(), "abc")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Err == nil || apiErr.Message != "Failed to fetch categories" {
		t.Fatalf("unexpected error: %v", err)
	}
}
