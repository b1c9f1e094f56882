// Package api is a typed HTTP client for the ECU REST API.
//
// Every call that needs an authenticated session takes the Credential
// explicitly. The client holds no session state and caches nothing.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ecu/internal/core"
	"ecu/internal/log"
)

// CookieName is the name of the API's session cookie.
const CookieName = "session"

// Credential is the value of the API session cookie.
type Credential string

// Valid reports whether the credential is non-empty.
func (c Credential) Valid() bool { return strings.TrimSpace(string(c)) != "" }

// Client talks to the remote API rooted at baseURL.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets a per-request timeout. Zero keeps the transport default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			hc := *c.http
			hc.Timeout = d
			c.http = &hc
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l.WithComponent(log.ComponentAPI)
		}
	}
}

// New returns a client for the API at baseURL (e.g. "http://localhost:8000").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  log.New(log.DefaultConfig()).WithComponent(log.ComponentAPI),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// transactionPayload is the write-side wire shape of a transaction.
type transactionPayload struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	CategoryID  int64   `json:"category_id"`
	CreatedAt   string  `json:"created_at,omitempty"`
}

func newTransactionPayload(t core.NewTransaction) transactionPayload {
	p := transactionPayload{
		Description: t.Description,
		Amount:      t.Amount,
		CategoryID:  t.CategoryID,
	}
	if t.CreatedAt != nil {
		p.CreatedAt = core.FormatISO(*t.CreatedAt)
	}
	return p
}

// ListTransactions returns all transactions of the session user.
func (c *Client) ListTransactions(ctx context.Context, cred Credential) ([]core.Transaction, error) {
	var out []core.Transaction
	_, err := c.do(ctx, request{
		op: "list transactions", msg: "Failed to fetch transactions",
		method: http.MethodGet, path: "/api/transactions", cred: cred, out: &out,
	})
	return out, err
}

// GetTransaction returns one transaction.
func (c *Client) GetTransaction(ctx context.Context, cred Credential, id int64) (core.Transaction, error) {
	var out core.Transaction
	_, err := c.do(ctx, request{
		op: "get transaction", msg: "Failed to fetch transaction",
		method: http.MethodGet, path: "/api/transactions/" + itoa(id), cred: cred, out: &out,
	})
	return out, err
}

// CreateTransaction creates a transaction and returns the stored record.
func (c *Client) CreateTransaction(ctx context.Context, cred Credential, t core.NewTransaction) (core.Transaction, error) {
	var out core.Transaction
	_, err := c.do(ctx, request{
		op: "create transaction", msg: "Failed to create transaction",
		method: http.MethodPost, path: "/api/transactions", cred: cred,
		in: newTransactionPayload(t), out: &out,
	})
	return out, err
}

// UpdateTransaction replaces the transaction with id.
func (c *Client) UpdateTransaction(ctx context.Context, cred Credential, id int64, t core.NewTransaction) (core.Transaction, error) {
	var out core.Transaction
	_, err := c.do(ctx, request{
		op: "update transaction", msg: "Failed to update transaction",
		method: http.MethodPut, path: "/api/transactions/" + itoa(id), cred: cred,
		in: newTransactionPayload(t), out: &out,
	})
	return out, err
}

// DeleteTransaction deletes the transaction with id.
func (c *Client) DeleteTransaction(ctx context.Context, cred Credential, id int64) error {
	_, err := c.do(ctx, request{
		op: "delete transaction", msg: "Failed to delete transaction",
		method: http.MethodDelete, path: "/api/transactions/" + itoa(id), cred: cred,
	})
	return err
}

// ListCategories returns all categories of the session user.
func (c *Client) ListCategories(ctx context.Context, cred Credential) ([]core.Category, error) {
	var out []core.Category
	_, err := c.do(ctx, request{
		op: "list categories", msg: "Failed to fetch categories",
		method: http.MethodGet, path: "/api/categories", cred: cred, out: &out,
	})
	return out, err
}

// GetCategory returns one category.
func (c *Client) GetCategory(ctx context.Context, cred Credential, id int64) (core.Category, error) {
	var out core.Category
	_, err := c.do(ctx, request{
		op: "get category", msg: "Failed to fetch category",
		method: http.MethodGet, path: "/api/categories/" + itoa(id), cred: cred, out: &out,
	})
	return out, err
}

// CreateCategory adds a category for the session user.
func (c *Client) CreateCategory(ctx context.Context, cred Credential, n core.NewCategory) (core.Category, error) {
	var out core.Category
	_, err := c.do(ctx, request{
		op: "create category", msg: "Failed to create category",
		method: http.MethodPost, path: "/api/categories", cred: cred, in: n, out: &out,
	})
	return out, err
}

// UpdateCategory renames category id.
func (c *Client) UpdateCategory(ctx context.Context, cred Credential, id int64, n core.NewCategory) (core.Category, error) {
	var out core.Category
	_, err := c.do(ctx, request{
		op: "update category", msg: "Failed to update category",
		method: http.MethodPut, path: "/api/categories/" + itoa(id), cred: cred, in: n, out: &out,
	})
	return out, err
}

// DeleteCategory removes category id and its transactions.
func (c *Client) DeleteCategory(ctx context.Context, cred Credential, id int64) error {
	_, err := c.do(ctx, request{
		op: "delete category", msg: "Failed to delete category",
		method: http.MethodDelete, path: "/api/categories/" + itoa(id), cred: cred,
	})
	return err
}

// ListCategoryTransactions returns the transactions filed under category id.
func (c *Client) ListCategoryTransactions(ctx context.Context, cred Credential, id int64) ([]core.Transaction, error) {
	var out []core.Transaction
	_, err := c.do(ctx, request{
		op: "list category transactions", msg: "Failed to fetch category transactions",
		method: http.MethodGet, path: "/api/categories/" + itoa(id) + "/transactions", cred: cred, out: &out,
	})
	return out, err
}

// Login authenticates and returns the session credential set by the API.
func (c *Client) Login(ctx context.Context, u core.NewUser) (Credential, error) {
	resp, err := c.do(ctx, request{
		op: "login", msg: "Failed to log in",
		method: http.MethodPost, path: "/api/login", in: u,
	})
	if err != nil {
		return "", err
	}
	return sessionCookie("login", "Failed to log in", resp)
}

// Signup registers a user. On failure the message is the server's response
// text when it sent one.
func (c *Client) Signup(ctx context.Context, u core.NewUser) (Credential, error) {
	resp, err := c.do(ctx, request{
		op: "signup", msg: "Failed to sign up",
		method: http.MethodPost, path: "/api/signup", in: u, bodyMessage: true,
	})
	if err != nil {
		return "", err
	}
	return sessionCookie("signup", "Failed to sign up", resp)
}

// Logout ends the session on the server.
func (c *Client) Logout(ctx context.Context, cred Credential) error {
	_, err := c.do(ctx, request{
		op: "logout", msg: "Failed to log out",
		method: http.MethodPost, path: "/api/logout", cred: cred,
	})
	return err
}

// Me returns the user owning cred.
func (c *Client) Me(ctx context.Context, cred Credential) (core.User, error) {
	var out core.User
	_, err := c.do(ctx, request{
		op: "me", msg: "Failed to fetch session user",
		method: http.MethodGet, path: "/api/me", cred: cred, out: &out,
	})
	return out, err
}

// Import uploads an export document verbatim.
func (c *Client) Import(ctx context.Context, cred Credential, body []byte) error {
	_, err := c.do(ctx, request{
		op: "import", msg: "Failed to import data",
		method: http.MethodPost, path: "/api/import", cred: cred, raw: body,
	})
	return err
}

// Health probes the API health endpoint.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, request{
		op: "health", msg: "API health check failed",
		method: http.MethodGet, path: "/api/health",
	})
	return err
}

type request struct {
	op, msg      string
	method, path string
	cred         Credential
	in           any
	raw          []byte
	out          any
	// bodyMessage uses the response text as the error message.
	bodyMessage bool
}

// do performs the request and decodes a 2xx body into r.out. The returned
// response has its body drained and closed; only headers remain usable.
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	var body io.Reader
	switch {
	case r.raw != nil:
		body = bytes.NewReader(r.raw)
	case r.in != nil:
		b, err := json.Marshal(r.in)
		if err != nil {
			return nil, &Error{Op: r.op, Message: r.msg, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return nil, &Error{Op: r.op, Message: r.msg, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.cred.Valid() {
		req.AddCookie(&http.Cookie{Name: CookieName, Value: string(r.cred)})
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "API request failed",
			log.FieldOperation, r.op,
			log.FieldMethod, r.method,
			log.FieldPath, r.path,
			log.FieldError, err)
		return nil, &Error{Op: r.op, Message: r.msg, Err: err}
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "API request completed",
		log.FieldOperation, r.op,
		log.FieldMethod, r.method,
		log.FieldPath, r.path,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := r.msg
		if r.bodyMessage {
			if s := strings.TrimSpace(string(text)); s != "" {
				msg = s
			}
		}
		return nil, &Error{Op: r.op, StatusCode: resp.StatusCode, Message: msg}
	}

	if r.out != nil {
		if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil {
			return nil, &Error{Op: r.op, StatusCode: resp.StatusCode, Message: r.msg, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp, nil
}

func sessionCookie(op, msg string, resp *http.Response) (Credential, error) {
	for _, ck := range resp.Cookies() {
		if ck.Name == CookieName && ck.Value != "" {
			return Credential(ck.Value), nil
		}
	}
	return "", &Error{Op: op, StatusCode: resp.StatusCode, Message: msg, Err: ErrNoSessionCookie}
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
