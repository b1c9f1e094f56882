// Package memory is an in-process implementation of the ECU REST API.
//
// It backs local development (API_BACKEND=memory) and stands in for the
// remote server in tests. Sessions are the user's UUID carried in the
// "session" cookie, passwords are bcrypt hashed.
package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"ecu/internal/core"
)

const (
	cookieName        = "session"
	minPasswordLength = 8
	maxBodyBytes      = 10 << 20
)

type category struct {
	id        int64
	userID    uuid.UUID
	name      string
	createdAt time.Time
}

type transaction struct {
	id          int64
	userID      uuid.UUID
	categoryID  int64
	description string
	amount      float64
	createdAt   time.Time
}

type user struct {
	id           uuid.UUID
	username     string
	passwordHash string
	createdAt    time.Time
}

// Server serves the API from memory. The zero value is not usable; call
// NewServer.
type Server struct {
	mu           sync.Mutex
	users        map[uuid.UUID]*user
	byName       map[string]uuid.UUID
	categories   map[int64]*category
	transactions map[int64]*transaction
	nextCategory int64
	nextTx       int64

	hits     map[string]int
	failures map[string]int

	now     func() time.Time
	bcCost  int
	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the time source used for created_at defaults.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithBcryptCost sets the password hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Server) { s.bcCost = cost }
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		users:        map[uuid.UUID]*user{},
		byName:       map[string]uuid.UUID{},
		categories:   map[int64]*category{},
		transactions: map[int64]*transaction{},
		hits:         map[string]int{},
		failures:     map[string]int{},
		now:          time.Now,
		bcCost:       bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.instrument(pattern, h))
	}
	route("GET /api/health", s.handleHealth)
	route("POST /api/signup", s.handleSignup)
	route("POST /api/login", s.handleLogin)
	route("POST /api/logout", s.handleLogout)
	route("GET /api/me", s.authed(s.handleMe))
	route("GET /api/transactions", s.authed(s.handleListTransactions))
	route("POST /api/transactions", s.authed(s.handleCreateTransaction))
	route("GET /api/transactions/{id}", s.authed(s.handleGetTransaction))
	route("PUT /api/transactions/{id}", s.authed(s.handleUpdateTransaction))
	route("DELETE /api/transactions/{id}", s.authed(s.handleDeleteTransaction))
	route("GET /api/categories", s.authed(s.handleListCategories))
	route("POST /api/categories", s.authed(s.handleCreateCategory))
	route("GET /api/categories/{id}", s.authed(s.handleGetCategory))
	route("PUT /api/categories/{id}", s.authed(s.handleUpdateCategory))
	route("DELETE /api/categories/{id}", s.authed(s.handleDeleteCategory))
	route("GET /api/categories/{id}/transactions", s.authed(s.handleCategoryTransactions))
	route("POST /api/import", s.authed(s.handleImport))
	s.handler = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Hits returns how many requests matched pattern, e.g. "GET /api/transactions".
func (s *Server) Hits(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[pattern]
}

// Fail makes every request matching pattern answer with status until
// cleared with Fail(pattern, 0).
func (s *Server) Fail(pattern string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, pattern)
		return
	}
	s.failures[pattern] = status
}

func (s *Server) instrument(pattern string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[pattern]++
		status := s.failures[pattern]
		s.mu.Unlock()
		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		next(w, r)
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, u *user)

func (s *Server) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(cookieName)
		if err != nil {
			http.Error(w, "No session cookie", http.StatusUnauthorized)
			return
		}
		id, err := uuid.Parse(ck.Value)
		if err != nil {
			http.Error(w, "Invalid session token", http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		u, ok := s.users[id]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "Invalid session", http.StatusUnauthorized)
			return
		}
		next(w, r, u)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Backend is healthy")
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in core.NewUser
	if !decode(w, r, &in) {
		return
	}
	if len(in.Password) < minPasswordLength {
		http.Error(w, "Password too short (minimum 8 characters)", http.StatusBadRequest)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcCost)
	if err != nil {
		http.Error(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	if _, taken := s.byName[in.Username]; taken {
		s.mu.Unlock()
		http.Error(w, "Username already taken", http.StatusConflict)
		return
	}
	u := &user{id: uuid.New(), username: in.Username, passwordHash: string(hash), createdAt: s.now().UTC()}
	s.users[u.id] = u
	s.byName[u.username] = u.id
	s.mu.Unlock()

	setSession(w, u.id.String(), 0)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in core.NewUser
	if !decode(w, r, &in) {
		return
	}
	s.mu.Lock()
	id, ok := s.byName[in.Username]
	var u *user
	if ok {
		u = s.users[id]
	}
	s.mu.Unlock()
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(in.Password)) != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	setSession(w, u.id.String(), 0)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	setSession(w, "", -1)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, u *user) {
	writeJSON(w, http.StatusOK, core.User{
		ID:           u.id.String(),
		Username:     u.username,
		PasswordHash: u.passwordHash,
		CreatedAt:    u.createdAt,
	})
}

type transactionIn struct {
	Description string     `json:"description"`
	Amount      float64    `json:"amount"`
	CategoryID  int64      `json:"category_id"`
	CreatedAt   *time.Time `json:"created_at"`
}

func (s *Server) handleListTransactions(w http.ResponseWriter, _ *http.Request, u *user) {
	s.mu.Lock()
	out := s.transactionsWhere(func(t *transaction) bool { return t.userID == u.id })
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request, u *user) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, found := s.transactions[id]
	if !found || t.userID != u.id {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.view(t))
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request, u *user) {
	var in transactionIn
	if !decode(w, r, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownsCategory(u.id, in.CategoryID) {
		http.Error(w, "Category not found", http.StatusBadRequest)
		return
	}
	s.nextTx++
	t := &transaction{
		id:          s.nextTx,
		userID:      u.id,
		categoryID:  in.CategoryID,
		description: in.Description,
		amount:      in.Amount,
		createdAt:   s.timestamp(in.CreatedAt),
	}
	s.transactions[t.id] = t
	writeJSON(w, http.StatusCreated, s.view(t))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request, u *user) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in transactionIn
	if !decode(w, r, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, found := s.transactions[id]
	if !found || t.userID != u.id {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	if !s.ownsCategory(u.id, in.CategoryID) {
		http.Error(w, "Category not found", http.StatusBadRequest)
		return
	}
	t.description = in.Description
	t.amount = in.Amount
	t.categoryID = in.CategoryID
	if in.CreatedAt != nil {
		t.createdAt = in.CreatedAt.UTC()
	}
	writeJSON(w, http.StatusOK, s.view(t))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request, u *user) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, found := s.transactions[id]
	if !found || t.userID != u.id {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	delete(s.transactions, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCategories(w http.ResponseWriter, _ *http.Request, u *user) {
	s.mu.Lock()
	out := make([]core.Category, 0)
	for _, c := range s.categories {
		if c.userID == u.id {
			out = append(out, c.view())
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request, u *user) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, found := s.categories[id]
	if !found || c.userID != u.id {
		http.Error(w, "Category not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c.view())
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request, u *user) {
	var in core.NewCategory
	if !decode(w, r, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.categoryByName(u.id, in.Name) != nil {
		http.Error(w, "Category already exists", http.StatusConflict)
		return
	}
	c := s.insertCategory(u.id, in.Name, s.now().UTC())
	writeJSON(w, http.StatusOK, c.view())
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request, u *user) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in core.NewCategory
	if !decode(w, r, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, found := s.categories[id]
	if !found || c.userID != u.id {
		http.Error(w, "Category not found", http.StatusNotFound)
		return
	}
	if other := s.categoryByName(u.id, in.Name); other != nil && other.id != c.id {
		http.Error(w, "Category already exists", http.StatusConflict)
		return
	}
	c.name = in.Name
	writeJSON(w, http.StatusOK, c.view())
}

// handleDeleteCategory removes the category together with its transactions.
func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request, u *user) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, found := s.categories[id]
	if !found || c.userID != u.id {
		http.Error(w, "Category not found", http.StatusNotFound)
		return
	}
	delete(s.categories, id)
	for tid, t := range s.transactions {
		if t.categoryID == id {
			delete(s.transactions, tid)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCategoryTransactions(w http.ResponseWriter, r *http.Request, u *user) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownsCategory(u.id, id) {
		http.Error(w, "Category not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.transactionsWhere(func(t *transaction) bool { return t.categoryID == id }))
}

type importCategory struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type importTransaction struct {
	Category    importCategory `json:"category"`
	Description string         `json:"description"`
	Amount      float64        `json:"amount"`
	CreatedAt   time.Time      `json:"created_at"`
}

type importPayload struct {
	Categories   []importCategory    `json:"categories"`
	Transactions []importTransaction `json:"transactions"`
}

// handleImport applies a document atomically. Categories are upserted by
// name. Each incoming transaction consumes one identical transaction that
// existed before the import, if any; the rest are inserted. Importing a
// fresh export leaves the data unchanged and duplicates in the document
// survive.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, u *user) {
	var in importPayload
	if !decode(w, r, &in) {
		return
	}
	names := map[string]bool{}
	for _, c := range in.Categories {
		names[c.Name] = true
	}
	for _, t := range in.Transactions {
		if !names[t.Category.Name] {
			http.Error(w, fmt.Sprintf("Unknown category %q", t.Category.Name), http.StatusBadRequest)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ids := map[string]int64{}
	for _, ic := range in.Categories {
		c := s.categoryByName(u.id, ic.Name)
		if c == nil {
			created := ic.CreatedAt
			if created.IsZero() {
				created = s.now()
			}
			c = s.insertCategory(u.id, ic.Name, created.UTC())
		}
		ids[ic.Name] = c.id
	}
	existing := s.transactionCounts(u.id)
	for _, it := range in.Transactions {
		catID := ids[it.Category.Name]
		key := txKey{categoryID: catID, description: it.Description, amount: it.Amount, createdAt: it.CreatedAt.UnixNano()}
		if existing[key] > 0 {
			existing[key]--
			continue
		}
		s.nextTx++
		s.transactions[s.nextTx] = &transaction{
			id:          s.nextTx,
			userID:      u.id,
			categoryID:  catID,
			description: it.Description,
			amount:      it.Amount,
			createdAt:   s.timestamp(&it.CreatedAt),
		}
	}
	w.WriteHeader(http.StatusOK)
}

// The helpers below expect s.mu to be held.

func (s *Server) insertCategory(userID uuid.UUID, name string, createdAt time.Time) *category {
	s.nextCategory++
	c := &category{id: s.nextCategory, userID: userID, name: name, createdAt: createdAt}
	s.categories[c.id] = c
	return c
}

func (s *Server) categoryByName(userID uuid.UUID, name string) *category {
	for _, c := range s.categories {
		if c.userID == userID && c.name == name {
			return c
		}
	}
	return nil
}

func (s *Server) ownsCategory(userID uuid.UUID, id int64) bool {
	c, ok := s.categories[id]
	return ok && c.userID == userID
}

// txKey identifies transactions that are indistinguishable in an export.
type txKey struct {
	categoryID  int64
	description string
	amount      float64
	createdAt   int64
}

// transactionCounts counts the user's transactions per txKey. Import
// matches against this snapshot so copies inside one document are all kept.
func (s *Server) transactionCounts(userID uuid.UUID) map[txKey]int {
	counts := map[txKey]int{}
	for _, t := range s.transactions {
		if t.userID != userID {
			continue
		}
		counts[txKey{categoryID: t.categoryID, description: t.description, amount: t.amount, createdAt: t.createdAt.UnixNano()}]++
	}
	return counts
}

func (s *Server) transactionsWhere(keep func(*transaction) bool) []core.Transaction {
	out := make([]core.Transaction, 0)
	for _, t := range s.transactions {
		if keep(t) {
			out = append(out, s.view(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *Server) view(t *transaction) core.Transaction {
	out := core.Transaction{
		ID:          t.id,
		Description: t.description,
		Amount:      t.amount,
		CreatedAt:   t.createdAt,
	}
	if c, ok := s.categories[t.categoryID]; ok {
		out.Category = c.view()
	}
	return out
}

func (s *Server) timestamp(t *time.Time) time.Time {
	if t == nil || t.IsZero() {
		return s.now().UTC()
	}
	return t.UTC()
}

func (c *category) view() core.Category {
	return core.Category{ID: c.id, Name: c.name, CreatedAt: c.createdAt}
}

func setSession(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		http.Error(w, "Expected application/json", http.StatusUnsupportedMediaType)
		return false
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusUnprocessableEntity)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
