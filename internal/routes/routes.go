// Package routes loads the data each page needs, checking the session
// first.
package routes

import (
	"context"

	"golang.org/x/sync/errgroup"

	"ecu/internal/api"
	"ecu/internal/core"
	"ecu/internal/session"
)

// Redirect tells the caller to navigate elsewhere instead of rendering.
type Redirect struct {
	To    string
	Cause error
}

func (r *Redirect) Error() string { return "redirect to " + r.To }

func (r *Redirect) Unwrap() error { return r.Cause }

// Data is the part of the API client page loaders read from.
type Data interface {
	ListTransactions(ctx context.Context, cred api.Credential) ([]core.Transaction, error)
	GetTransaction(ctx context.Context, cred api.Credential, id int64) (core.Transaction, error)
	ListCategories(ctx context.Context, cred api.Credential) ([]core.Category, error)
	GetCategory(ctx context.Context, cred api.Credential, id int64) (core.Category, error)
	ListCategoryTransactions(ctx context.Context, cred api.Credential, id int64) ([]core.Transaction, error)
}

type Loader struct {
	data Data
}

func NewLoader(data Data) *Loader {
	return &Loader{data: data}
}

// LoadUser confirms the session. Any failure becomes a *Redirect to the
// login page.
func LoadUser(ctx context.Context, sess *session.Session) (core.User, error) {
	u, err := sess.Check(ctx)
	if err != nil {
		return core.User{}, &Redirect{To: session.LoginPath, Cause: err}
	}
	return u, nil
}

type TransactionsPage struct {
	User         core.User
	Transactions []core.Transaction
	Categories   []core.Category
	Summary      core.Summary
}

// LoadTransactions loads the transaction list and the categories for the
// create form concurrently.
func (l *Loader) LoadTransactions(ctx context.Context, sess *session.Session) (TransactionsPage, error) {
	u, err := LoadUser(ctx, sess)
	if err != nil {
		return TransactionsPage{}, err
	}
	cred := sess.Credential()
	page := TransactionsPage{User: u}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		txs, err := l.data.ListTransactions(gctx, cred)
		page.Transactions = txs
		return err
	})
	g.Go(func() error {
		cats, err := l.data.ListCategories(gctx, cred)
		page.Categories = cats
		return err
	})
	if err := g.Wait(); err != nil {
		return TransactionsPage{}, err
	}
	page.Summary = core.Summarize(page.Transactions)
	return page, nil
}

type CategoriesPage struct {
	User       core.User
	Categories []core.Category
}

func (l *Loader) LoadCategories(ctx context.Context, sess *session.Session) (CategoriesPage, error) {
	u, err := LoadUser(ctx, sess)
	if err != nil {
		return CategoriesPage{}, err
	}
	cats, err := l.data.ListCategories(ctx, sess.Credential())
	if err != nil {
		return CategoriesPage{}, err
	}
	return CategoriesPage{User: u, Categories: cats}, nil
}

type TransactionPage struct {
	User        core.User
	Transaction core.Transaction
	Categories  []core.Category
}

func (l *Loader) LoadTransaction(ctx context.Context, sess *session.Session, id int64) (TransactionPage, error) {
	u, err := LoadUser(ctx, sess)
	if err != nil {
		return TransactionPage{}, err
	}
	cred := sess.Credential()
	page := TransactionPage{User: u}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tx, err := l.data.GetTransaction(gctx, cred, id)
		page.Transaction = tx
		return err
	})
	g.Go(func() error {
		cats, err := l.data.ListCategories(gctx, cred)
		page.Categories = cats
		return err
	})
	if err := g.Wait(); err != nil {
		return TransactionPage{}, err
	}
	return page, nil
}

type CategoryPage struct {
	User         core.User
	Category     core.Category
	Transactions []core.Transaction
	Summary      core.Summary
}

func (l *Loader) LoadCategory(ctx context.Context, sess *session.Session, id int64) (CategoryPage, error) {
	u, err := LoadUser(ctx, sess)
	if err != nil {
		return CategoryPage{}, err
	}
	cred := sess.Credential()
	cat, err := l.data.GetCategory(ctx, cred, id)
	if err != nil {
		return CategoryPage{}, err
	}
	txs, err := l.data.ListCategoryTransactions(ctx, cred, id)
	if err != nil {
		return CategoryPage{}, err
	}
	return CategoryPage{User: u, Category: cat, Transactions: txs, Summary: core.Summarize(txs)}, nil
}
