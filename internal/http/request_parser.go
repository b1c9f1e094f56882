// Package http provides HTTP server and handler implementations.
//
// This file implements parsing and validation of the HTML forms posted by
// the pages.

package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ecu/internal/core"
)

var ErrMissingCredentials = errors.New("username and password are required")

// ParseTransactionForm reads description, amount, category_id and the
// optional created_at. created_at is a local wall-clock time in loc.
func ParseTransactionForm(form url.Values, loc *time.Location) (core.NewTransaction, error) {
	nt := core.NewTransaction{Description: sanitizeInput(form.Get("description"))}
	if nt.Description == "" {
		return core.NewTransaction{}, core.ErrEmptyDescription
	}

	amount, err := core.ParseAmount(form.Get("amount"))
	if err != nil {
		return core.NewTransaction{}, err
	}
	nt.Amount = amount

	id, err := parseID(form.Get("category_id"))
	if err != nil {
		return core.NewTransaction{}, fmt.Errorf("category: %w", err)
	}
	nt.CategoryID = id

	if v := strings.TrimSpace(form.Get("created_at")); v != "" {
		t, err := core.ParseLocalTimestamp(v, loc)
		if err != nil {
			return core.NewTransaction{}, err
		}
		nt.CreatedAt = &t
	}
	return nt, nil
}

func ParseCategoryForm(form url.Values) (core.NewCategory, error) {
	name := sanitizeInput(form.Get("name"))
	if name == "" {
		return core.NewCategory{}, core.ErrEmptyCategoryName
	}
	return core.NewCategory{Name: name}, nil
}

// ParseCredentialsForm reads the login/signup form. The password is not
// trimmed.
func ParseCredentialsForm(form url.Values) (core.NewUser, error) {
	u := core.NewUser{
		Username: sanitizeInput(form.Get("username")),
		Password: form.Get("password"),
	}
	if u.Username == "" || u.Password == "" {
		return core.NewUser{}, ErrMissingCredentials
	}
	return u, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, core.ErrInvalidID
	}
	return id, nil
}

// pathID reads the {id} wildcard.
func pathID(r *http.Request) (int64, error) {
	return parseID(r.PathValue("id"))
}

// formErrorMessage turns a parse error into text for the user.
func formErrorMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrEmptyDescription):
		return "Description is required"
	case errors.Is(err, core.ErrInvalidAmount):
		return "Invalid amount"
	case errors.Is(err, core.ErrInvalidID):
		return "Please choose a category"
	case errors.Is(err, core.ErrInvalidTimestamp):
		return "Invalid date"
	case errors.Is(err, core.ErrEmptyCategoryName):
		return "Category name is required"
	case errors.Is(err, ErrMissingCredentials):
		return "Username and password are required"
	default:
		return "Invalid request format"
	}
}

// ParseFormOrFail parses the request form and returns an error response on
// failure, nil on success.
func ParseFormOrFail(r *http.Request) *HTMXResponseBuilder {
	if err := r.ParseForm(); err != nil {
		return BadRequestError("Invalid request format")
	}
	return nil
}
