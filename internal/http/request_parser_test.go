package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"ecu/internal/core"
)

func TestParseTransactionForm(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	tests := []struct {
		name     string
		form     url.Values
		want     core.NewTransaction
		wantTime *time.Time
		wantErr  error
	}{
		{
			name: "minimal form",
			form: url.Values{"description": {"Coffee"}, "amount": {"-4.5"}, "category_id": {"3"}},
			want: core.NewTransaction{Description: "Coffee", Amount: -4.5, CategoryID: 3},
		},
		{
			name: "comma decimal and trimmed description",
			form: url.Values{"description": {"  Salary\x00 "}, "amount": {"1200,00"}, "category_id": {"1"}},
			want: core.NewTransaction{Description: "Salary", Amount: 1200, CategoryID: 1},
		},
		{
			name:     "local timestamp",
			form:     url.Values{"description": {"Rent"}, "amount": {"-700"}, "category_id": {"2"}, "created_at": {"2024-01-01T10:00:00"}},
			want:     core.NewTransaction{Description: "Rent", Amount: -700, CategoryID: 2},
			wantTime: ptr(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
		},
		{
			name:    "missing description",
			form:    url.Values{"amount": {"1"}, "category_id": {"1"}},
			wantErr: core.ErrEmptyDescription,
		},
		{
			name:    "bad amount",
			form:    url.Values{"description": {"x"}, "amount": {"ten"}, "category_id": {"1"}},
			wantErr: core.ErrInvalidAmount,
		},
		{
			name:    "no category",
			form:    url.Values{"description": {"x"}, "amount": {"1"}},
			wantErr: core.ErrInvalidID,
		},
		{
			name:    "negative category",
			form:    url.Values{"description": {"x"}, "amount": {"1"}, "category_id": {"-2"}},
			wantErr: core.ErrInvalidID,
		},
		{
			name:    "bad date",
			form:    url.Values{"description": {"x"}, "amount": {"1"}, "category_id": {"1"}, "created_at": {"yesterday"}},
			wantErr: core.ErrInvalidTimestamp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTransactionForm(tt.form, loc)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Description != tt.want.Description || got.Amount != tt.want.Amount || got.CategoryID != tt.want.CategoryID {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			switch {
			case tt.wantTime == nil && got.CreatedAt != nil:
				t.Errorf("CreatedAt = %v, want nil", got.CreatedAt)
			case tt.wantTime != nil && (got.CreatedAt == nil || !got.CreatedAt.Equal(*tt.wantTime)):
				t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, tt.wantTime)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestParseCategoryForm(t *testing.T) {
	got, err := ParseCategoryForm(url.Values{"name": {"  Food "}})
	if err != nil || got.Name != "Food" {
		t.Fatalf("got %+v, %v", got, err)
	}
	if _, err := ParseCategoryForm(url.Values{"name": {"   "}}); !errors.Is(err, core.ErrEmptyCategoryName) {
		t.Fatalf("blank name error = %v", err)
	}
}

func TestParseCredentialsForm(t *testing.T) {
	got, err := ParseCredentialsForm(url.Values{"username": {" ana "}, "password": {" secret "}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Username != "ana" || got.Password != " secret " {
		t.Errorf("got %+v", got)
	}

	for _, form := range []url.Values{
		{"username": {"ana"}},
		{"password": {"secret"}},
		{"username": {" "}, "password": {"secret"}},
	} {
		if _, err := ParseCredentialsForm(form); !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("form %v: error = %v", form, err)
		}
	}
}

func TestFormErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{core.ErrEmptyDescription, "Description is required"},
		{core.ErrInvalidAmount, "Invalid amount"},
		{fmt.Errorf("category: %w", core.ErrInvalidID), "Please choose a category"},
		{core.ErrInvalidTimestamp, "Invalid date"},
		{core.ErrEmptyCategoryName, "Category name is required"},
		{ErrMissingCredentials, "Username and password are required"},
		{errors.New("boom"), "Invalid request format"},
	}
	for _, tt := range tests {
		if got := formErrorMessage(tt.err); got != tt.want {
			t.Errorf("formErrorMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestPathID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/transactions/42", nil)
	req.SetPathValue("id", "42")
	if id, err := pathID(req); err != nil || id != 42 {
		t.Fatalf("pathID = %d, %v", id, err)
	}
	req.SetPathValue("id", "abc")
	if _, err := pathID(req); !errors.Is(err, core.ErrInvalidID) {
		t.Fatalf("non-numeric id error = %v", err)
	}
}

func TestParseFormOrFail(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("field=value"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if result := ParseFormOrFail(req); result != nil {
		t.Error("Expected nil for valid form, got error response")
	}
	if req.Form.Get("field") != "value" {
		t.Error("Form was not parsed correctly")
	}
}
