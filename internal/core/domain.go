package core

import (
	"errors"
	"time"
)

type (
	// Category is a user-defined label grouping transactions.
	Category struct {
		ID        int64     `json:"id"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"created_at"`
	}

	// Transaction is a single financial record. The category is embedded
	// as returned by the API.
	Transaction struct {
		ID          int64     `json:"id"`
		Description string    `json:"description"`
		Amount      float64   `json:"amount"`
		CreatedAt   time.Time `json:"created_at"`
		Category    Category  `json:"category"`
	}

	// User is only ever observed through the session user query.
	User struct {
		ID           string    `json:"id"`
		Username     string    `json:"username"`
		PasswordHash string    `json:"password_hash"`
		CreatedAt    time.Time `json:"created_at"`
	}

	// NewTransaction is the write-side payload for transactions.
	// A nil CreatedAt lets the server assign the timestamp.
	NewTransaction struct {
		Description string
		Amount      float64
		CategoryID  int64
		CreatedAt   *time.Time
	}

	NewCategory struct {
		Name string `json:"name"`
	}

	NewUser struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	// ExportDocument is the on-disk export format.
	ExportDocument struct {
		Transactions []Transaction `json:"transactions"`
		Categories   []Category    `json:"categories"`
	}
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidID         = errors.New("invalid id")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrEmptyDescription  = errors.New("empty description")
	ErrEmptyCategoryName = errors.New("empty category name")
)

// IsIncome reports whether the transaction adds money.
func (t Transaction) IsIncome() bool {
	return t.Amount > 0
}

// Counts returns the number of transactions and categories in the document.
func (d ExportDocument) Counts() (transactions int, categories int) {
	return len(d.Transactions), len(d.Categories)
}
