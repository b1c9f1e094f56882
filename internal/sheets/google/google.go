// Package google writes export documents to a Google Sheets spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"ecu/internal/core"
	"ecu/internal/log"
)

const (
	transactionsColumns = "A:E"
	categoriesColumns   = "G:I"

	// maxTitleRunes is the longest sheet title the Sheets API accepts.
	maxTitleRunes = 100
)

var (
	transactionsHeader = []any{"ID", "Date", "Description", "Amount", "Category"}
	categoriesHeader   = []any{"Category ID", "Name", "Created"}
)

type Config struct {
	SpreadsheetID string
	// SheetName prefixes the per-user sheet titles.
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
	// Location renders timestamps; nil means time.Local.
	Location *time.Location
}

// Exporter writes each user's export document to a sheet of its own in
// one spreadsheet, replacing what the sheet held before.
type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	loc           *time.Location
	logger        *log.Logger

	// mu serializes sheet creation so concurrent exports do not add the
	// same sheet twice.
	mu sync.Mutex
}

// New creates an exporter authenticated with a service account.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Exporter, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	creds, err := credentialsJSON(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope),
		goption.WithHTTPClient(newHTTPClient()))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, cfg, logger), nil
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *gsheet.Service, cfg Config, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	name := cfg.SheetName
	if name == "" {
		name = "ECU Export"
	}
	return &Exporter{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     name,
		loc:           loc,
		logger:        logger.WithComponent(log.ComponentSheets),
	}
}

func credentialsJSON(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []byte(cfg.CredentialsJSON), nil
	case cfg.CredentialsFile != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
}

// newHTTPClient pools connections to the Sheets API.
func newHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// WriteExport writes doc to owner's sheet, creating it on first use. The
// sheet is cleared, then the transactions (columns A:E) and categories
// (columns G:I) are written. It returns the A1 range of the transactions
// block.
func (e *Exporter) WriteExport(ctx context.Context, owner string, doc core.ExportDocument) (string, error) {
	if e.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if strings.TrimSpace(owner) == "" {
		return "", errors.New("sheet owner is required")
	}
	sheet := SheetTitle(e.sheetName, owner)
	if err := e.ensureSheet(ctx, sheet); err != nil {
		return "", err
	}

	for _, cols := range []string{transactionsColumns, categoriesColumns} {
		rng := a1(sheet, cols)
		if _, err := e.svc.Spreadsheets.Values.Clear(e.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("clear %s: %w", rng, err)
		}
	}

	txRows := TransactionRows(doc.Transactions, e.loc)
	catRows := CategoryRows(doc.Categories, e.loc)
	txRange := a1(sheet, "A1:E"+strconv.Itoa(len(txRows)))
	catRange := a1(sheet, "G1:I"+strconv.Itoa(len(catRows)))

	req := &gsheet.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data: []*gsheet.ValueRange{
			{Range: txRange, Values: txRows},
			{Range: catRange, Values: catRows},
		},
	}
	if _, err := e.svc.Spreadsheets.Values.BatchUpdate(e.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("write export to sheet %s: %w", sheet, err)
	}

	e.logger.InfoContext(ctx, "Export written to Google Sheets",
		log.FieldSheetsRef, txRange,
		log.FieldTransactions, len(doc.Transactions),
		log.FieldCategories, len(doc.Categories))
	return txRange, nil
}

// ensureSheet adds a sheet titled title unless the spreadsheet has one.
func (e *Exporter) ensureSheet(ctx context.Context, title string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ss, err := e.svc.Spreadsheets.Get(e.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet %s: %w", e.spreadsheetID, err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}},
	}
	if _, err := e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", title, err)
	}
	e.logger.InfoContext(ctx, "Sheet created", "sheet", title)
	return nil
}

// SheetTitle names the sheet holding owner's export. Characters the Sheets
// UI rejects in titles become underscores and the result is cut to the
// API's length limit.
func SheetTitle(base, owner string) string {
	title := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', '*', '?', '/', '\\', ':':
			return '_'
		}
		return r
	}, base+" - "+strings.TrimSpace(owner))
	for utf8.RuneCountInString(title) > maxTitleRunes {
		_, size := utf8.DecodeLastRuneInString(title)
		title = title[:len(title)-size]
	}
	return title
}

// TransactionRows renders transactions with a header row.
func TransactionRows(txs []core.Transaction, loc *time.Location) [][]any {
	rows := make([][]any, 0, len(txs)+1)
	rows = append(rows, transactionsHeader)
	for _, t := range txs {
		rows = append(rows, []any{
			t.ID,
			core.FormatTimestampLocalForDisplay(t.CreatedAt, loc),
			t.Description,
			t.Amount,
			t.Category.Name,
		})
	}
	return rows
}

// CategoryRows renders categories with a header row.
func CategoryRows(cats []core.Category, loc *time.Location) [][]any {
	rows := make([][]any, 0, len(cats)+1)
	rows = append(rows, categoriesHeader)
	for _, c := range cats {
		rows = append(rows, []any{c.ID, c.Name, core.FormatTimestampLocalForDisplay(c.CreatedAt, loc)})
	}
	return rows
}

// a1 builds an A1 reference, quoting the sheet name.
func a1(sheet, rng string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + rng
}
