package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ecu/internal/activity"
	"ecu/internal/api"
	"ecu/internal/api/memory"
	"ecu/internal/core"
	"ecu/internal/log"
)

type journal struct {
	mu     sync.Mutex
	events []activity.Event
}

func (j *journal) Record(_ context.Context, e activity.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
	return nil
}

func (j *journal) last() activity.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.events[len(j.events)-1]
}

type fixture struct {
	client  *api.Client
	backend *memory.Server
	cred    api.Credential
	journal *journal
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := memory.NewServer(memory.WithBcryptCost(bcrypt.MinCost))
	ts := httptest.NewServer(backend)
	t.Cleanup(ts.Close)
	c := api.New(ts.URL, api.WithLogger(log.Discard()))
	cred, err := c.Signup(context.Background(), core.NewUser{Username: "ana", Password: "password123"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	j := &journal{}
	svc := New(c, WithRecorder(j), WithLogger(log.Discard()),
		WithClock(func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }))
	return &fixture{client: c, backend: backend, cred: cred, journal: j, svc: svc}
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	food, err := f.client.CreateCategory(ctx, f.cred, core.NewCategory{Name: "Food"})
	if err != nil {
		t.Fatalf("category: %v", err)
	}
	pay, _ := f.client.CreateCategory(ctx, f.cred, core.NewCategory{Name: "Salary"})
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for _, nt := range []core.NewTransaction{
		{Description: "Coffee", Amount: -4.5, CategoryID: food.ID, CreatedAt: &at},
		{Description: "Pay", Amount: 1000, CategoryID: pay.ID, CreatedAt: &at},
	} {
		if _, err := f.client.CreateTransaction(ctx, f.cred, nt); err != nil {
			t.Fatalf("transaction: %v", err)
		}
	}
}

func TestExportMatchesListCalls(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	doc, err := f.svc.Export(ctx, f.cred)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	txs, _ := f.client.ListTransactions(ctx, f.cred)
	cats, _ := f.client.ListCategories(ctx, f.cred)
	if !reflect.DeepEqual(doc.Transactions, txs) || !reflect.DeepEqual(doc.Categories, cats) {
		t.Fatalf("export differs from list calls:\n%+v\n%+v", doc, core.ExportDocument{Transactions: txs, Categories: cats})
	}
}

func TestExportFailsWhenEitherListFails(t *testing.T) {
	for _, pattern := range []string{"GET /api/transactions", "GET /api/categories"} {
		f := newFixture(t)
		f.backend.Fail(pattern, http.StatusInternalServerError)
		var buf bytes.Buffer
		if _, err := f.svc.WriteExport(context.Background(), f.cred, &buf); err == nil {
			t.Fatalf("%s failing: expected error", pattern)
		}
		if buf.Len() != 0 {
			t.Fatalf("%s failing: partial document written", pattern)
		}
		if f.journal.last().Success {
			t.Fatalf("%s failing: activity recorded as success", pattern)
		}
	}
}

func TestWriteExportDocumentAndName(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	var buf bytes.Buffer
	name, err := f.svc.WriteExport(context.Background(), f.cred, &buf)
	if err != nil {
		t.Fatalf("write export: %v", err)
	}
	if name != "ECU-export-2024-05-06T07:08:09.000Z.json" {
		t.Fatalf("filename = %q", name)
	}
	var doc core.ExportDocument
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("export is not JSON: %v", err)
	}
	if n, c := doc.Counts(); n != 2 || c != 2 {
		t.Fatalf("counts = %d,%d", n, c)
	}
	ev := f.journal.last()
	if ev.Kind != activity.KindExport || !ev.Success || ev.Transactions != 2 || ev.Bytes != buf.Len() {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestExportImportRoundTripIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	before, err := f.svc.Export(ctx, f.cred)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var buf bytes.Buffer
	if _, err := f.svc.WriteExport(ctx, f.cred, &buf); err != nil {
		t.Fatalf("write export: %v", err)
	}
	if err := f.svc.Import(ctx, f.cred, &buf); err != nil {
		t.Fatalf("import: %v", err)
	}
	after, err := f.svc.Export(ctx, f.cred)
	if err != nil {
		t.Fatalf("export after import: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("dataset changed by round trip:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestImportRejectsMalformedWithoutRequest(t *testing.T) {
	f := newFixture(t)
	for _, in := range []string{"", "not json", `{"transactions": [`} {
		err := f.svc.Import(context.Background(), f.cred, strings.NewReader(in))
		if !errors.Is(err, ErrMalformedDocument) {
			t.Fatalf("%q: expected ErrMalformedDocument, got %v", in, err)
		}
	}
	if hits := f.backend.Hits("POST /api/import"); hits != 0 {
		t.Fatalf("malformed import reached the API %d times", hits)
	}
}

func TestImportSurfacesServerRejection(t *testing.T) {
	f := newFixture(t)
	doc := `{"categories":[],"transactions":[{"category":{"name":"Ghost","created_at":"2024-01-01T00:00:00Z"},"description":"x","amount":1,"created_at":"2024-01-01T00:00:00Z"}]}`
	err := f.svc.Import(context.Background(), f.cred, strings.NewReader(doc))
	if api.Message(err, "") != "Failed to import data" {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev := f.journal.last(); ev.Success || ev.Kind != activity.KindImport {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

type sinkFunc func(ctx context.Context, owner string, doc core.ExportDocument) (string, error)

func (f sinkFunc) WriteExport(ctx context.Context, owner string, doc core.ExportDocument) (string, error) {
	return f(ctx, owner, doc)
}

func TestExportTo(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	var (
		got   core.ExportDocument
		owner string
	)
	ref, err := f.svc.ExportTo(context.Background(), f.cred, "ana", sinkFunc(func(_ context.Context, o string, doc core.ExportDocument) (string, error) {
		got, owner = doc, o
		return "Transactions!A1:F3", nil
	}))
	if err != nil || ref != "Transactions!A1:F3" {
		t.Fatalf("ExportTo = %q, %v", ref, err)
	}
	if owner != "ana" || len(got.Transactions) != 2 {
		t.Fatalf("sink received %d transactions for %q", len(got.Transactions), owner)
	}
	if ev := f.journal.last(); ev.Kind != activity.KindExportSheets || !ev.Success {
		t.Fatalf("unexpected event: %+v", ev)
	}

	boom := errors.New("quota exceeded")
	_, err = f.svc.ExportTo(context.Background(), f.cred, "ana", sinkFunc(func(context.Context, string, core.ExportDocument) (string, error) {
		return "", boom
	}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}

	calls := 0
	_, err = f.svc.ExportTo(context.Background(), f.cred, "", sinkFunc(func(context.Context, string, core.ExportDocument) (string, error) {
		calls++
		return "", nil
	}))
	if err == nil || calls != 0 {
		t.Fatalf("export without owner: err = %v, sink calls = %d", err, calls)
	}
}

func TestEventsCarryContextUser(t *testing.T) {
	f := newFixture(t)
	ctx := activity.WithUser(context.Background(), "0b6f1c9e-8d5a-4f7e-9a51-2f6d0e4c7b13")
	if _, _, err := f.svc.ExportFile(ctx, f.cred); err != nil {
		t.Fatalf("export: %v", err)
	}
	if ev := f.journal.last(); ev.UserID != "0b6f1c9e-8d5a-4f7e-9a51-2f6d0e4c7b13" {
		t.Fatalf("export event user = %q", ev.UserID)
	}
	if err := f.svc.Import(ctx, f.cred, strings.NewReader("{oops")); !errors.Is(err, ErrMalformedDocument) {
		t.Fatalf("import: %v", err)
	}
	if ev := f.journal.last(); ev.UserID != "0b6f1c9e-8d5a-4f7e-9a51-2f6d0e4c7b13" || ev.Success {
		t.Fatalf("import event = %+v", ev)
	}
}
