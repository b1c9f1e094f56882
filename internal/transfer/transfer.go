// Package transfer moves a user's whole dataset in and out of the API as a
// single JSON document.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"ecu/internal/activity"
	"ecu/internal/api"
	"ecu/internal/core"
	"ecu/internal/log"
)

// MaxDocumentBytes caps the size of an uploaded document.
const MaxDocumentBytes = 10 << 20

var (
	// ErrMalformedDocument is returned when an upload is not valid JSON.
	ErrMalformedDocument = errors.New("import file is not valid JSON")
	ErrDocumentTooLarge  = errors.New("import file is too large")
)

// API is the part of the API client transfers use.
type API interface {
	ListTransactions(ctx context.Context, cred api.Credential) ([]core.Transaction, error)
	ListCategories(ctx context.Context, cred api.Credential) ([]core.Category, error)
	Import(ctx context.Context, cred api.Credential, body []byte) error
}

// Sink receives an export document, e.g. a spreadsheet. owner identifies
// the user whose data doc is; sinks keep each owner's export apart.
type Sink interface {
	WriteExport(ctx context.Context, owner string, doc core.ExportDocument) (ref string, err error)
}

type Service struct {
	api      API
	recorder activity.Recorder
	logger   *log.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithRecorder(r activity.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l.WithComponent(log.ComponentTransfer)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(a API, opts ...Option) *Service {
	s := &Service{
		api:      a,
		recorder: activity.Nop{},
		logger:   log.New(log.DefaultConfig()).WithComponent(log.ComponentTransfer),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Filename returns the download name for an export taken at t.
func Filename(t time.Time) string {
	return "ECU-export-" + core.FormatISO(t) + ".json"
}

// Export fetches transactions and categories concurrently. If either
// request fails no document is returned.
func (s *Service) Export(ctx context.Context, cred api.Credential) (core.ExportDocument, error) {
	var doc core.ExportDocument
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		txs, err := s.api.ListTransactions(gctx, cred)
		if err != nil {
			return err
		}
		doc.Transactions = txs
		return nil
	})
	g.Go(func() error {
		cats, err := s.api.ListCategories(gctx, cred)
		if err != nil {
			return err
		}
		doc.Categories = cats
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.ExportDocument{}, err
	}
	if doc.Transactions == nil {
		doc.Transactions = []core.Transaction{}
	}
	if doc.Categories == nil {
		doc.Categories = []core.Category{}
	}
	return doc, nil
}

// ExportFile exports and encodes the document, returning its filename and
// contents.
func (s *Service) ExportFile(ctx context.Context, cred api.Credential) (string, []byte, error) {
	doc, err := s.Export(ctx, cred)
	if err != nil {
		s.record(ctx, activity.NewEvent(activity.KindExport, err))
		return "", nil, err
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		err = fmt.Errorf("encode export: %w", err)
		s.record(ctx, activity.NewEvent(activity.KindExport, err))
		return "", nil, err
	}
	body = append(body, '\n')

	ev := activity.NewEvent(activity.KindExport, nil)
	ev.Transactions, ev.Categories = doc.Counts()
	ev.Bytes = len(body)
	s.record(ctx, ev)

	s.logger.InfoContext(ctx, "Export completed",
		log.NewFields().WithOperation(log.OpExport).WithTransfer(ev.Transactions, ev.Categories, ev.Bytes).ToSlice()...)
	return Filename(s.now()), body, nil
}

// WriteExport writes the export document to w and returns its filename.
func (s *Service) WriteExport(ctx context.Context, cred api.Credential, w io.Writer) (string, error) {
	name, body, err := s.ExportFile(ctx, cred)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(body); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return name, nil
}

// ExportTo exports the data of owner into sink and returns the sink's
// reference.
func (s *Service) ExportTo(ctx context.Context, cred api.Credential, owner string, sink Sink) (string, error) {
	if owner == "" {
		return "", errors.New("export owner is required")
	}
	doc, err := s.Export(ctx, cred)
	if err == nil {
		var ref string
		ref, err = sink.WriteExport(ctx, owner, doc)
		if err == nil {
			ev := activity.NewEvent(activity.KindExportSheets, nil)
			ev.Transactions, ev.Categories = doc.Counts()
			ev.Detail = ref
			s.record(ctx, ev)
			s.logger.InfoContext(ctx, "Export written to sink",
				log.FieldOperation, log.OpExport,
				log.FieldSheetsRef, ref,
				log.FieldTransactions, ev.Transactions)
			return ref, nil
		}
	}
	s.record(ctx, activity.NewEvent(activity.KindExportSheets, err))
	return "", err
}

// Import reads a whole document from r and forwards it verbatim. Content
// that is not JSON is rejected before any request is made.
func (s *Service) Import(ctx context.Context, cred api.Credential, r io.Reader) error {
	body, err := io.ReadAll(io.LimitReader(r, MaxDocumentBytes+1))
	if err != nil {
		err = fmt.Errorf("read import file: %w", err)
		s.record(ctx, activity.NewEvent(activity.KindImport, err))
		return err
	}
	if len(body) > MaxDocumentBytes {
		s.record(ctx, activity.NewEvent(activity.KindImport, ErrDocumentTooLarge))
		return ErrDocumentTooLarge
	}
	if !json.Valid(bytes.TrimSpace(body)) {
		s.record(ctx, activity.NewEvent(activity.KindImport, ErrMalformedDocument))
		return ErrMalformedDocument
	}

	if err := s.api.Import(ctx, cred, body); err != nil {
		s.logger.LogError(ctx, "Import rejected", err, log.OpImport, nil)
		s.record(ctx, activity.NewEvent(activity.KindImport, err))
		return err
	}

	ev := activity.NewEvent(activity.KindImport, nil)
	var doc core.ExportDocument
	if json.Unmarshal(body, &doc) == nil {
		ev.Transactions, ev.Categories = doc.Counts()
	}
	ev.Bytes = len(body)
	s.record(ctx, ev)
	s.logger.InfoContext(ctx, "Import completed",
		log.NewFields().WithOperation(log.OpImport).WithTransfer(ev.Transactions, ev.Categories, ev.Bytes).ToSlice()...)
	return nil
}

// record journals e for the user on ctx.
func (s *Service) record(ctx context.Context, e activity.Event) {
	if e.UserID == "" {
		e.UserID = activity.UserFrom(ctx)
	}
	if err := s.recorder.Record(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "Failed to record activity",
			log.FieldEventKind, string(e.Kind),
			log.FieldError, err)
	}
}
