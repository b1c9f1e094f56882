package http

import (
	"errors"
	"net/http"
	"strconv"

	"ecu/internal/activity"
	"ecu/internal/api"
	"ecu/internal/core"
	"ecu/internal/log"
	"ecu/internal/routes"
	"ecu/internal/transfer"
)

const activityPageSize = 50

// handleExport downloads the export document as a JSON attachment.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	u, cred, ok := s.sessionUser(w, r, "Failed to export data")
	if !ok {
		return
	}
	name, body, err := s.transfer.ExportFile(activity.WithUser(r.Context(), u.ID), cred)
	if err != nil {
		s.handleLoadError(w, r, err, "Failed to export data")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleImport uploads the "file" form field. Failures are reported as a
// blocking alert.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	u, cred, ok := s.sessionUser(w, r, "Failed to import data")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, transfer.MaxDocumentBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.importFailed(w, r, http.StatusRequestEntityTooLarge, "The selected file is too large")
			return
		}
		s.importFailed(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.importFailed(w, r, http.StatusUnprocessableEntity, "Please choose a file to import")
		return
	}
	defer file.Close()

	err = s.transfer.Import(activity.WithUser(r.Context(), u.ID), cred, file)
	switch {
	case err == nil:
	case errors.Is(err, transfer.ErrMalformedDocument):
		s.importFailed(w, r, http.StatusUnprocessableEntity, "The selected file is not valid JSON")
		return
	case errors.Is(err, transfer.ErrDocumentTooLarge):
		s.importFailed(w, r, http.StatusRequestEntityTooLarge, "The selected file is too large")
		return
	case errors.Is(err, api.ErrUnauthorized):
		s.clearCredentialCookie(w)
		redirect(w, r, loginPath)
		return
	default:
		s.importFailed(w, r, http.StatusBadGateway, api.Message(err, "Failed to import data"))
		return
	}

	log.FromContext(r.Context()).InfoContext(r.Context(), "Import uploaded",
		log.FieldOperation, log.OpImport,
		"filename", header.Filename,
		log.FieldBytes, header.Size)
	if isHTMX(r) {
		NewHTMXResponse().
			TriggerPageRefresh().
			TriggerSuccessNotification("Data imported").
			Write(w)
		return
	}
	http.Redirect(w, r, "/transactions", http.StatusSeeOther)
}

func (s *Server) importFailed(w http.ResponseWriter, r *http.Request, status int, message string) {
	if isHTMX(r) {
		NewHTMXResponse().
			Status(status).
			TriggerBlockingError(message).
			Write(w)
		return
	}
	s.renderError(w, r, status, message)
}

func (s *Server) handleExportSheets(w http.ResponseWriter, r *http.Request) {
	if s.sheets == nil {
		NotFoundError("Google Sheets export is not configured").Write(w)
		return
	}
	u, cred, ok := s.sessionUser(w, r, "Failed to export to Google Sheets")
	if !ok {
		return
	}
	ref, err := s.transfer.ExportTo(activity.WithUser(r.Context(), u.ID), cred, u.Username, s.sheets)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			s.clearCredentialCookie(w)
			redirect(w, r, loginPath)
			return
		}
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Sheets export failed",
			log.FieldOperation, log.OpExport,
			log.FieldError, err)
		BadGatewayError(api.Message(err, "Failed to export to Google Sheets")).Write(w)
		return
	}
	NewHTMXResponse().
		TriggerSuccessNotification("Exported to " + ref).
		Write(w)
}

// sessionUser confirms the browser's session and returns its user and
// credential. When it reports false the response has been written.
func (s *Server) sessionUser(w http.ResponseWriter, r *http.Request, fallback string) (core.User, api.Credential, bool) {
	cred, ok := s.credential(w, r)
	if !ok {
		return core.User{}, "", false
	}
	u, err := routes.LoadUser(r.Context(), s.session(r))
	if err != nil {
		s.handleLoadError(w, r, err, fallback)
		return core.User{}, "", false
	}
	return u, cred, true
}

type activityPage struct {
	Events []activity.Event
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	u, err := routes.LoadUser(r.Context(), s.session(r))
	if err != nil {
		s.handleLoadError(w, r, err, "Failed to load activity")
		return
	}
	if s.journal == nil {
		s.renderError(w, r, http.StatusNotFound, "Activity journal is not configured")
		return
	}
	events, err := s.journal.Recent(r.Context(), u.ID, activityPageSize)
	if err != nil {
		log.FromContext(r.Context()).WithComponent(log.ComponentStorage).ErrorContext(r.Context(), "Failed to read activity",
			log.FieldError, err,
			"error_type", log.ErrorTypeDatabase)
		s.renderError(w, r, http.StatusInternalServerError, "Failed to load activity")
		return
	}
	page := activityPage{Events: events}
	s.render(w, r, http.StatusOK, "activity.html", s.page("Activity", &u, page))
}
