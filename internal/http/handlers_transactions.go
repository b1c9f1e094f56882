package http

import (
	"net/http"
	"strconv"

	"ecu/internal/log"
)

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := s.loader.LoadTransactions(r.Context(), s.session(r))
	if err != nil {
		s.handleLoadError(w, r, err, "Failed to fetch transactions")
		return
	}
	s.render(w, r, http.StatusOK, "transactions.html", s.page("Transactions", &page.User, page))
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, http.StatusNotFound, "Not found")
		return
	}
	page, err := s.loader.LoadTransaction(r.Context(), s.session(r), id)
	if err != nil {
		s.handleLoadError(w, r, err, "Failed to fetch transaction")
		return
	}
	s.render(w, r, http.StatusOK, "transaction.html", s.page(page.Transaction.Description, &page.User, page))
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	cred, ok := s.credential(w, r)
	if !ok {
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	nt, err := ParseTransactionForm(r.Form, s.loc)
	if err != nil {
		s.renderError(w, r, http.StatusUnprocessableEntity, formErrorMessage(err))
		return
	}

	tx, err := s.backend.CreateTransaction(r.Context(), cred, nt)
	if err != nil {
		s.handleLoadError(w, r, err, "Failed to create transaction")
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Transaction created",
		log.FieldOperation, log.OpCreate,
		log.FieldTransactionID, tx.ID,
		log.FieldCategoryID, tx.Category.ID)
	s.mutationDone(w, r, "/transactions", "Transaction saved")
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	cred, ok := s.credential(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, http.StatusNotFound, "Not found")
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	nt, err := ParseTransactionForm(r.Form, s.loc)
	if err != nil {
		s.renderError(w, r, http.StatusUnprocessableEntity, formErrorMessage(err))
		return
	}

	if _, err := s.backend.UpdateTransaction(r.Context(), cred, id, nt); err != nil {
		s.handleLoadError(w, r, err, "Failed to update transaction")
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Transaction updated",
		log.FieldOperation, log.OpUpdate,
		log.FieldTransactionID, id)
	s.mutationDone(w, r, "/transactions/"+strconv.FormatInt(id, 10), "Transaction updated")
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	cred, ok := s.credential(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, http.StatusNotFound, "Not found")
		return
	}
	if err := s.backend.DeleteTransaction(r.Context(), cred, id); err != nil {
		s.handleLoadError(w, r, err, "Failed to delete transaction")
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Transaction deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldTransactionID, id)
	s.mutationDone(w, r, "/transactions", "Transaction deleted")
}
