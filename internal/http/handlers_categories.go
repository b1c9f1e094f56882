package http

import (
	"net/http"
	"strconv"

	"ecu/internal/log"
)

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	page, err := s.loader.LoadCategories(r.Context(), s.session(r))
	if err != nil {
		s.handleLoadError(w, r, err, "Failed to fetch categories")
		return
	}
	s.render(w, r, http.StatusOK, "categories.html", s.page("Categories", &page.User, page))
}

func (s *Server) handleCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, http.StatusNotFound, "Not found")
		return
	}
	page, err := s.loader.LoadCategory(r.Context(), s.session(r), id)
	if err != nil {
		s.handleLoadError(w, r, err, "Failed to fetch category")
		return
	}
	s.render(w, r, http.StatusOK, "category.html", s.page(page.Category.Name, &page.User, page))
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	cred, ok := s.credential(w, r)
	if !ok {
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	nc, err := ParseCategoryForm(r.Form)
	if err != nil {
		s.renderError(w, r, http.StatusUnprocessableEntity, formErrorMessage(err))
		return
	}
	cat, err := s.backend.CreateCategory(r.Context(), cred, nc)
	if err != nil {
		s.handleLoadError(w, r, err, "Failed to create category")
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Category created",
		log.FieldOperation, log.OpCreate,
		log.FieldCategoryID, cat.ID)
	s.mutationDone(w, r, "/categories", "Category saved")
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
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
	nc, err := ParseCategoryForm(r.Form)
	if err != nil {
		s.renderError(w, r, http.StatusUnprocessableEntity, formErrorMessage(err))
		return
	}
	if _, err := s.backend.UpdateCategory(r.Context(), cred, id, nc); err != nil {
		s.handleLoadError(w, r, err, "Failed to update category")
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Category renamed",
		log.FieldOperation, log.OpUpdate,
		log.FieldCategoryID, id)
	s.mutationDone(w, r, "/categories/"+strconv.FormatInt(id, 10), "Category renamed")
}

// handleDeleteCategory removes the category; the API removes its
// transactions with it.
func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	cred, ok := s.credential(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, http.StatusNotFound, "Not found")
		return
	}
	if err := s.backend.DeleteCategory(r.Context(), cred, id); err != nil {
		s.handleLoadError(w, r, err, "Failed to delete category")
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Category deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldCategoryID, id)
	s.mutationDone(w, r, "/categories", "Category deleted")
}
