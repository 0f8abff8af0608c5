package http

import (
	"bytes"
	"encoding/json"
	"net/http"

	"ledger/internal/core"
	"ledger/internal/ledger"
	applog "ledger/internal/log"
	"ledger/internal/metrics"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	logger := applog.FromContext(r.Context()).WithComponent(applog.ComponentTemplate)
	if s.templates == nil {
		logger.ErrorContext(r.Context(), "Templates not loaded", applog.FieldPath, r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "index.html", s.session.View()); err != nil {
		logger.ErrorContext(r.Context(), "Index template execution failed",
			applog.FieldOperation, applog.OpRender,
			applog.FieldError, err,
			"template", "index.html")
		http.Error(w, "error rendering page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleLedgerPartial renders the categories, the selected category's
// expenses and the grand total.
func (s *Server) handleLedgerPartial(w http.ResponseWriter, r *http.Request) {
	s.writeLedger(w, r, s.session.View(), NewHTMXResponse())
}

func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	const op = "add_category"
	if !s.parseForm(w, r) {
		return
	}
	if _, err := s.session.AddCategory(r.Context(), sanitizeInput(r.PostForm.Get("name"))); err != nil {
		s.fail(w, r, op, err)
		return
	}
	s.succeed(w, r, op, NewHTMXResponse().TriggerSuccessNotification("Category added"), true)
}

func (s *Server) handleSelectCategory(w http.ResponseWriter, r *http.Request) {
	const op = "select_category"
	id, err := parseID(r)
	if err == nil {
		_, err = s.session.Select(id)
	}
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	s.succeed(w, r, op, NewHTMXResponse(), false)
}

func (s *Server) handleEditCategory(w http.ResponseWriter, r *http.Request) {
	const op = "edit_category"
	id, err := parseID(r)
	if err == nil {
		_, err = s.session.EditCategory(id)
	}
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	s.succeed(w, r, op, NewHTMXResponse(), false)
}

func (s *Server) handleSaveCategory(w http.ResponseWriter, r *http.Request) {
	const op = "save_category"
	if !s.parseForm(w, r) {
		return
	}
	if _, err := s.session.SaveEditedCategory(r.Context(), sanitizeInput(r.PostForm.Get("name"))); err != nil {
		s.fail(w, r, op, err)
		return
	}
	s.succeed(w, r, op, NewHTMXResponse().TriggerSuccessNotification("Category renamed"), true)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	const op = "delete_category"
	id, err := parseID(r)
	if err == nil {
		err = s.session.DeleteCategory(r.Context(), id)
	}
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	s.succeed(w, r, op, NewHTMXResponse().TriggerSuccessNotification("Category deleted"), true)
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	const op = "add_expense"
	if !s.parseForm(w, r) {
		return
	}
	amount, err := core.ParseAmount(r.PostForm.Get("amount"))
	if err == nil {
		_, err = s.session.AddExpense(r.Context(), sanitizeInput(r.PostForm.Get("name")), amount)
	}
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	s.succeed(w, r, op, NewHTMXResponse().TriggerSuccessNotification("Expense added"), true)
}

func (s *Server) handleEditExpense(w http.ResponseWriter, r *http.Request) {
	const op = "edit_expense"
	id, err := parseID(r)
	if err == nil {
		_, err = s.session.EditExpense(id)
	}
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	s.succeed(w, r, op, NewHTMXResponse(), false)
}

func (s *Server) handleSaveExpense(w http.ResponseWriter, r *http.Request) {
	const op = "save_expense"
	if !s.parseForm(w, r) {
		return
	}
	amount, err := core.ParseAmount(r.PostForm.Get("amount"))
	if err == nil {
		_, err = s.session.SaveEditedExpense(r.Context(), sanitizeInput(r.PostForm.Get("name")), amount)
	}
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	s.succeed(w, r, op, NewHTMXResponse().TriggerSuccessNotification("Expense updated"), true)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	const op = "delete_expense"
	id, err := parseID(r)
	if err == nil {
		err = s.session.DeleteExpense(r.Context(), id)
	}
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	s.succeed(w, r, op, NewHTMXResponse().TriggerSuccessNotification("Expense deleted"), true)
}

func (s *Server) handleCancelEdit(w http.ResponseWriter, r *http.Request) {
	s.session.CancelEdit()
	s.succeed(w, r, "cancel_edit", NewHTMXResponse(), false)
}

type apiCategory struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	TotalCents int64  `json:"total_cents"`
	Total      string `json:"total"`
}

type apiExpense struct {
	ID          int64  `json:"id"`
	CategoryID  int64  `json:"category_id"`
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
	Amount      string `json:"amount"`
}

type apiLedger struct {
	Categories []apiCategory `json:"categories"`
	Expenses   []apiExpense  `json:"expenses"`
	TotalCents int64         `json:"total_cents"`
	Total      string        `json:"total"`
}

func newAPILedger(snap ledger.Snapshot) apiLedger {
	out := apiLedger{
		Categories: make([]apiCategory, 0, len(snap.Categories)),
		Expenses:   make([]apiExpense, 0, len(snap.Expenses)),
		TotalCents: snap.Total.Cents,
		Total:      snap.Total.Decimal(),
	}
	for _, c := range snap.Categories {
		out.Categories = append(out.Categories, apiCategory{
			ID:         c.ID,
			Name:       c.Name,
			TotalCents: c.Total.Cents,
			Total:      c.Total.Decimal(),
		})
	}
	for _, x := range snap.Expenses {
		out.Expenses = append(out.Expenses, apiExpense{
			ID:          x.ID,
			CategoryID:  x.CategoryID,
			Name:        x.Name,
			AmountCents: x.Amount.Cents,
			Amount:      x.Amount.Decimal(),
		})
	}
	return out
}

// handleAPILedger returns the whole ledger as JSON.
func (s *Server) handleAPILedger(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(newAPILedger(s.session.Store().Snapshot())); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Encode ledger failed", applog.FieldError, err)
	}
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Parse form error",
			applog.FieldError, err,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path)
		BadRequestError("Invalid request format").Write(w)
		return false
	}
	return true
}

// succeed answers a completed action: HTMX callers get the refreshed ledger
// partial, plain form posts are redirected back to the page.
func (s *Server) succeed(w http.ResponseWriter, r *http.Request, op string, b *HTMXResponseBuilder, changed bool) {
	s.observe(op, metrics.OutcomeOK)
	if !isHTMX(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	view := s.session.View()
	if changed {
		b.TriggerLedgerChanged(view.Total.String())
	}
	s.writeLedger(w, r, view, b)
}

// fail answers a rejected or failed action. The ledger is left as it was, so
// HTMX callers get the unchanged partial with an error notification.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	status, outcome := statusFor(err)
	s.observe(op, outcome)

	logger := applog.FromContext(ctx)
	if status == http.StatusInternalServerError {
		applog.NewStructuredLogger(logger).LogError(ctx, "Ledger action failed", err, applog.ComponentLedger, op, nil)
	} else {
		logger.InfoContext(ctx, "Ledger action rejected",
			applog.FieldOperation, op,
			applog.FieldStatusCode, status,
			applog.FieldError, err)
	}

	msg := userMessage(err)
	if !isHTMX(r) {
		ErrorResponse(status, msg).Write(w)
		return
	}
	s.writeLedger(w, r, s.session.View(), NewHTMXResponse().Status(status).TriggerErrorNotification(msg))
}

func (s *Server) writeLedger(w http.ResponseWriter, r *http.Request, view ledger.View, b *HTMXResponseBuilder) {
	if s.templates == nil {
		InternalServerError("Templates not loaded").Write(w)
		return
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "ledger", view); err != nil {
		applog.FromContext(r.Context()).WithComponent(applog.ComponentTemplate).ErrorContext(r.Context(), "Ledger template execution failed",
			applog.FieldOperation, applog.OpRender,
			applog.FieldError, err,
			"template", "ledger")
		InternalServerError("Error rendering ledger").Write(w)
		return
	}
	b.BodyHTML(buf.String()).Write(w)
}

func (s *Server) observe(op, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, outcome)
	}
}
