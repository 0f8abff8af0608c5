// Package ledger holds spending categories and the expenses recorded under
// them. Category totals are derived from expenses on every read, so they
// cannot drift from the expenses they summarize.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"ledger/internal/core"
	"ledger/internal/events"
	applog "ledger/internal/log"
)

// Store is the in-memory ledger. All state is lost when the process exits.
type Store struct {
	mu             sync.RWMutex
	categories     []core.Category // Total is left zero here and filled on read
	expenses       []core.Expense
	nextCategoryID int64
	nextExpenseID  int64

	sink   events.Sink
	logger *applog.Logger
}

type Option func(*Store)

// WithSink sends every successful mutation to sink.
func WithSink(sink events.Sink) Option {
	return func(s *Store) { s.sink = sink }
}

func WithLogger(logger *applog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func NewStore(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = applog.Default()
	}
	s.logger = s.logger.WithComponent(applog.ComponentLedger)
	return s
}

// Snapshot is a consistent copy of the whole ledger.
type Snapshot struct {
	Categories []core.Category
	Expenses   []core.Expense
	Total      core.Money
}

// AddCategory creates a category with a fresh id and a zero total.
func (s *Store) AddCategory(ctx context.Context, name string) (core.Category, error) {
	c, e, err := s.addCategory(name)
	if err != nil {
		return core.Category{}, err
	}
	s.emit(ctx, e)
	return c, nil
}

func (s *Store) addCategory(name string) (core.Category, events.Event, error) {
	c := core.Category{Name: strings.TrimSpace(name)}
	if err := c.Validate(); err != nil {
		return core.Category{}, events.Event{}, fmt.Errorf("add category: %w", err)
	}

	s.mu.Lock()
	s.nextCategoryID++
	c.ID = s.nextCategoryID
	s.categories = append(s.categories, c)
	s.mu.Unlock()

	e := events.New(events.CategoryAdded)
	e.CategoryID = c.ID
	e.Name = c.Name
	return c, e, nil
}

// RenameCategory replaces the category name. The total is untouched.
func (s *Store) RenameCategory(ctx context.Context, id int64, name string) (core.Category, error) {
	c, e, err := s.renameCategory(id, name)
	if err != nil {
		return core.Category{}, err
	}
	s.emit(ctx, e)
	return c, nil
}

func (s *Store) renameCategory(id int64, name string) (core.Category, events.Event, error) {
	name = strings.TrimSpace(name)
	if err := (core.Category{Name: name}).Validate(); err != nil {
		return core.Category{}, events.Event{}, fmt.Errorf("rename category %d: %w", id, err)
	}

	s.mu.Lock()
	i := s.categoryIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return core.Category{}, events.Event{}, fmt.Errorf("rename category %d: %w", id, core.ErrCategoryNotFound)
	}
	s.categories[i].Name = name
	c := s.withTotal(s.categories[i])
	s.mu.Unlock()

	e := events.New(events.CategoryRenamed)
	e.CategoryID = id
	e.Name = name
	return c, e, nil
}

// DeleteCategory removes the category and every expense that belongs to it.
// It returns the removed expenses.
func (s *Store) DeleteCategory(ctx context.Context, id int64) ([]core.Expense, error) {
	cascaded, e, err := s.deleteCategory(id)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, e)
	return cascaded, nil
}

func (s *Store) deleteCategory(id int64) ([]core.Expense, events.Event, error) {
	s.mu.Lock()
	i := s.categoryIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return nil, events.Event{}, fmt.Errorf("delete category %d: %w", id, core.ErrCategoryNotFound)
	}
	removed := s.categories[i]
	s.categories = append(s.categories[:i], s.categories[i+1:]...)

	var kept, cascaded []core.Expense
	for _, x := range s.expenses {
		if x.CategoryID == id {
			cascaded = append(cascaded, x)
			continue
		}
		kept = append(kept, x)
	}
	s.expenses = kept
	s.mu.Unlock()

	e := events.New(events.CategoryDeleted)
	e.CategoryID = id
	e.Name = removed.Name
	e.Cascaded = len(cascaded)
	return cascaded, e, nil
}

// AddExpense records an expense under the category; the category total grows
// by amount.
func (s *Store) AddExpense(ctx context.Context, categoryID int64, name string, amount core.Money) (core.Expense, error) {
	x, e, err := s.addExpense(categoryID, name, amount)
	if err != nil {
		return core.Expense{}, err
	}
	s.emit(ctx, e)
	return x, nil
}

func (s *Store) addExpense(categoryID int64, name string, amount core.Money) (core.Expense, events.Event, error) {
	x := core.Expense{CategoryID: categoryID, Name: strings.TrimSpace(name), Amount: amount}
	if err := x.Validate(); err != nil {
		return core.Expense{}, events.Event{}, fmt.Errorf("add expense: %w", err)
	}

	s.mu.Lock()
	if s.categoryIndex(categoryID) < 0 {
		s.mu.Unlock()
		return core.Expense{}, events.Event{}, fmt.Errorf("add expense to category %d: %w", categoryID, core.ErrCategoryNotFound)
	}
	if !s.fits(core.Money{}, amount) {
		s.mu.Unlock()
		return core.Expense{}, events.Event{}, fmt.Errorf("add expense to category %d: %w", categoryID, core.ErrLedgerFull)
	}
	s.nextExpenseID++
	x.ID = s.nextExpenseID
	s.expenses = append(s.expenses, x)
	s.mu.Unlock()

	e := events.New(events.ExpenseAdded)
	e.CategoryID = categoryID
	e.ExpenseID = x.ID
	e.Name = x.Name
	e.AmountCents = amount.Cents
	e.DeltaCents = amount.Cents
	return x, e, nil
}

// UpdateExpense replaces name and amount. The owning category total changes
// by the difference between the new and old amount.
func (s *Store) UpdateExpense(ctx context.Context, id int64, name string, amount core.Money) (core.Expense, error) {
	x, e, err := s.updateExpense(id, name, amount)
	if err != nil {
		return core.Expense{}, err
	}
	s.emit(ctx, e)
	return x, nil
}

func (s *Store) updateExpense(id int64, name string, amount core.Money) (core.Expense, events.Event, error) {
	name = strings.TrimSpace(name)
	if err := (core.Expense{Name: name, Amount: amount}).Validate(); err != nil {
		return core.Expense{}, events.Event{}, fmt.Errorf("update expense %d: %w", id, err)
	}

	s.mu.Lock()
	i := s.expenseIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return core.Expense{}, events.Event{}, fmt.Errorf("update expense %d: %w", id, core.ErrExpenseNotFound)
	}
	old := s.expenses[i].Amount
	if !s.fits(old, amount) {
		s.mu.Unlock()
		return core.Expense{}, events.Event{}, fmt.Errorf("update expense %d: %w", id, core.ErrLedgerFull)
	}
	s.expenses[i].Name = name
	s.expenses[i].Amount = amount
	x := s.expenses[i]
	s.mu.Unlock()

	e := events.New(events.ExpenseUpdated)
	e.CategoryID = x.CategoryID
	e.ExpenseID = id
	e.Name = name
	e.AmountCents = amount.Cents
	e.DeltaCents = amount.Sub(old).Cents
	return x, e, nil
}

// DeleteExpense removes the expense; its owning category total shrinks by
// the expense amount.
func (s *Store) DeleteExpense(ctx context.Context, id int64) (core.Expense, error) {
	x, e, err := s.deleteExpense(id)
	if err != nil {
		return core.Expense{}, err
	}
	s.emit(ctx, e)
	return x, nil
}

func (s *Store) deleteExpense(id int64) (core.Expense, events.Event, error) {
	s.mu.Lock()
	i := s.expenseIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return core.Expense{}, events.Event{}, fmt.Errorf("delete expense %d: %w", id, core.ErrExpenseNotFound)
	}
	x := s.expenses[i]
	s.expenses = append(s.expenses[:i], s.expenses[i+1:]...)
	s.mu.Unlock()

	e := events.New(events.ExpenseDeleted)
	e.CategoryID = x.CategoryID
	e.ExpenseID = id
	e.Name = x.Name
	e.AmountCents = x.Amount.Cents
	e.DeltaCents = -x.Amount.Cents
	return x, e, nil
}

// Category returns the category with its current total.
func (s *Store) Category(id int64) (core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.categoryIndex(id)
	if i < 0 {
		return core.Category{}, fmt.Errorf("category %d: %w", id, core.ErrCategoryNotFound)
	}
	return s.withTotal(s.categories[i]), nil
}

// Categories lists categories in creation order with their totals.
func (s *Store) Categories() []core.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.categoriesWithTotals()
}

func (s *Store) Expense(id int64) (core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.expenseIndex(id)
	if i < 0 {
		return core.Expense{}, fmt.Errorf("expense %d: %w", id, core.ErrExpenseNotFound)
	}
	return s.expenses[i], nil
}

// Expenses lists the expenses of one category in creation order.
func (s *Store) Expenses(categoryID int64) []core.Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Expense
	for _, x := range s.expenses {
		if x.CategoryID == categoryID {
			out = append(out, x)
		}
	}
	return out
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Categories: s.categoriesWithTotals(),
		Expenses:   append([]core.Expense(nil), s.expenses...),
	}
	for _, x := range s.expenses {
		snap.Total = snap.Total.Add(x.Amount)
	}
	return snap
}

// Counts reports how many categories and expenses the ledger holds.
func (s *Store) Counts() (categories, expenses int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.categories), len(s.expenses)
}

// categoriesWithTotals needs s.mu held.
func (s *Store) categoriesWithTotals() []core.Category {
	totals := make(map[int64]core.Money, len(s.categories))
	for _, x := range s.expenses {
		totals[x.CategoryID] = totals[x.CategoryID].Add(x.Amount)
	}
	out := make([]core.Category, len(s.categories))
	for i, c := range s.categories {
		c.Total = totals[c.ID]
		out[i] = c
	}
	return out
}

// withTotal needs s.mu held.
func (s *Store) withTotal(c core.Category) core.Category {
	c.Total = core.Money{}
	for _, x := range s.expenses {
		if x.CategoryID == c.ID {
			c.Total = c.Total.Add(x.Amount)
		}
	}
	return c
}

// fits reports whether replacing old with amount keeps the summed magnitude
// of all expenses within core.MaxLedgerCents. Any total over any subset of
// expenses is then bounded too, so sums on read cannot overflow. Needs s.mu
// held.
func (s *Store) fits(old, amount core.Money) bool {
	volume := amount.Abs().Cents - old.Abs().Cents
	for _, x := range s.expenses {
		volume += x.Amount.Abs().Cents
	}
	return volume <= core.MaxLedgerCents
}

func (s *Store) categoryIndex(id int64) int {
	for i, c := range s.categories {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) expenseIndex(id int64) int {
	for i, x := range s.expenses {
		if x.ID == id {
			return i
		}
	}
	return -1
}

// emit runs outside s.mu and outside any Session lock. Sink failures are
// logged, never returned: the mutation has already happened.
func (s *Store) emit(ctx context.Context, e events.Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Emit(ctx, e); err != nil {
		s.logger.ErrorContext(ctx, "Failed to emit ledger event",
			events.Fields(e).WithError(err).ToSlice()...)
	}
}
