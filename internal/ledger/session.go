package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ledger/internal/core"
)

// Session is the transient UI state over a Store: which category is being
// viewed and which category or expense is being edited. Ids are zero when
// nothing is selected or edited.
//
// Store lookups and mutations run under mu so the ids never point at removed
// entities. Events are emitted after mu is released.
type Session struct {
	mu              sync.Mutex
	store           *Store
	selected        int64
	editingCategory int64
	editingExpense  int64
}

func NewSession(store *Store) *Session {
	return &Session{store: store}
}

func (s *Session) Store() *Store { return s.store }

// View is everything the page needs to render.
type View struct {
	Categories      []core.Category
	Selected        *core.Category
	Expenses        []core.Expense // of the selected category
	EditingCategory *core.Category
	EditingExpense  *core.Expense
	Total           core.Money
}

// Select marks the category whose expenses are shown and receive new ones.
func (s *Session) Select(id int64) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.store.Category(id)
	if err != nil {
		return core.Category{}, fmt.Errorf("select: %w", err)
	}
	s.selected = id
	return c, nil
}

// AddCategory creates a category.
func (s *Session) AddCategory(ctx context.Context, name string) (core.Category, error) {
	return s.store.AddCategory(ctx, name)
}

// AddExpense records an expense under the selected category.
func (s *Session) AddExpense(ctx context.Context, name string, amount core.Money) (core.Expense, error) {
	s.mu.Lock()
	if s.selected == 0 {
		s.mu.Unlock()
		return core.Expense{}, fmt.Errorf("add expense: %w", core.ErrNoSelection)
	}
	x, e, err := s.store.addExpense(s.selected, name, amount)
	s.mu.Unlock()
	if err != nil {
		return core.Expense{}, err
	}
	s.store.emit(ctx, e)
	return x, nil
}

// DeleteCategory removes the category with its expenses and drops any
// selection or edit state that pointed at them.
func (s *Session) DeleteCategory(ctx context.Context, id int64) error {
	s.mu.Lock()
	removed, e, err := s.store.deleteCategory(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.selected == id {
		s.selected = 0
	}
	if s.editingCategory == id {
		s.editingCategory = 0
	}
	for _, x := range removed {
		if x.ID == s.editingExpense {
			s.editingExpense = 0
		}
	}
	s.mu.Unlock()
	s.store.emit(ctx, e)
	return nil
}

func (s *Session) DeleteExpense(ctx context.Context, id int64) error {
	s.mu.Lock()
	_, e, err := s.store.deleteExpense(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.editingExpense == id {
		s.editingExpense = 0
	}
	s.mu.Unlock()
	s.store.emit(ctx, e)
	return nil
}

// EditCategory enters category edit mode. Expense edit mode is left.
func (s *Session) EditCategory(id int64) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.store.Category(id)
	if err != nil {
		return core.Category{}, fmt.Errorf("edit: %w", err)
	}
	s.editingCategory = id
	s.editingExpense = 0
	return c, nil
}

// SaveEditedCategory renames the category being edited and leaves edit mode.
// On error the edit mode is kept so the user can correct the name.
func (s *Session) SaveEditedCategory(ctx context.Context, name string) (core.Category, error) {
	s.mu.Lock()
	if s.editingCategory == 0 {
		s.mu.Unlock()
		return core.Category{}, fmt.Errorf("save category: %w", core.ErrNotEditing)
	}
	c, e, err := s.store.renameCategory(s.editingCategory, name)
	if err != nil {
		if errors.Is(err, core.ErrCategoryNotFound) {
			s.editingCategory = 0
		}
		s.mu.Unlock()
		return core.Category{}, err
	}
	s.editingCategory = 0
	s.mu.Unlock()
	s.store.emit(ctx, e)
	return c, nil
}

// EditExpense enters expense edit mode. Category edit mode is left.
func (s *Session) EditExpense(id int64) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, err := s.store.Expense(id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("edit: %w", err)
	}
	s.editingExpense = id
	s.editingCategory = 0
	return x, nil
}

// SaveEditedExpense replaces name and amount of the expense being edited and
// leaves edit mode.
func (s *Session) SaveEditedExpense(ctx context.Context, name string, amount core.Money) (core.Expense, error) {
	s.mu.Lock()
	if s.editingExpense == 0 {
		s.mu.Unlock()
		return core.Expense{}, fmt.Errorf("save expense: %w", core.ErrNotEditing)
	}
	x, e, err := s.store.updateExpense(s.editingExpense, name, amount)
	if err != nil {
		if errors.Is(err, core.ErrExpenseNotFound) {
			s.editingExpense = 0
		}
		s.mu.Unlock()
		return core.Expense{}, err
	}
	s.editingExpense = 0
	s.mu.Unlock()
	s.store.emit(ctx, e)
	return x, nil
}

// CancelEdit leaves any edit mode.
func (s *Session) CancelEdit() {
	s.mu.Lock()
	s.editingCategory = 0
	s.editingExpense = 0
	s.mu.Unlock()
}

func (s *Session) View() View {
	s.mu.Lock()
	selected, editingCategory, editingExpense := s.selected, s.editingCategory, s.editingExpense
	s.mu.Unlock()

	snap := s.store.Snapshot()
	v := View{Categories: snap.Categories, Total: snap.Total}
	for i := range snap.Categories {
		c := snap.Categories[i]
		if c.ID == selected {
			v.Selected = &c
		}
		if c.ID == editingCategory {
			v.EditingCategory = &c
		}
	}
	for i := range snap.Expenses {
		x := snap.Expenses[i]
		if v.Selected != nil && x.CategoryID == selected {
			v.Expenses = append(v.Expenses, x)
		}
		if x.ID == editingExpense {
			v.EditingExpense = &x
		}
	}
	return v
}
