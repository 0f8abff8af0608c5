package events

import (
	"context"

	applog "ledger/internal/log"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	logger *applog.Logger
}

func NewLogSink(logger *applog.Logger) *LogSink {
	if logger == nil {
		logger = applog.Default()
	}
	return &LogSink{logger: logger.WithComponent(applog.ComponentEvents)}
}

func (s *LogSink) Emit(ctx context.Context, e Event) error {
	s.logger.InfoContext(ctx, "Ledger event", Fields(e).ToSlice()...)
	return nil
}

// Fields describes the event as structured log fields.
func Fields(e Event) applog.LogFields {
	f := applog.NewFields().WithOperation(e.Type.Operation())
	f[applog.FieldEvent] = string(e.Type)
	if e.ExpenseID != 0 {
		f.WithExpense(e.ExpenseID, e.Name, e.AmountCents)
		f[applog.FieldCategoryID] = e.CategoryID
		f[applog.FieldDeltaCents] = e.DeltaCents
	} else {
		f.WithCategory(e.CategoryID, e.Name)
	}
	if e.Cascaded > 0 {
		f[applog.FieldCascaded] = e.Cascaded
	}
	return f
}

// Operation maps the event type to the log operation it records.
func (t Type) Operation() string {
	switch t {
	case CategoryAdded, ExpenseAdded:
		return applog.OpCreate
	case CategoryRenamed, ExpenseUpdated:
		return applog.OpUpdate
	case CategoryDeleted, ExpenseDeleted:
		return applog.OpDelete
	default:
		return ""
	}
}
