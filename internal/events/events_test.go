package events

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	applog "ledger/internal/log"
)

type fakeDelivery struct {
	payload []byte
	acked   bool
	nacked  bool
	requeue bool
}

func (d *fakeDelivery) Ack(bool) error {
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nack(_ bool, requeue bool) error {
	d.nacked = true
	d.requeue = requeue
	return nil
}
func (d *fakeDelivery) body() []byte { return d.payload }

func TestFromJSON(t *testing.T) {
	e := New(ExpenseAdded)
	e.CategoryID = 3
	e.ExpenseID = 7
	e.Name = "Coffee"
	e.AmountCents = 350
	body, err := e.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	got, err := FromJSON(body)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if got.Type != ExpenseAdded || got.ExpenseID != 7 || got.AmountCents != 350 {
		t.Fatalf("unexpected event: %+v", got)
	}

	if _, err := FromJSON([]byte(`{"category_id":1}`)); err == nil {
		t.Fatalf("expected error for event without type")
	}
	if _, err := FromJSON([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

func TestDispatch(t *testing.T) {
	ok := func(context.Context, Event) error { return nil }
	fail := func(context.Context, Event) error { return errors.New("downstream") }
	valid := []byte(`{"type":"category.added","category_id":1,"name":"Food"}`)

	tests := []struct {
		name        string
		payload     []byte
		handler     func(context.Context, Event) error
		wantErr     bool
		wantAck     bool
		wantNack    bool
		wantRequeue bool
	}{
		{name: "handled", payload: valid, handler: ok, wantAck: true},
		{name: "malformed dropped", payload: []byte("{"), handler: ok, wantErr: true, wantNack: true},
		{name: "handler failure requeued", payload: valid, handler: fail, wantErr: true, wantNack: true, wantRequeue: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDelivery{payload: tt.payload}
			err := dispatch(context.Background(), d, tt.handler)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if d.acked != tt.wantAck || d.nacked != tt.wantNack || d.requeue != tt.wantRequeue {
				t.Fatalf("ack=%v nack=%v requeue=%v", d.acked, d.nacked, d.requeue)
			}
		})
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	boom := errors.New("boom")
	sink := Multi(rec, nil, SinkFunc(func(context.Context, Event) error { return boom }))

	err := sink.Emit(context.Background(), New(CategoryAdded))
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined boom error, got %v", err)
	}
	if got := rec.Types(); len(got) != 1 || got[0] != CategoryAdded {
		t.Fatalf("recorder should still receive the event, got %v", got)
	}
	if err := Multi(rec).Emit(context.Background(), New(CategoryDeleted)); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if n := len(rec.Events()); n != 2 {
		t.Fatalf("expected 2 recorded events, got %d", n)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(applog.New(applog.Config{Format: applog.FormatJSON, Output: &buf}))

	e := New(CategoryDeleted)
	e.CategoryID = 2
	e.Name = "Travel"
	e.Cascaded = 3
	if err := sink.Emit(context.Background(), e); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	out := buf.String()
	for _, part := range []string{`"event":"category.deleted"`, `"category_name":"Travel"`, `"cascaded":3`, `"component":"events"`, `"operation":"delete"`} {
		if !strings.Contains(out, part) {
			t.Errorf("log output missing %s: %s", part, out)
		}
	}
}

func TestFields(t *testing.T) {
	added := New(ExpenseAdded)
	added.CategoryID = 1
	added.ExpenseID = 4
	added.Name = "Bread"
	added.AmountCents = 250
	added.DeltaCents = 250

	renamed := New(CategoryRenamed)
	renamed.CategoryID = 1
	renamed.Name = "Groceries"

	cases := []struct {
		name string
		e    Event
		want map[string]any
	}{
		{"expense", added, map[string]any{
			applog.FieldOperation:   applog.OpCreate,
			applog.FieldExpenseID:   int64(4),
			applog.FieldExpenseName: "Bread",
			applog.FieldAmountCents: int64(250),
			applog.FieldCategoryID:  int64(1),
		}},
		{"category", renamed, map[string]any{
			applog.FieldOperation:    applog.OpUpdate,
			applog.FieldCategoryID:   int64(1),
			applog.FieldCategoryName: "Groceries",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := Fields(tc.e)
			for k, v := range tc.want {
				if f[k] != v {
					t.Errorf("%s = %v, want %v", k, f[k], v)
				}
			}
		})
	}
	if op := Type("unknown").Operation(); op != "" {
		t.Errorf("unknown type operation = %q", op)
	}
}
