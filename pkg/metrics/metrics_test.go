package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRecordsOutcome(t *testing.T) {
	m := New("orders")

	m.Observe("apply", time.Now(), nil)
	m.Observe("apply", time.Now(), errors.New("boom"))

	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("apply", "ok")); got != 1 {
		t.Fatalf("ok count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("apply", "error")); got != 1 {
		t.Fatalf("error count = %v, want 1", got)
	}
}

func TestNewRegistersDistinctRegistryPerTable(t *testing.T) {
	a := New("orders")
	b := New("orders")

	a.Rows.Set(3)
	b.Rows.Set(7)

	if got := testutil.ToFloat64(a.Rows); got != 3 {
		t.Fatalf("a.Rows = %v, want 3", got)
	}
	if got := testutil.ToFloat64(b.Rows); got != 7 {
		t.Fatalf("b.Rows = %v, want 7", got)
	}
}
