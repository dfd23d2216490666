package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"gorm.io/gorm"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: JobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: JobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: JobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: JobReasonUniqueViolation},
		{name: "other_pg", err: &pgconn.PgError{Code: "42P01"}, want: JobReasonDB},
		{name: "unknown", err: errors.New("boom"), want: JobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestReconcilerMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newReconcilerMetrics(registry, Config{ServiceName: "praxis", Environment: "test"})

	m.IncJobRun("reconcile_professionals")
	m.IncJobError("reconcile_professionals", &pgconn.PgError{Code: "55P03"})
	m.AddHealed(3)
	m.AddHealed(0)
	m.ObserveJobDuration("reconcile_professionals", 20*time.Millisecond)

	if got := testutil.ToFloat64(m.jobRuns.WithLabelValues("reconcile_professionals")); got != 1 {
		t.Fatalf("expected 1 run, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues("reconcile_professionals", JobReasonDBLockTimeout)); got != 1 {
		t.Fatalf("expected 1 lock timeout error, got %v", got)
	}

	var out dto.Metric
	if err := m.healed.Write(&out); err != nil {
		t.Fatalf("write healed: %v", err)
	}
	if out.GetCounter().GetValue() != 3 {
		t.Fatalf("expected 3 healed, got %v", out.GetCounter().GetValue())
	}
}

func TestRegisterOrExistingReusesCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := newHTTPMetrics(registry, Config{})
	second := newHTTPMetrics(registry, Config{})
	if first.requests != second.requests {
		t.Fatalf("expected the registered collector to be reused")
	}
}
