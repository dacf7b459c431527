package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pscheid92/subathon/internal/metrics"
)

// MetricsTracer records query durations and errors, labelled by query name.
type MetricsTracer struct{}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

type traceKey struct{}

type traceStart struct {
	at    time.Time
	query string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, traceStart{at: time.Now(), query: queryName(data.SQL)})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(traceKey{}).(traceStart)
	if !ok {
		return
	}

	metrics.DBQueryDuration.WithLabelValues(start.query).Observe(time.Since(start.at).Seconds())
	if data.Err != nil && data.Err != pgx.ErrNoRows {
		metrics.DBErrorsTotal.WithLabelValues(start.query).Inc()
	}
}

// queryName returns the "-- name: X" annotation if present, otherwise the
// leading SQL keyword, keeping label cardinality low.
func queryName(sql string) string {
	sql = strings.TrimSpace(sql)
	if rest, ok := strings.CutPrefix(sql, "-- name:"); ok {
		if fields := strings.Fields(rest); len(fields) > 0 {
			return fields[0]
		}
	}

	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToUpper(fields[0])
}
