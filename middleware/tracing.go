package middleware

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aeglx/WeDrawOS-sub006/driver"
	"github.com/Aeglx/WeDrawOS-sub006/pool"
)

const instrumentationName = "github.com/Aeglx/WeDrawOS-sub006/middleware"

// TracingMiddleware wraps every statement in an OpenTelemetry span that is a
// child of whatever span ctx carries. Parameter values are not recorded.
type TracingMiddleware struct {
	tracer trace.Tracer
}

// Tracing returns a tracing middleware. A nil tracer uses the global provider.
func Tracing(tracer trace.Tracer) *TracingMiddleware {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return &TracingMiddleware{tracer: tracer}
}

func (m *TracingMiddleware) Name() string {
	return "Tracing"
}

func (m *TracingMiddleware) Process(ctx context.Context, stmt *pool.Statement, next pool.QueryFunc) (*driver.Result, error) {
	op := operation(stmt.SQL)
	ctx, span := m.tracer.Start(ctx, "db."+strings.ToLower(op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.pool_id", stmt.PoolID),
			attribute.String("db.operation", op),
			attribute.String("db.statement", stmt.SQL),
			attribute.Int("db.params", len(stmt.Params)),
			attribute.Int("db.attempt", stmt.Attempt),
		))
	defer span.End()

	res, err := next(ctx, stmt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	if res != nil {
		span.SetAttributes(
			attribute.Int64("db.rows_affected", res.RowsAffected),
			attribute.Int("db.rows_returned", len(res.Rows)),
		)
	}
	return res, nil
}

func operation(sql string) string {
	fields := strings.Fields(strings.TrimLeft(sql, "( \t\r\n"))
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	return strings.ToUpper(fields[0])
}
