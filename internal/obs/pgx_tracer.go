package obs

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementLen = 300

// PGXTracer implements pgx.QueryTracer with one client span per query.
type PGXTracer struct{}

// TraceQueryStart opens a span named after the SQL verb.
func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	stmt := strings.TrimSpace(data.SQL)
	op := "query"
	if fields := strings.Fields(stmt); len(fields) > 0 {
		op = strings.ToUpper(fields[0])
	}
	if len(stmt) > maxStatementLen {
		stmt = stmt[:maxStatementLen] + "..."
	}
	ctx, _ = otel.Tracer("order.pgStore").Start(ctx, "pgx "+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", op),
			attribute.String("db.statement", stmt),
		),
	)
	return ctx
}

// TraceQueryEnd closes the span. pgx.ErrNoRows is an expected lookup miss
// and does not mark the span as failed.
func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span := trace.SpanFromContext(ctx)
	switch {
	case data.Err == nil:
		span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	case errors.Is(data.Err, pgx.ErrNoRows):
	default:
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	}
	span.End()
}
