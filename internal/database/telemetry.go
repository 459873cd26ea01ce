package database

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/irfndi/celebrum-forecast/internal/database"

// TracedDB wraps a pool and records one span per statement
type TracedDB struct {
	pool   DatabasePool
	tracer trace.Tracer
}

// NewTracedDB wraps pool; a nil provider uses the global one
func NewTracedDB(pool DatabasePool, tp trace.TracerProvider) *TracedDB {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracedDB{pool: pool, tracer: tp.Tracer(tracerName)}
}

func (db *TracedDB) start(ctx context.Context, op, sql string) (context.Context, trace.Span) {
	return db.tracer.Start(ctx, "db."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", statementVerb(sql)),
			attribute.String("db.statement", sql),
		))
}

// Query executes a query
func (db *TracedDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := db.start(ctx, "query", sql)
	defer span.End()
	rows, err := db.pool.Query(ctx, sql, args...)
	RecordDatabaseError(span, err)
	return rows, err
}

// QueryRow executes a query that returns a single row. The span covers dispatch only; scan errors surface to the caller.
func (db *TracedDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := db.start(ctx, "query_row", sql)
	defer span.End()
	return db.pool.QueryRow(ctx, sql, args...)
}

// Exec executes a statement without returning rows
func (db *TracedDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := db.start(ctx, "exec", sql)
	defer span.End()
	tag, err := db.pool.Exec(ctx, sql, args...)
	if err == nil {
		span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	}
	RecordDatabaseError(span, err)
	return tag, err
}

// RecordDatabaseError marks the span as failed; no-op for nil or pgx.ErrNoRows
func RecordDatabaseError(span trace.Span, err error) {
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func statementVerb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
