package gorm

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"

	"github.com/donetkit/contrib-apm/tracer"
	"github.com/donetkit/contrib-log/glog"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	// OperationType is the type tag of spans created by the plugin.
	OperationType = "sql"

	callBackBeforeName = "apm:before"
	callBackAfterName  = "apm:after"
	opCreate           = "INSERT"
	opQuery            = "SELECT"
	opDelete           = "DELETE"
	opUpdate           = "UPDATE"
)

const dbRowsAffectedTag = "db.rows_affected"

type spanKey struct{}

// Plugin traces every gorm statement issued inside a traced span as an
// external "sql" span.
type Plugin struct {
	tracerServer     *tracer.Server
	logger           glog.ILoggerEntry
	excludeQueryVars bool
	queryFormatter   func(query string) string
}

var _ gorm.Plugin = (*Plugin)(nil)

// Option configures the Plugin.
type Option func(*Plugin)

// WithLogger set logger function
func WithLogger(logger glog.ILogger) Option {
	return func(p *Plugin) {
		p.logger = logger.WithField("GormTracing", "GormTracing")
	}
}

// WithoutQueryVariables masks query arguments with '?' in db.statement.
func WithoutQueryVariables() Option {
	return func(p *Plugin) {
		p.excludeQueryVars = true
	}
}

// WithQueryFormatter rewrites db.statement before it is stored.
func WithQueryFormatter(queryFormatter func(query string) string) Option {
	return func(p *Plugin) {
		p.queryFormatter = queryFormatter
	}
}

// NewPlugin returns a plugin to install with db.Use.
func NewPlugin(tracerServer *tracer.Server, opts ...Option) *Plugin {
	p := &Plugin{tracerServer: tracerServer}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Name() string {
	return "apm:gorm"
}

type gormHookFunc func(tx *gorm.DB)

type gormRegister interface {
	Register(name string, fn func(*gorm.DB)) error
}

func (p *Plugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		callback gormRegister
		hook     gormHookFunc
		name     string
	}{
		// before hooks
		{cb.Create().Before("gorm:before_create"), p.before(opCreate), beforeName("create")},
		{cb.Query().Before("gorm:query"), p.before(opQuery), beforeName("query")},
		{cb.Delete().Before("gorm:before_delete"), p.before(opDelete), beforeName("delete")},
		{cb.Update().Before("gorm:before_update"), p.before(opUpdate), beforeName("update")},
		{cb.Row().Before("gorm:row"), p.before(""), beforeName("row")},
		{cb.Raw().Before("gorm:raw"), p.before(""), beforeName("raw")},

		// after hooks
		{cb.Create().After("gorm:after_create"), p.after(opCreate), afterName("create")},
		{cb.Query().After("gorm:after_query"), p.after(opQuery), afterName("query")},
		{cb.Delete().After("gorm:after_delete"), p.after(opDelete), afterName("delete")},
		{cb.Update().After("gorm:after_update"), p.after(opUpdate), afterName("update")},
		{cb.Row().After("gorm:row"), p.after(""), afterName("row")},
		{cb.Raw().After("gorm:raw"), p.after(""), afterName("raw")},
	}

	var firstErr error
	for _, h := range hooks {
		if err := h.callback.Register(h.name, h.hook); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("callback register %s failed: %w", h.name, err)
		}
	}
	return firstErr
}

func (p *Plugin) before(operation string) gormHookFunc {
	return func(tx *gorm.DB) {
		ctx := tx.Statement.Context
		if p.tracerServer == nil || tracer.SpanFromContext(ctx) == nil {
			return
		}
		ctx, span := p.tracerServer.StartSpan(ctx, p.spanName(tx, operation),
			tracer.WithSpanKind(trace.SpanKindClient),
			tracer.WithOperationType(OperationType),
		)
		tx.Statement.Context = context.WithValue(ctx, spanKey{}, span)
	}
}

func (p *Plugin) after(operation string) gormHookFunc {
	return func(tx *gorm.DB) {
		span, ok := tx.Statement.Context.Value(spanKey{}).(*tracer.Span)
		if !ok {
			return
		}
		defer span.Finish()

		// the SQL is only known now, so is the final name
		span.SetOperationName(p.spanName(tx, operation))
		if sys := dbSystem(tx); sys != "" {
			span.SetTag(string(semconv.DBSystemKey), sys)
		}
		vars := tx.Statement.Vars
		if p.excludeQueryVars {
			vars = make([]interface{}, len(tx.Statement.Vars))
			for i := range vars {
				vars[i] = "?"
			}
		}
		query := tx.Dialector.Explain(tx.Statement.SQL.String(), vars...)
		span.SetTag(string(semconv.DBStatementKey), p.formatQuery(query))
		if tx.Statement.Table != "" {
			span.SetTag(string(semconv.DBSQLTableKey), tx.Statement.Table)
		}
		if tx.Statement.RowsAffected != -1 {
			span.SetTag(dbRowsAffectedTag, tx.Statement.RowsAffected)
		}

		switch tx.Error {
		case nil,
			gorm.ErrRecordNotFound,
			driver.ErrSkip,
			io.EOF, // end of rows iterator
			sql.ErrNoRows:
			// ignore
		default:
			span.RecordError(tx.Error)
			if p.logger != nil {
				p.logger.Error(tx.Error.Error())
			}
		}
	}
}

func (p *Plugin) formatQuery(query string) string {
	if p.queryFormatter != nil {
		return p.queryFormatter(query)
	}
	return query
}

func dbSystem(tx *gorm.DB) string {
	switch name := tx.Dialector.Name(); name {
	case "mysql", "mssql", "sqlite", "sqlserver", "clickhouse":
		return name
	case "postgres", "postgresql":
		return "postgresql"
	default:
		return ""
	}
}

func beforeName(name string) string {
	return callBackBeforeName + "_" + name
}

func afterName(name string) string {
	return callBackAfterName + "_" + name
}

// spanName is "db:gorm:<operation>[:<table>]", the operation taken from the
// SQL text when the callback does not imply one.
func (p *Plugin) spanName(tx *gorm.DB, operation string) string {
	if operation == "" {
		operation = strings.ToUpper(strings.SplitN(strings.TrimSpace(tx.Statement.SQL.String()), " ", 2)[0])
	}
	if operation == "" {
		operation = "raw"
	}
	table := ""
	if tx.Statement.Table != "" {
		table = ":" + tx.Statement.Table
	}
	return fmt.Sprintf("db:gorm:%s%s", strings.ToLower(operation), table)
}
