package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/donetkit/contrib-apm/tracer"
	"github.com/donetkit/contrib-log/glog"
	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/trace"
)

// OperationType is the type tag of spans created by TracingHook.
const OperationType = "redis"

type redisClientDBKeyType struct{}

var redisClientDBKey = redisClientDBKeyType{}

type hookSpanKey struct{}

// WithDB records the logical database a command runs against, it shows up in
// span names.
func WithDB(ctx context.Context, db int) context.Context {
	return context.WithValue(ctx, redisClientDBKey, db)
}

// TracingHook creates an external span for every command and pipeline issued
// while a traced span is on the context.
type TracingHook struct {
	logger       glog.ILoggerEntry
	tracerServer *tracer.Server
}

var _ redis.Hook = (*TracingHook)(nil)

// NewTracingHook returns a hook to add with client.AddHook.
func NewTracingHook(tracerServer *tracer.Server, logger glog.ILogger) *TracingHook {
	hook := &TracingHook{tracerServer: tracerServer}
	if logger != nil {
		hook.logger = logger.WithField("RedisTracingHook", "RedisTracingHook")
	}
	return hook
}

func (h *TracingHook) BeforeProcess(ctx context.Context, cmd redis.Cmder) (context.Context, error) {
	db := dbValue(ctx)
	return h.start(ctx, commandName(cmd, db), getTraceFullName(cmd, db), 1), nil
}

func (h *TracingHook) AfterProcess(ctx context.Context, cmd redis.Cmder) error {
	if h.logger != nil {
		h.logger.Debugf("db%s:redis:%s ", dbValue(ctx), cmd.String())
	}
	h.finish(ctx, cmd.Err())
	return nil
}

func (h *TracingHook) BeforeProcessPipeline(ctx context.Context, cmds []redis.Cmder) (context.Context, error) {
	db := dbValue(ctx)
	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, c.Name())
	}
	return h.start(ctx, fmt.Sprintf("db%s:redis:pipeline %s", db, strings.Join(names, " ")),
		getTraceFullNames(cmds, db), len(cmds)), nil
}

func (h *TracingHook) AfterProcessPipeline(ctx context.Context, cmds []redis.Cmder) error {
	if h.logger != nil {
		for _, c := range cmds {
			h.logger.Debugf("db%s:redis:%s ", dbValue(ctx), c.String())
		}
	}
	var err error
	for _, c := range cmds {
		if c.Err() != nil && c.Err() != redis.Nil {
			err = c.Err()
			break
		}
	}
	h.finish(ctx, err)
	return nil
}

// start opens a span named after the command only, the keys go to db.statement
// so that per operation timers stay few.
func (h *TracingHook) start(ctx context.Context, name, statement string, numCmd int) context.Context {
	if h.tracerServer == nil || tracer.SpanFromContext(ctx) == nil {
		return ctx
	}
	ctx, span := h.tracerServer.StartSpan(ctx, name,
		tracer.WithSpanKind(trace.SpanKindClient),
		tracer.WithOperationType(OperationType),
		tracer.WithTag("db.system", "redis"),
		tracer.WithTag("db.statement", statement),
		tracer.WithTag("db.redis.num_cmd", numCmd),
	)
	return context.WithValue(ctx, hookSpanKey{}, span)
}

func (h *TracingHook) finish(ctx context.Context, err error) {
	span, ok := ctx.Value(hookSpanKey{}).(*tracer.Span)
	if !ok {
		return
	}
	if err != nil && err != redis.Nil {
		span.RecordError(err)
		if h.logger != nil {
			h.logger.Error(err.Error())
		}
	}
	span.Finish()
}

func dbValue(ctx context.Context) string {
	if db, ok := ctx.Value(redisClientDBKey).(int); ok {
		return fmt.Sprintf("[%d]", db)
	}
	return ""
}

func commandName(cmd redis.Cmder, dbValue string) string {
	return fmt.Sprintf("db%s:redis:%s", dbValue, cmd.Name())
}

func getTraceFullName(cmd redis.Cmder, dbValue string) string {
	args := cmd.Args()
	name := cmd.Name()
	if len(args) > 1 {
		if s2, ok := args[1].(string); ok {
			return fmt.Sprintf("db%s:redis:%s => %s", dbValue, name, s2)
		}
	}
	return fmt.Sprintf("db%s:redis:%s", dbValue, name)
}

func getTraceFullNames(cmds []redis.Cmder, dbValue string) string {
	cmdStr := make([]string, 0, len(cmds))
	for _, c := range cmds {
		cmdStr = append(cmdStr, getTraceFullName(c, dbValue))
	}
	return strings.Join(cmdStr, ", ")
}
