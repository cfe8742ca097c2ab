package redis

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/donetkit/contrib-apm/profiler"
	"github.com/donetkit/contrib-apm/tracer"
	"github.com/donetkit/contrib-apm/utils/gtime"
	"github.com/donetkit/contrib-log/glog"
	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
)

// Document is the stream entry written for every reported span.
type Document struct {
	ID         string                     `json:"id"`
	TraceID    string                     `json:"traceId,omitempty"`
	SpanID     string                     `json:"spanId,omitempty"`
	Name       string                     `json:"name"`
	Type       string                     `json:"type,omitempty"`
	Kind       string                     `json:"kind"`
	Root       bool                       `json:"root"`
	Host       string                     `json:"host"`
	Start      time.Time                  `json:"start"`
	DurationMs float64                    `json:"durationMs"`
	Error      string                     `json:"error,omitempty"`
	Tags       map[string]interface{}     `json:"tags,omitempty"`
	CallTree   *profiler.CallStackElement `json:"callTree,omitempty"`
}

// StreamReporter writes reported spans to a redis stream. Report never blocks:
// documents are buffered and flushed in pipelines from a background goroutine,
// and dropped when the buffer is full.
type StreamReporter struct {
	client redis.UniversalClient
	key    string

	maxLength     int64
	batchSize     int
	flushInterval time.Duration

	host    string
	queue   chan *Document
	dropped int64

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	logger glog.ILoggerEntry
}

var _ tracer.Reporter = (*StreamReporter)(nil)

// ReporterOption configures a StreamReporter.
type ReporterOption func(*StreamReporter)

// WithMaxLength trims the stream to about maxLength entries.
func WithMaxLength(maxLength int64) ReporterOption {
	return func(r *StreamReporter) {
		r.maxLength = maxLength
	}
}

// WithBatchSize sets how many documents go into one pipeline.
func WithBatchSize(batchSize int) ReporterOption {
	return func(r *StreamReporter) {
		r.batchSize = batchSize
	}
}

// WithFlushInterval sets the longest time a document waits in the buffer.
func WithFlushInterval(interval time.Duration) ReporterOption {
	return func(r *StreamReporter) {
		r.flushInterval = interval
	}
}

// WithBufferSize sets how many documents may wait for a flush.
func WithBufferSize(size int) ReporterOption {
	return func(r *StreamReporter) {
		r.queue = make(chan *Document, size)
	}
}

// WithReporterLogger set logger function
func WithReporterLogger(logger glog.ILogger) ReporterOption {
	return func(r *StreamReporter) {
		r.logger = logger.WithField("RedisStreamReporter", "RedisStreamReporter")
	}
}

// NewStreamReporter returns a reporter writing to the stream key. Start must
// be called before documents are flushed.
func NewStreamReporter(client redis.UniversalClient, key string, opts ...ReporterOption) *StreamReporter {
	r := &StreamReporter{
		client:        client,
		key:           key,
		maxLength:     100_000,
		batchSize:     100,
		flushInterval: time.Second,
		host:          hostName(),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.queue == nil {
		r.queue = make(chan *Document, 10*r.batchSize)
	}
	if r.logger == nil {
		r.logger = glog.New().WithField("RedisStreamReporter", "RedisStreamReporter")
	}
	return r
}

func hostName() string {
	info, err := host.Info()
	if err != nil {
		name, _ := os.Hostname()
		return fmt.Sprintf("%s@%d", name, os.Getpid())
	}
	return fmt.Sprintf("%s@%d", info.Hostname, os.Getpid())
}

// Start runs the flush loop until ctx is done or Close is called.
func (r *StreamReporter) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.run(ctx)
}

// Close stops the flush loop after writing what is buffered.
func (r *StreamReporter) Close() {
	r.once.Do(func() {
		if r.cancel == nil {
			close(r.done)
			return
		}
		r.cancel()
		<-r.done
	})
}

// Dropped returns how many documents were discarded because the buffer was full.
func (r *StreamReporter) Dropped() int64 {
	return atomic.LoadInt64(&r.dropped)
}

// Report implements tracer.Reporter.
func (r *StreamReporter) Report(_ context.Context, span *tracer.Span, callTree *profiler.CallStackElement) {
	doc := NewDocument(span, callTree, r.host)
	select {
	case r.queue <- doc:
	default:
		if atomic.AddInt64(&r.dropped, 1)%1000 == 1 {
			r.logger.Warnf("report buffer full, dropped %d spans so far", r.Dropped())
		}
	}
}

// NewDocument builds the stream entry of span.
func NewDocument(span *tracer.Span, callTree *profiler.CallStackElement, hostName string) *Document {
	doc := &Document{
		ID:         uuid.NewString(),
		Name:       span.OperationName(),
		Type:       span.OperationType(),
		Kind:       span.Kind().String(),
		Root:       span.IsRoot(),
		Host:       hostName,
		Start:      span.StartTime(),
		DurationMs: gtime.Millis(span.Duration()),
		Tags:       span.Tags(),
		CallTree:   callTree,
	}
	delete(doc.Tags, tracer.TypeTag)
	if err := span.Err(); err != nil {
		doc.Error = err.Error()
	}
	if otelSpan := span.OtelSpan(); otelSpan != nil {
		if sc := otelSpan.SpanContext(); sc.IsValid() {
			doc.TraceID = sc.TraceID().String()
			doc.SpanID = sc.SpanID().String()
		}
	}
	return doc
}

func (r *StreamReporter) run(ctx context.Context) {
	defer close(r.done)
	ticker := gtime.NewTicker(r.flushInterval, r.flushInterval/10)
	defer ticker.Stop()

	batch := make([]*Document, 0, r.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		r.flush(ctx, batch)
		batch = batch[:0]
	}
	for {
		select {
		case doc := <-r.queue:
			batch = append(batch, doc)
			if len(batch) >= r.batchSize {
				flush(ctx)
			}
		case <-ticker.C():
			flush(ctx)
		case <-ctx.Done():
			// drain with a fresh context, ctx is already cancelled
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		drain:
			for {
				select {
				case doc := <-r.queue:
					batch = append(batch, doc)
				default:
					break drain
				}
			}
			flush(drainCtx)
			cancel()
			return
		}
	}
}

func (r *StreamReporter) flush(ctx context.Context, docs []*Document) {
	pipe := r.client.Pipeline()
	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			r.logger.Errorf("encode span %s: %s", doc.Name, err.Error())
			continue
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.key,
			MaxLen: r.maxLength,
			Approx: true,
			Values: map[string]interface{}{"span": data},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Errorf("write %d spans to stream %s: %s", len(docs), r.key, err.Error())
		return
	}
	r.logger.Debugf("wrote %d spans to stream %s", len(docs), r.key)
}
