package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	warden "github.com/wardenlabs/warden/internal"
	"github.com/wardenlabs/warden/internal/storage"
)

const (
	logChanSize       = 1000
	defaultBatchSize  = 64
	defaultFlushEvery = 2 * time.Second
	logDrainTime      = 30 * time.Second
)

// LogRecorder buffers request log rows and batch-flushes them to the store.
// Records are dropped if the channel is full (back-pressure on slow DB).
type LogRecorder struct {
	ch         chan warden.RequestLog
	store      storage.RequestLogStore
	batchSize  int
	flushEvery time.Duration
	gauge      prometheus.Gauge // optional queue length gauge
}

// LogRecorderOptions tunes batching behavior. Zero values use defaults.
type LogRecorderOptions struct {
	BatchSize  int
	FlushEvery time.Duration
	QueueGauge prometheus.Gauge
}

// NewLogRecorder creates a LogRecorder backed by store.
func NewLogRecorder(store storage.RequestLogStore, opts LogRecorderOptions) *LogRecorder {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	every := opts.FlushEvery
	if every <= 0 {
		every = defaultFlushEvery
	}
	return &LogRecorder{
		ch:         make(chan warden.RequestLog, logChanSize),
		store:      store,
		batchSize:  batch,
		flushEvery: every,
		gauge:      opts.QueueGauge,
	}
}

// Name returns the worker identifier.
func (l *LogRecorder) Name() string { return "log_recorder" }

// Record enqueues a request log row. It never blocks; drops on full channel.
func (l *LogRecorder) Record(r warden.RequestLog) {
	select {
	case l.ch <- r:
		if l.gauge != nil {
			l.gauge.Set(float64(len(l.ch)))
		}
	default:
		slog.Warn("request log dropped, channel full")
	}
}

// Run processes records until ctx is cancelled, then drains remaining records.
func (l *LogRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.flushEvery)
	defer ticker.Stop()

	buf := make([]warden.RequestLog, 0, l.batchSize)

	for {
		select {
		case r := <-l.ch:
			buf = append(buf, r)
			if len(buf) >= l.batchSize {
				l.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				l.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			// Drain remaining records with a timeout.
			l.drain(buf)
			return nil
		}
	}
}

func (l *LogRecorder) drain(buf []warden.RequestLog) {
	ctx, cancel := context.WithTimeout(context.Background(), logDrainTime)
	defer cancel()

	for {
		select {
		case r := <-l.ch:
			buf = append(buf, r)
			if len(buf) >= l.batchSize {
				l.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			// Channel empty, flush remaining.
			if len(buf) > 0 {
				l.flush(ctx, buf)
			}
			return
		}
	}
}

func (l *LogRecorder) flush(ctx context.Context, buf []warden.RequestLog) {
	// Copy to avoid aliasing the caller's slice.
	batch := make([]warden.RequestLog, len(buf))
	copy(batch, buf)

	// Assign IDs off the hot path; callers leave ID empty.
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if err := l.store.InsertRequestLogs(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "request log flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
	if l.gauge != nil {
		l.gauge.Set(float64(len(l.ch)))
	}
}
