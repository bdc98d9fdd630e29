package archive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/sourcestats/collector/internal/models"
)

const (
	defaultBufferSize = 8192
	defaultBatchSize  = 500
	flushInterval     = 5 * time.Second
)

var (
	archivedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_archive_events_total",
		Help: "Events written to cold storage.",
	})
	archiveDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_archive_dropped_total",
		Help: "Events dropped because the archive buffer was full.",
	})
	archiveErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_archive_errors_total",
		Help: "Failed batch flushes.",
	})
)

const insertQuery = `INSERT INTO event_archive (event_type, server_id, game, occurred_at, raw_line, detail)`

// Writer batches processed events into ClickHouse for long-term analytics.
// Archive never blocks the hot path: a full buffer drops the event.
type Writer struct {
	conn   driver.Conn
	buf    chan *models.GameEvent
	logger *zap.SugaredLogger
}

func NewWriter(conn driver.Conn, logger *zap.Logger) *Writer {
	return &Writer{
		conn:   conn,
		buf:    make(chan *models.GameEvent, defaultBufferSize),
		logger: logger.Sugar(),
	}
}

// Archive enqueues one event. Safe for concurrent use.
func (w *Writer) Archive(ev *models.GameEvent) {
	select {
	case w.buf <- ev:
	default:
		archiveDropped.Inc()
	}
}

// Run flushes batches until ctx is canceled, then drains the buffer.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	pending := make([]*models.GameEvent, 0, defaultBatchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := w.write(pending); err != nil {
			archiveErrors.Inc()
			w.logger.Errorw("archive flush failed", "batch", len(pending), "error", err)
		} else {
			archivedEvents.Add(float64(len(pending)))
		}
		pending = pending[:0]
	}

	for {
		select {
		case ev := <-w.buf:
			pending = append(pending, ev)
			if len(pending) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case ev := <-w.buf:
					pending = append(pending, ev)
					if len(pending) >= defaultBatchSize {
						flush()
					}
				default:
					flush()
					return nil
				}
			}
		}
	}
}

func (w *Writer) write(events []*models.GameEvent) error {
	// Flushes use their own deadline so a canceled run context can still
	// drain the final batch.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, insertQuery)
	if err != nil {
		return err
	}
	for _, ev := range events {
		detail, err := json.Marshal(ev.Data)
		if err != nil {
			detail = []byte("{}")
		}
		if err := batch.Append(
			string(ev.Type),
			ev.ServerID,
			ev.Game,
			ev.Timestamp,
			ev.RawLine,
			string(detail),
		); err != nil {
			return err
		}
	}
	return batch.Send()
}
