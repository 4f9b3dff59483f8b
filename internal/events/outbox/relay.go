package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/checkout/internal/clock"
	"github.com/smallbiznis/checkout/internal/events"
	"github.com/smallbiznis/checkout/internal/worker"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultBatchSize   = 100
	DefaultMaxAttempts = 10
)

// Result summarises one relay pass.
type Result struct {
	Published int
	Failed    int
	Deferred  int
}

// Relay delivers pending outbox rows to the dispatcher on the worker pool.
// Delivery is at least once; handlers must tolerate repeats.
type Relay struct {
	db          *gorm.DB
	pool        *worker.Pool
	dispatcher  *events.Dispatcher
	clock       clock.Clock
	log         *zap.Logger
	batchSize   int
	maxAttempts int

	running sync.Mutex
	notify  chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

func NewRelay(db *gorm.DB, pool *worker.Pool, dispatcher *events.Dispatcher, clk clock.Clock, log *zap.Logger, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Relay{
		db:          db,
		pool:        pool,
		dispatcher:  dispatcher,
		clock:       clk,
		log:         log.Named("outbox.relay"),
		batchSize:   batchSize,
		maxAttempts: DefaultMaxAttempts,
		notify:      make(chan struct{}, 1),
	}
}

type pendingRow struct {
	ID        string
	EventType string
	Payload   []byte
	Attempts  int
}

// ProcessPending delivers one batch. A pass already in progress makes this
// call return immediately with an empty result.
func (r *Relay) ProcessPending(ctx context.Context) (Result, error) {
	if !r.running.TryLock() {
		return Result{}, nil
	}
	defer r.running.Unlock()

	var rows []pendingRow
	if err := r.db.WithContext(ctx).Raw(
		`SELECT id, event_type, payload, attempts
		 FROM outbox_events
		 WHERE published_at IS NULL AND attempts < ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		r.maxAttempts, r.batchSize,
	).Scan(&rows).Error; err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return Result{}, nil
	}

	outcomes := make([]error, len(rows))
	deferred := make([]bool, len(rows))
	var wg sync.WaitGroup
	for i, row := range rows {
		evt, err := events.Decode(events.Type(row.EventType), row.Payload)
		if err != nil {
			outcomes[i] = err
			continue
		}

		wg.Add(1)
		submitErr := r.pool.Submit(func(context.Context) {
			defer wg.Done()
			outcomes[i] = r.dispatcher.Dispatch(events.ContextWithEventID(ctx, row.ID), evt)
		})
		if submitErr != nil {
			wg.Done()
			deferred[i] = true
		}
	}
	wg.Wait()

	var res Result
	var markErr error
	now := r.clock.Now().UTC()
	for i, row := range rows {
		if deferred[i] {
			res.Deferred++
			continue
		}
		if outcomes[i] == nil {
			res.Published++
			markErr = errors.Join(markErr, r.db.WithContext(ctx).Exec(
				`UPDATE outbox_events SET published_at = ?, attempts = attempts + 1 WHERE id = ?`,
				now, row.ID,
			).Error)
			continue
		}

		res.Failed++
		msg := outcomes[i].Error()
		r.log.Warn("event delivery failed",
			zap.String("event_id", row.ID),
			zap.String("event_type", row.EventType),
			zap.Int("attempt", row.Attempts+1),
			zap.Error(outcomes[i]),
		)
		markErr = errors.Join(markErr, r.db.WithContext(ctx).Exec(
			`UPDATE outbox_events SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
			msg, row.ID,
		).Error)
	}

	if res.Deferred > 0 {
		r.log.Debug("worker queue full, events deferred", zap.Int("deferred", res.Deferred))
	}
	return res, markErr
}

// Notify asks the background loop for a pass. It never blocks.
func (r *Relay) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Start runs passes whenever Notify fires.
func (r *Relay) Start() {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		for {
			select {
			case <-r.stop:
				return
			case <-r.notify:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if _, err := r.ProcessPending(ctx); err != nil {
					r.log.Warn("outbox pass failed", zap.Error(err))
				}
				cancel()
			}
		}
	}()
}

func (r *Relay) Stop(ctx context.Context) error {
	if r.stop == nil {
		return nil
	}
	close(r.stop)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Purge deletes rows published before cutoff.
func (r *Relay) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Exec(
		`DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < ?`,
		cutoff.UTC(),
	)
	return res.RowsAffected, res.Error
}
