package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// OpType represents the type of write operation.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// WriteOp represents a single write operation to be batched.
type WriteOp struct {
	Table  string         // Target table
	Row    map[string]any // Column values
	ID     string         // For updates/deletes
	Op     OpType
	result chan<- WriteResult // Internal - set by SendSync
}

// WriteResult contains the result of a write operation.
type WriteResult struct {
	ID  string
	Err error
}

// SinkConfig configures the write sink.
type SinkConfig struct {
	Store         *Store
	BatchSize     int           // Flush after N ops (default: 100)
	FlushInterval time.Duration // Or after duration (default: 2s)
	QueueSize     int           // Buffer size (default: 1000)
	Logger        *slog.Logger
}

// Sink batches and coordinates writes to the store.
type Sink struct {
	store  *Store
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration

	queue   chan WriteOp
	batch   []WriteOp
	batchMu sync.Mutex
	flushCh chan chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSink creates a new write sink. Call Start before sending.
func NewSink(cfg SinkConfig) *Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sink{
		store:         cfg.Store,
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		queue:         make(chan WriteOp, cfg.QueueSize),
		batch:         make([]WriteOp, 0, cfg.BatchSize),
		flushCh:       make(chan chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins processing write operations.
func (s *Sink) Start(ctx context.Context) {
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.runBatcher()
}

// Stop gracefully shuts down the sink, flushing remaining operations.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping sink, flushing remaining operations")

		// Close queue to stop accepting new ops; the batcher drains it.
		close(s.queue)
		s.wg.Wait()
		s.cancel()

		s.logger.Info("sink stopped")
	})
}

// Send queues a write operation (fire-and-forget).
func (s *Sink) Send(op WriteOp) {
	op.result = nil

	// Send on a closed queue panics after Stop.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("sink closed, dropping write op", "table", op.Table, "op", op.Op)
		}
	}()

	select {
	case s.queue <- op:
	default:
		select {
		case s.queue <- op:
		case <-s.ctx.Done():
			s.logger.Warn("sink closed, dropping write op", "table", op.Table, "op", op.Op)
		}
	}
}

// SendSync queues a write operation and waits for the result.
func (s *Sink) SendSync(ctx context.Context, op WriteOp) (result WriteResult, err error) {
	resultCh := make(chan WriteResult, 1)
	op.result = resultCh

	defer func() {
		if r := recover(); r != nil {
			result, err = WriteResult{}, fmt.Errorf("sink closed")
		}
	}()

	select {
	case s.queue <- op:
	case <-s.ctx.Done():
		return WriteResult{}, fmt.Errorf("sink closed")
	case <-ctx.Done():
		return WriteResult{}, ctx.Err()
	}

	select {
	case result := <-resultCh:
		return result, result.Err
	case <-s.ctx.Done():
		return WriteResult{}, fmt.Errorf("sink closed while waiting for result")
	case <-ctx.Done():
		return WriteResult{}, ctx.Err()
	}
}

// Flush writes everything queued so far and waits for it to land.
func (s *Sink) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.flushCh <- done:
	case <-s.ctx.Done():
		return fmt.Errorf("sink closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runBatcher collects operations and flushes on size/time triggers.
func (s *Sink) runBatcher() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case op, ok := <-s.queue:
			if !ok {
				s.flushBatch()
				return
			}
			s.addToBatch(op)
			// Sync callers are waiting on the result, not the ticker.
			if op.result != nil {
				s.drainQueue()
				s.flushBatch()
			}

		case <-ticker.C:
			s.flushBatch()

		case done := <-s.flushCh:
			s.drainQueue()
			s.flushBatch()
			if done != nil {
				close(done)
			}
		}
	}
}

// drainQueue moves already-queued ops into the batch without blocking.
func (s *Sink) drainQueue() {
	for {
		select {
		case op, ok := <-s.queue:
			if !ok {
				return
			}
			s.addToBatch(op)
		default:
			return
		}
	}
}

// addToBatch adds an operation to the current batch, flushing if full.
func (s *Sink) addToBatch(op WriteOp) {
	s.batchMu.Lock()
	s.batch = append(s.batch, op)
	shouldFlush := len(s.batch) >= s.batchSize
	s.batchMu.Unlock()

	if shouldFlush {
		s.flushBatch()
	}
}

// flushBatch processes the current batch of operations in arrival order,
// grouping consecutive creates on the same table into one transaction.
func (s *Sink) flushBatch() {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	ops := s.batch
	s.batch = make([]WriteOp, 0, s.batchSize)
	s.batchMu.Unlock()

	s.logger.Debug("flushing batch", "count", len(ops))

	for start := 0; start < len(ops); {
		end := start + 1
		if ops[start].Op == OpCreate {
			for end < len(ops) && ops[end].Op == OpCreate && ops[end].Table == ops[start].Table {
				end++
			}
			s.processCreates(ops[start].Table, ops[start:end])
		} else {
			s.processOne(ops[start])
		}
		start = end
	}
}

// processCreates inserts a group of rows in one transaction. When the batch
// fails, rows are retried one by one so a bad row only fails itself.
func (s *Sink) processCreates(table string, ops []WriteOp) {
	rows := make([]map[string]any, len(ops))
	for i, op := range ops {
		rows[i] = op.Row
	}
	if err := s.store.InsertMany(s.ctx, table, rows); err == nil {
		for _, op := range ops {
			reply(op, WriteResult{ID: rowID(op)})
		}
		return
	}
	for _, op := range ops {
		s.processOne(op)
	}
}

func (s *Sink) processOne(op WriteOp) {
	var err error
	switch op.Op {
	case OpCreate:
		err = s.store.Insert(s.ctx, op.Table, op.Row)
	case OpUpdate:
		err = s.store.Update(s.ctx, op.Table, op.ID, op.Row)
	case OpDelete:
		err = s.store.Delete(s.ctx, op.Table, op.ID)
	default:
		err = fmt.Errorf("unknown op %q", op.Op)
	}
	if err != nil {
		s.logger.Error("write failed", "table", op.Table, "op", op.Op, "id", rowID(op), "error", err)
	}
	reply(op, WriteResult{ID: rowID(op), Err: err})
}

func reply(op WriteOp, result WriteResult) {
	if op.result != nil {
		op.result <- result
		close(op.result)
	}
}

func rowID(op WriteOp) string {
	if op.ID != "" {
		return op.ID
	}
	if id, ok := op.Row["id"].(string); ok {
		return id
	}
	return ""
}
