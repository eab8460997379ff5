package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func callRow(id string) map[string]any {
	return map[string]any{
		"id":         id,
		"timestamp":  time.Now(),
		"prompt_key": "correct",
		"provider":   "mock",
	}
}

func TestSink_SendSync_Create(t *testing.T) {
	s := newTestStore(t)
	sink := NewSink(SinkConfig{
		Store:         s,
		BatchSize:     10,
		FlushInterval: time.Hour,
	})

	ctx := context.Background()
	sink.Start(ctx)
	defer sink.Stop()

	result, err := sink.SendSync(ctx, WriteOp{
		Table: TableLLMCalls,
		Row:   callRow("call-1"),
		Op:    OpCreate,
	})
	if err != nil {
		t.Fatalf("SendSync failed: %v", err)
	}
	if result.ID != "call-1" {
		t.Errorf("expected ID 'call-1', got %q", result.ID)
	}

	n, _ := s.Count(ctx, TableLLMCalls)
	if n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}
}

func TestSink_SendSync_DoesNotWaitForTicker(t *testing.T) {
	s := newTestStore(t)
	sink := NewSink(SinkConfig{
		Store:         s,
		BatchSize:     100,
		FlushInterval: time.Hour,
	})
	sink.Start(context.Background())
	defer sink.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Interleave fire-and-forget and sync writes so the batcher is often busy
	// when a sync op arrives.
	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sink.Send(WriteOp{Table: TableLLMCalls, Row: callRow(fmt.Sprintf("async-%d", i)), Op: OpCreate})
			_, err := sink.SendSync(ctx, WriteOp{Table: TableLLMCalls, Row: callRow(fmt.Sprintf("sync-%d", i)), Op: OpCreate})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("SendSync failed: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		if _, err := sink.SendSync(ctx, WriteOp{Table: TableLLMCalls, Row: callRow(fmt.Sprintf("seq-%d", i)), Op: OpCreate}); err != nil {
			t.Fatalf("sequential SendSync failed: %v", err)
		}
	}

	n, _ := s.Count(ctx, TableLLMCalls)
	if n < 25 {
		t.Errorf("expected at least 25 rows, got %d", n)
	}
}

func TestSink_Send_FireAndForget(t *testing.T) {
	s := newTestStore(t)
	sink := NewSink(SinkConfig{
		Store:         s,
		BatchSize:     10,
		FlushInterval: 50 * time.Millisecond,
	})

	ctx := context.Background()
	sink.Start(ctx)

	sink.Send(WriteOp{Table: TableLLMCalls, Row: callRow("call-1"), Op: OpCreate})

	// Stop flushes whatever is still queued.
	sink.Stop()

	n, _ := s.Count(ctx, TableLLMCalls)
	if n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}
}

func TestSink_Flush(t *testing.T) {
	s := newTestStore(t)
	sink := NewSink(SinkConfig{
		Store:         s,
		BatchSize:     100,
		FlushInterval: time.Hour, // only Flush should write
	})

	ctx := context.Background()
	sink.Start(ctx)
	defer sink.Stop()

	for i := 0; i < 5; i++ {
		sink.Send(WriteOp{Table: TableLLMCalls, Row: callRow(fmt.Sprintf("call-%d", i)), Op: OpCreate})
	}
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	n, _ := s.Count(ctx, TableLLMCalls)
	if n != 5 {
		t.Errorf("expected 5 rows after flush, got %d", n)
	}
}

func TestSink_BadRowIsolated(t *testing.T) {
	s := newTestStore(t)
	sink := NewSink(SinkConfig{Store: s, FlushInterval: time.Hour})

	ctx := context.Background()
	sink.Start(ctx)
	defer sink.Stop()

	sink.Send(WriteOp{Table: TableLLMCalls, Row: callRow("dup"), Op: OpCreate})
	sink.Send(WriteOp{Table: TableLLMCalls, Row: callRow("dup"), Op: OpCreate}) // primary key clash
	sink.Send(WriteOp{Table: TableLLMCalls, Row: callRow("ok"), Op: OpCreate})
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	n, _ := s.Count(ctx, TableLLMCalls)
	if n != 2 {
		t.Errorf("expected 2 rows, got %d", n)
	}
}

func TestSink_UpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateRun(ctx, &Run{ID: "run-1", Kind: KindCorrect}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	sink := NewSink(SinkConfig{Store: s, FlushInterval: time.Hour})
	sink.Start(ctx)
	defer sink.Stop()

	if _, err := sink.SendSync(ctx, WriteOp{
		Table: TableRuns, ID: "run-1", Op: OpUpdate,
		Row: map[string]any{"status": StatusFailed},
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	run, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, run.Status)
	}

	if _, err := sink.SendSync(ctx, WriteOp{Table: TableRuns, ID: "run-1", Op: OpDelete}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := sink.SendSync(ctx, WriteOp{Table: TableRuns, ID: "run-1", Op: OpDelete}); err == nil {
		t.Error("expected error deleting missing row")
	}
}

func TestSink_SendAfterStop(t *testing.T) {
	s := newTestStore(t)
	sink := NewSink(SinkConfig{Store: s})
	sink.Start(context.Background())
	sink.Stop()

	// Must not panic.
	sink.Send(WriteOp{Table: TableLLMCalls, Row: callRow("late"), Op: OpCreate})
	if _, err := sink.SendSync(context.Background(), WriteOp{Table: TableLLMCalls, Row: callRow("late"), Op: OpCreate}); err == nil {
		t.Error("expected error after stop")
	}
}
