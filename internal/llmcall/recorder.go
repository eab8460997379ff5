package llmcall

import (
	"github.com/jackzampolin/swaggerfix/internal/providers"
	"github.com/jackzampolin/swaggerfix/internal/store"
)

// Recorder handles fire-and-forget LLM call recording via a Sink.
type Recorder struct {
	sink *store.Sink
}

// NewRecorder creates a new LLM call recorder.
func NewRecorder(sink *store.Sink) *Recorder {
	return &Recorder{sink: sink}
}

// Record captures an LLM call asynchronously and returns the recorded call.
// This is non-blocking - the write is queued and batched.
func (r *Recorder) Record(result *providers.ChatResult, opts RecordOptions) *Call {
	call := FromChatResult(result, opts)
	r.RecordCall(call)
	return call
}

// RecordCall captures an already-constructed Call asynchronously.
func (r *Recorder) RecordCall(call *Call) {
	if r == nil || r.sink == nil || call == nil {
		return
	}

	r.sink.Send(store.WriteOp{
		Op:    store.OpCreate,
		Table: store.TableLLMCalls,
		Row:   call.ToRow(),
	})
}
