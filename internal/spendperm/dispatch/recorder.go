package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

// Recorder is a Dispatcher that holds no balances. Every call succeeds and
// is recorded and logged, leaving settlement to whatever consumes the log.
// A batch whose self-call fails records none of its calls.
type Recorder struct {
	mu     sync.Mutex
	logger *log.Logger
	calls  []Record
}

func NewRecorder(logger *log.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// Calls returns every call recorded so far.
func (r *Recorder) Calls() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *Recorder) Execute(_ context.Context, account common.Address, call types.Call) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(account, call)
	r.logCalls(len(r.calls) - 1)
	return nil, nil
}

func (r *Recorder) ExecuteBatch(ctx context.Context, b Batch) ([][]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mark := len(r.calls)
	results := make([][]byte, 0, len(b.Calls))
	for i, call := range b.Calls {
		if call.Target != b.Engine {
			r.record(b.Account, call)
			results = append(results, nil)
			continue
		}
		if b.OnSelfCall == nil {
			r.calls = r.calls[:mark]
			return nil, fmt.Errorf("%w: call %d targets the engine", ErrSelfCallRejected, i)
		}
		if err := b.OnSelfCall(ctx, call.Data); err != nil {
			r.calls = r.calls[:mark]
			return nil, err
		}
		results = append(results, nil)
	}

	r.logCalls(mark)
	return results, nil
}

// logCalls logs the calls recorded from index from on. Callers hold r.mu.
func (r *Recorder) logCalls(from int) {
	for _, rec := range r.calls[from:] {
		r.logger.Printf("dispatch: account=%s target=%s value=%s data=%d bytes",
			rec.Account.Hex(), rec.Call.Target.Hex(), valueString(rec.Call), len(rec.Call.Data))
	}
}

// record appends call. Callers hold r.mu.
func (r *Recorder) record(account common.Address, call types.Call) {
	r.calls = append(r.calls, Record{Account: account, Call: copyCall(call)})
}

func valueString(c types.Call) string {
	if c.Value == nil {
		return "0"
	}
	return c.Value.String()
}
