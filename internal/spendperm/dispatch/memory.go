package dispatch

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/calldata"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

// Record is one executed call.
type Record struct {
	Account common.Address
	Call    types.Call
}

// Memory is an in-process Dispatcher. It keeps native balances and balances
// of registered tokens, and understands transfer(address,uint256) calls to
// those tokens. Any other call only moves its value.
type Memory struct {
	mu       sync.Mutex
	native   map[common.Address]*big.Int
	tokens   map[common.Address]map[common.Address]*big.Int
	failures map[common.Address]error
	calls    []Record
}

func NewMemory() *Memory {
	return &Memory{
		native:   make(map[common.Address]*big.Int),
		tokens:   make(map[common.Address]map[common.Address]*big.Int),
		failures: make(map[common.Address]error),
	}
}

// Fund credits amount of the native asset to addr.
func (m *Memory) Fund(addr common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.native[addr] = new(big.Int).Add(balanceOf(m.native, addr), amount)
}

// FundToken registers token (if needed) and credits amount to holder.
func (m *Memory) FundToken(token, holder common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bals, ok := m.tokens[token]
	if !ok {
		bals = make(map[common.Address]*big.Int)
		m.tokens[token] = bals
	}
	bals[holder] = new(big.Int).Add(balanceOf(bals, holder), amount)
}

// FailCallsTo makes every call to target fail with err.
func (m *Memory) FailCallsTo(target common.Address, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[target] = err
}

func (m *Memory) Balance(addr common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(balanceOf(m.native, addr))
}

func (m *Memory) TokenBalance(token, holder common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(balanceOf(m.tokens[token], holder))
}

// Calls returns every call executed so far.
func (m *Memory) Calls() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Memory) Execute(ctx context.Context, account common.Address, call types.Call) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	out, err := m.execute(account, call)
	if err != nil {
		m.restore(snap)
		return nil, err
	}
	return out, nil
}

func (m *Memory) ExecuteBatch(ctx context.Context, b Batch) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	results := make([][]byte, 0, len(b.Calls))
	for i, call := range b.Calls {
		if call.Target == b.Engine {
			if b.OnSelfCall == nil {
				m.restore(snap)
				return nil, fmt.Errorf("%w: call %d targets the engine", ErrSelfCallRejected, i)
			}
			if err := b.OnSelfCall(ctx, call.Data); err != nil {
				m.restore(snap)
				return nil, err
			}
			results = append(results, nil)
			continue
		}

		out, err := m.execute(b.Account, call)
		if err != nil {
			m.restore(snap)
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		results = append(results, out)
	}
	return results, nil
}

// execute applies one call. Callers hold m.mu.
func (m *Memory) execute(account common.Address, call types.Call) ([]byte, error) {
	if err, ok := m.failures[call.Target]; ok {
		return nil, fmt.Errorf("%w: %v", ErrCallFailed, err)
	}

	if call.Value != nil && call.Value.Sign() > 0 {
		if err := move(m.native, account, call.Target, call.Value); err != nil {
			return nil, err
		}
	}

	if bals, ok := m.tokens[call.Target]; ok && len(call.Data) > 0 {
		to, amount, err := calldata.DecodeTransfer(call.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCallFailed, err)
		}
		if err := move(bals, account, to, amount); err != nil {
			return nil, err
		}
	}

	m.calls = append(m.calls, Record{Account: account, Call: copyCall(call)})
	return nil, nil
}

type snapshot struct {
	native map[common.Address]*big.Int
	tokens map[common.Address]map[common.Address]*big.Int
	calls  int
}

func (m *Memory) snapshot() snapshot {
	s := snapshot{
		native: copyBalances(m.native),
		tokens: make(map[common.Address]map[common.Address]*big.Int, len(m.tokens)),
		calls:  len(m.calls),
	}
	for t, bals := range m.tokens {
		s.tokens[t] = copyBalances(bals)
	}
	return s
}

func (m *Memory) restore(s snapshot) {
	m.native = s.native
	m.tokens = s.tokens
	m.calls = m.calls[:s.calls]
}

func move(bals map[common.Address]*big.Int, from, to common.Address, amount *big.Int) error {
	have := balanceOf(bals, from)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, have, amount)
	}
	bals[from] = new(big.Int).Sub(have, amount)
	bals[to] = new(big.Int).Add(balanceOf(bals, to), amount)
	return nil
}

func balanceOf(bals map[common.Address]*big.Int, addr common.Address) *big.Int {
	if v, ok := bals[addr]; ok {
		return v
	}
	return new(big.Int)
}

func copyBalances(in map[common.Address]*big.Int) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyCall(c types.Call) types.Call {
	out := types.Call{Target: c.Target, Data: append([]byte(nil), c.Data...)}
	if c.Value != nil {
		out.Value = new(big.Int).Set(c.Value)
	}
	return out
}
