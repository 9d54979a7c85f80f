package sandwich

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceSource reads the account's next pending nonce from the chain.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out strictly increasing, non-overlapping nonce ranges
// to concurrent executions. It resynchronises with the chain whenever no
// range is outstanding, so nonces of bundles that never landed are reused.
type NonceManager struct {
	mu       sync.Mutex
	source   NonceSource
	account  common.Address
	next     uint64
	synced   bool
	inFlight int
}

func NewNonceManager(source NonceSource, account common.Address) *NonceManager {
	return &NonceManager{source: source, account: account}
}

// Reserve returns the first of n consecutive nonces.
func (m *NonceManager) Reserve(ctx context.Context, n int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.synced || m.inFlight == 0 {
		pending, err := m.source.PendingNonceAt(ctx, m.account)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %w", err)
		}
		m.next = pending
		m.synced = true
	}

	start := m.next
	m.next += uint64(n)
	m.inFlight += n
	return start, nil
}

// Release returns n reserved nonces once their execution has settled.
func (m *NonceManager) Release(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight -= n
	if m.inFlight < 0 {
		m.inFlight = 0
	}
}

// Account is the address nonces are managed for.
func (m *NonceManager) Account() common.Address {
	return m.account
}
