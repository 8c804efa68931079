package ledger

import (
	"context"
	"sync"
)

// account owns the fee payer's nonce sequence. Build, sign and submit for the
// account happen with mu held; the *Locked methods expect it.
type account struct {
	mu sync.Mutex

	address string
	nonce   uint64
	known   bool
}

func (a *account) nextLocked(ctx context.Context, net Network) (uint64, error) {
	if a.known {
		return a.nonce, nil
	}
	n, err := net.Nonce(ctx, a.address)
	if err != nil {
		return 0, &NetworkError{Op: "nonce", Err: err}
	}
	a.nonce = n
	a.known = true
	return n, nil
}

func (a *account) consumeLocked(used uint64) {
	a.nonce = used + 1
	a.known = true
}

func (a *account) resetLocked() {
	a.known = false
}

func (a *account) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}
