package ledger

import (
	"context"
	"sync"
	"time"

	"example.com/twotruths/internal/commitment"
)

// Transaction is a handle on one publish. Only the Client mutates it; it is
// frozen once a terminal status is reached.
type Transaction struct {
	mu sync.RWMutex

	id         string
	address    string
	commitment commitment.Commitment

	status    Status
	retries   int
	hash      string
	confirmed *commitment.Commitment
	synthetic bool
	err       error
	createdAt time.Time
	updatedAt time.Time

	done chan struct{}
}

// TransactionInfo is an immutable copy of a Transaction's state.
type TransactionInfo struct {
	ID         string    `json:"id"`
	Address    string    `json:"address"`
	Commitment string    `json:"commitment"`
	Status     Status    `json:"status"`
	Retries    int       `json:"retries"`
	TxHash     string    `json:"txHash,omitempty"`
	Confirmed  string    `json:"confirmed,omitempty"`
	Synthetic  bool      `json:"synthetic,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	confirmed *commitment.Commitment
	err       error
}

// ConfirmedCommitment is the value read from the ledger after inclusion.
func (i TransactionInfo) ConfirmedCommitment() (commitment.Commitment, bool) {
	if i.confirmed == nil {
		return commitment.Commitment{}, false
	}
	return *i.confirmed, true
}

func (i TransactionInfo) Err() error { return i.err }

func newTransaction(id, address string, c commitment.Commitment) *Transaction {
	now := time.Now()
	return &Transaction{
		id:         id,
		address:    address,
		commitment: c,
		status:     StatusBuilt,
		createdAt:  now,
		updatedAt:  now,
		done:       make(chan struct{}),
	}
}

func (t *Transaction) ID() string      { return t.id }
func (t *Transaction) Address() string { return t.address }

func (t *Transaction) Commitment() commitment.Commitment { return t.commitment }

func (t *Transaction) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Done is closed when the transaction reaches a terminal status.
func (t *Transaction) Done() <-chan struct{} { return t.done }

func (t *Transaction) Info() TransactionInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info := TransactionInfo{
		ID:         t.id,
		Address:    t.address,
		Commitment: t.commitment.Hex(),
		Status:     t.status,
		Retries:    t.retries,
		TxHash:     t.hash,
		Synthetic:  t.synthetic,
		CreatedAt:  t.createdAt,
		UpdatedAt:  t.updatedAt,
		confirmed:  t.confirmed,
		err:        t.err,
	}
	if t.confirmed != nil {
		info.Confirmed = t.confirmed.Hex()
	}
	if t.err != nil {
		info.Error = t.err.Error()
	}
	return info
}

// Wait blocks until the transaction is terminal or ctx is done.
func (t *Transaction) Wait(ctx context.Context) (TransactionInfo, error) {
	select {
	case <-t.done:
		return t.Info(), nil
	case <-ctx.Done():
		return t.Info(), ctx.Err()
	}
}

func (t *Transaction) advance(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = s
	t.updatedAt = time.Now()
}

func (t *Transaction) setHash(h string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hash = h
}

func (t *Transaction) txHash() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hash
}

func (t *Transaction) incRetries() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retries++
}

func (t *Transaction) finish(s Status, confirmed *commitment.Commitment, synthetic bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = s
	t.confirmed = confirmed
	t.synthetic = synthetic
	t.err = err
	t.updatedAt = time.Now()
	close(t.done)
}
