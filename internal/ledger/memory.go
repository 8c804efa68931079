package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"example.com/twotruths/internal/commitment"
)

// Block is one entry of the in-memory chain.
type Block struct {
	Index      uint64 `json:"index"`
	Timestamp  int64  `json:"timestamp"`
	PrevHash   string `json:"prevHash"`
	Hash       string `json:"hash"`
	TxHash     string `json:"txHash"`
	Address    string `json:"address"`
	Commitment string `json:"commitment"`
}

type MemoryOptions struct {
	MinFee uint64
	// InclusionDelay is how long an accepted transaction stays pending.
	InclusionDelay time.Duration
	Now            func() time.Time
}

type pendingTx struct {
	hash       string
	payload    Payload
	acceptedAt time.Time
}

// MemoryNetwork is an in-process ledger: a hash-linked chain of blocks with
// per-address commitment slots, fee payer nonces and slot ownership. It
// enforces the same rejections a real node would and is used for local
// development and tests.
type MemoryNetwork struct {
	mu sync.Mutex

	opts MemoryOptions

	blocks   []Block
	slots    map[string][]byte
	owners   map[string]string
	nonces   map[string]uint64
	pending  []pendingTx
	receipts map[string]Receipt

	halted      bool
	failSubmits int
	submissions int
}

func NewMemoryNetwork(opts MemoryOptions) *MemoryNetwork {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	n := &MemoryNetwork{
		opts:     opts,
		slots:    make(map[string][]byte),
		owners:   make(map[string]string),
		nonces:   make(map[string]uint64),
		receipts: make(map[string]Receipt),
	}

	genesis := Block{Index: 0, Timestamp: opts.Now().Unix(), PrevHash: "0"}
	genesis.Hash = blockHash(genesis)
	n.blocks = append(n.blocks, genesis)
	return n
}

func (n *MemoryNetwork) Nonce(ctx context.Context, account string) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nonces[account], nil
}

func (n *MemoryNetwork) Submit(ctx context.Context, tx SignedTx) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failSubmits > 0 {
		n.failSubmits--
		return Ack{}, errors.New("memory ledger: connection refused")
	}

	p := tx.Payload
	msg, err := p.SigningBytes()
	if err != nil {
		return Ack{}, &RejectedError{Code: RejectInvalidPayload, Reason: err.Error()}
	}
	if p.Method != MethodSetCommitment {
		return Ack{}, &RejectedError{Code: RejectInvalidPayload, Reason: "unknown method " + p.Method}
	}
	raw, err := hex.DecodeString(p.Commitment)
	if err != nil {
		return Ack{}, &RejectedError{Code: RejectInvalidPayload, Reason: "commitment is not hex"}
	}
	var cm commitment.Commitment
	if err := cm.UnmarshalBinary(raw); err != nil {
		return Ack{}, &RejectedError{Code: RejectInvalidPayload, Reason: err.Error()}
	}
	if err := VerifySignature(p.FeePayer, msg, tx.FeePayerSig); err != nil {
		return Ack{}, &RejectedError{Code: RejectBadSignature, Reason: "fee payer: " + err.Error()}
	}
	if err := VerifySignature(p.Owner, msg, tx.OwnerSig); err != nil {
		return Ack{}, &RejectedError{Code: RejectBadSignature, Reason: "owner: " + err.Error()}
	}
	if p.Fee < n.opts.MinFee {
		return Ack{}, &RejectedError{Code: RejectInsufficientFee, Reason: fmt.Sprintf("fee %d below %d", p.Fee, n.opts.MinFee)}
	}
	if want := n.nonces[p.FeePayer]; p.Nonce != want {
		return Ack{}, &RejectedError{Code: RejectStaleNonce, Reason: fmt.Sprintf("nonce %d, expected %d", p.Nonce, want)}
	}
	if owner, ok := n.owners[p.Address]; ok && owner != p.Owner {
		return Ack{}, &RejectedError{Code: RejectUnauthorized, Reason: "slot owned by another key"}
	}

	n.nonces[p.FeePayer]++
	n.submissions++
	// the first accepted writer claims the slot, mined or not
	if _, ok := n.owners[p.Address]; !ok {
		n.owners[p.Address] = p.Owner
	}

	sum := sha256.Sum256(append(msg, tx.FeePayerSig...))
	hash := "0x" + hex.EncodeToString(sum[:])
	n.pending = append(n.pending, pendingTx{hash: hash, payload: p, acceptedAt: n.opts.Now()})
	n.receipts[hash] = Receipt{TxHash: hash, Status: ReceiptPending}

	return Ack{TxHash: hash}, nil
}

func (n *MemoryNetwork) Receipt(ctx context.Context, txHash string) (Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.mineLocked()
	r, ok := n.receipts[txHash]
	if !ok {
		return Receipt{}, ErrNotFound
	}
	return r, nil
}

func (n *MemoryNetwork) Commitment(ctx context.Context, address string) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.mineLocked()
	v, ok := n.slots[address]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Halt stops (or resumes) block production; pending transactions stay pending.
func (n *MemoryNetwork) Halt(halted bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.halted = halted
}

// FailNextSubmits makes the next k Submit calls fail with a transport error.
func (n *MemoryNetwork) FailNextSubmits(k int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failSubmits = k
}

// Submissions counts accepted state-mutating transactions.
func (n *MemoryNetwork) Submissions() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.submissions
}

func (n *MemoryNetwork) Blocks() []Block {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Block(nil), n.blocks...)
}

// Verify checks the hash links of the whole chain.
func (n *MemoryNetwork) Verify() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.blocks) == 0 || n.blocks[0].PrevHash != "0" {
		return errors.New("invalid genesis block")
	}
	for i := 1; i < len(n.blocks); i++ {
		cur, prev := n.blocks[i], n.blocks[i-1]
		if cur.Index != prev.Index+1 {
			return fmt.Errorf("block %d: invalid index %d", i, cur.Index)
		}
		if cur.PrevHash != prev.Hash {
			return fmt.Errorf("block %d: invalid prev hash", i)
		}
		if cur.Hash != blockHash(cur) {
			return fmt.Errorf("block %d: invalid hash", i)
		}
	}
	return nil
}

func (n *MemoryNetwork) mineLocked() {
	if n.halted || len(n.pending) == 0 {
		return
	}
	now := n.opts.Now()
	kept := n.pending[:0]
	for _, p := range n.pending {
		if now.Sub(p.acceptedAt) < n.opts.InclusionDelay {
			kept = append(kept, p)
			continue
		}
		latest := n.blocks[len(n.blocks)-1]
		b := Block{
			Index:      latest.Index + 1,
			Timestamp:  now.Unix(),
			PrevHash:   latest.Hash,
			TxHash:     p.hash,
			Address:    p.payload.Address,
			Commitment: p.payload.Commitment,
		}
		b.Hash = blockHash(b)
		n.blocks = append(n.blocks, b)

		raw, _ := hex.DecodeString(p.payload.Commitment)
		n.slots[p.payload.Address] = raw
		n.receipts[p.hash] = Receipt{TxHash: p.hash, Status: ReceiptIncluded, Block: b.Index}
	}
	n.pending = kept
}

func blockHash(b Block) string {
	data, _ := json.Marshal(struct {
		Index      uint64 `json:"index"`
		Timestamp  int64  `json:"timestamp"`
		PrevHash   string `json:"prevHash"`
		TxHash     string `json:"txHash"`
		Address    string `json:"address"`
		Commitment string `json:"commitment"`
	}{b.Index, b.Timestamp, b.PrevHash, b.TxHash, b.Address, b.Commitment})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
