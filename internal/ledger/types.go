// Package ledger publishes session commitments to an append-only ledger and
// reads them back.
//
// A publish runs Built → Signed → Submitted → PendingInclusion and ends in
// exactly one of Included, Rejected or TimedOut. The Client hides the nonce
// bookkeeping, signing, retry and inclusion polling behind Publish and
// ReadCommitment.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type Status string

const (
	StatusBuilt            Status = "built"
	StatusSigned           Status = "signed"
	StatusSubmitted        Status = "submitted"
	StatusPendingInclusion Status = "pending_inclusion"
	StatusIncluded         Status = "included"
	StatusRejected         Status = "rejected"
	StatusTimedOut         Status = "timed_out"
)

func (s Status) Terminal() bool {
	return s == StatusIncluded || s == StatusRejected || s == StatusTimedOut
}

var (
	ErrNotFound = errors.New("ledger: not found")
	ErrRejected = errors.New("ledger: transaction rejected")
	ErrTimedOut = errors.New("ledger: transaction timed out")
	ErrNetwork  = errors.New("ledger: network error")
	ErrSigning  = errors.New("ledger: signing failed")
)

// Rejection codes reported by the network.
const (
	RejectStaleNonce      = "stale_nonce"
	RejectInsufficientFee = "insufficient_fee"
	RejectUnauthorized    = "unauthorized"
	RejectBadSignature    = "bad_signature"
	RejectInvalidPayload  = "invalid_payload"
)

// RejectedError is an explicit refusal by the network. It is never retried.
type RejectedError struct {
	Code   string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("ledger: transaction rejected: %s", e.Code)
	}
	return fmt.Sprintf("ledger: transaction rejected: %s: %s", e.Code, e.Reason)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// NetworkError is a transient transport failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

type SigningError struct {
	Role string
	Err  error
}

func (e *SigningError) Error() string { return fmt.Sprintf("ledger: sign as %s: %v", e.Role, e.Err) }
func (e *SigningError) Unwrap() error { return e.Err }
func (e *SigningError) Is(target error) bool {
	return target == ErrSigning
}

// MethodSetCommitment is the only state-mutating contract call.
const MethodSetCommitment = "setCommitment"

// Payload is the signed body of a setCommitment transaction.
type Payload struct {
	Address    string `json:"address"`
	Method     string `json:"method"`
	Commitment string `json:"commitment"` // hex of the binary commitment form
	Nonce      uint64 `json:"nonce"`
	Fee        uint64 `json:"fee"`
	FeePayer   string `json:"fee_payer"`
	Owner      string `json:"owner"`
}

// SigningBytes is the canonical serialization covered by both signatures.
func (p Payload) SigningBytes() ([]byte, error) {
	return json.Marshal(p)
}

type SignedTx struct {
	ID          string  `json:"id"`
	Payload     Payload `json:"payload"`
	FeePayerSig []byte  `json:"fee_payer_sig"`
	OwnerSig    []byte  `json:"owner_sig"`
}

// Ack is the network's acknowledgement that a transaction is queued.
type Ack struct {
	TxHash string `json:"tx_hash"`
}

type ReceiptStatus string

const (
	ReceiptPending  ReceiptStatus = "pending"
	ReceiptIncluded ReceiptStatus = "included"
	ReceiptRejected ReceiptStatus = "rejected"
)

type Receipt struct {
	TxHash string        `json:"tx_hash"`
	Status ReceiptStatus `json:"status"`
	Block  uint64        `json:"block,omitempty"`
	Code   string        `json:"code,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// Network is the ledger node surface the Client depends on.
//
// Submit must return a *RejectedError for explicit refusals; any other error is
// treated as transient. Receipt and Commitment return ErrNotFound for unknown
// hashes and empty slots.
type Network interface {
	Nonce(ctx context.Context, account string) (uint64, error)
	Submit(ctx context.Context, tx SignedTx) (Ack, error)
	Receipt(ctx context.Context, txHash string) (Receipt, error)
	Commitment(ctx context.Context, address string) ([]byte, error)
}
