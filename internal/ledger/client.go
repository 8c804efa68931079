package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"example.com/twotruths/internal/commitment"
)

const instrumentation = "example.com/twotruths/internal/ledger"

type Config struct {
	Fee              uint64
	PollInterval     time.Duration
	PollAttempts     int
	InclusionTimeout time.Duration
	SubmitAttempts   int
	RetryBase        time.Duration
}

func DefaultConfig() Config {
	return Config{
		Fee:              1,
		PollInterval:     5 * time.Second,
		PollAttempts:     12,
		InclusionTimeout: 70 * time.Second,
		SubmitAttempts:   4,
		RetryBase:        500 * time.Millisecond,
	}
}

// Client is safe for concurrent use by many sessions. The fee payer's nonce
// sequence is owned by a single account handle.
type Client struct {
	net   Network
	creds Credentials
	cfg   Config
	log   *slog.Logger

	acct *account

	mu       sync.Mutex
	inflight map[string]*Transaction

	reads singleflight.Group

	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

func NewClient(net Network, creds Credentials, cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = def.PollAttempts
	}
	if cfg.InclusionTimeout <= 0 {
		cfg.InclusionTimeout = def.InclusionTimeout
	}
	if cfg.SubmitAttempts <= 0 {
		cfg.SubmitAttempts = def.SubmitAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}

	outcomes, err := otel.Meter(instrumentation).Int64Counter(
		"ledger.publish.outcomes",
		metric.WithDescription("Terminal publish outcomes by status"),
	)
	if err != nil {
		log.Warn("ledger: outcome counter unavailable", "err", err)
	}

	return &Client{
		net:      net,
		creds:    creds,
		cfg:      cfg,
		log:      log.With("component", "ledger"),
		acct:     &account{address: creds.FeePayer.Address()},
		inflight: make(map[string]*Transaction),
		tracer:   otel.Tracer(instrumentation),
		outcomes: outcomes,
	}
}

// Publish starts publishing c to the slot at address and returns at once.
// The lifecycle is bound to ctx: cancelling it stops submission and polling.
//
// A commitment already in flight or included for the same slot returns the
// existing handle, and a slot that already holds c completes as a synthetic
// Included without a mutating transaction.
func (c *Client) Publish(ctx context.Context, address string, cm commitment.Commitment) *Transaction {
	key := inflightKey(address, cm)

	c.mu.Lock()
	if tx, ok := c.inflight[key]; ok {
		switch tx.Status() {
		case StatusRejected, StatusTimedOut:
		default:
			c.mu.Unlock()
			return tx
		}
	}
	tx := newTransaction(uuid.NewString(), address, cm)
	c.inflight[key] = tx
	c.mu.Unlock()

	go c.run(ctx, tx)
	return tx
}

// Release drops the idempotency entry for tx once its session is gone.
func (c *Client) Release(tx *Transaction) {
	if tx == nil {
		return
	}
	key := inflightKey(tx.address, tx.commitment)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[key] == tx {
		delete(c.inflight, key)
	}
}

// ReadCommitment returns the confirmed commitment held at address, or
// ErrNotFound. Concurrent reads of one address share a single network call.
func (c *Client) ReadCommitment(ctx context.Context, address string) (commitment.Commitment, error) {
	ctx, span := c.tracer.Start(ctx, "ledger.read_commitment", trace.WithAttributes(attribute.String("ledger.address", address)))
	defer span.End()

	v, err, _ := c.reads.Do(address, func() (any, error) {
		return c.readCommitment(ctx, address)
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
		}
		return commitment.Commitment{}, err
	}
	return v.(commitment.Commitment), nil
}

func (c *Client) readCommitment(ctx context.Context, address string) (commitment.Commitment, error) {
	raw, err := c.net.Commitment(ctx, address)
	if errors.Is(err, ErrNotFound) || (err == nil && len(raw) == 0) {
		return commitment.Commitment{}, ErrNotFound
	}
	if err != nil {
		return commitment.Commitment{}, &NetworkError{Op: "read commitment", Err: err}
	}
	var cm commitment.Commitment
	if err := cm.UnmarshalBinary(raw); err != nil {
		return commitment.Commitment{}, fmt.Errorf("ledger: slot %s: %w", address, err)
	}
	return cm, nil
}

func (c *Client) run(ctx context.Context, tx *Transaction) {
	ctx, span := c.tracer.Start(ctx, "ledger.publish", trace.WithAttributes(
		attribute.String("ledger.address", tx.address),
		attribute.String("ledger.tx_id", tx.id),
	))
	defer span.End()

	log := c.log.With("tx_id", tx.id, "address", tx.address)
	defer func() {
		info := tx.Info()
		span.SetAttributes(attribute.String("ledger.status", string(info.Status)), attribute.Int("ledger.retries", info.Retries))
		if info.Err() != nil {
			span.SetStatus(codes.Error, info.Error)
		}
		if c.outcomes != nil {
			c.outcomes.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("status", string(info.Status))))
		}
		log.Info("ledger publish finished", "status", info.Status, "retries", info.Retries, "synthetic", info.Synthetic, "err", info.Error)
	}()

	current, err := c.ReadCommitment(ctx, tx.address)
	switch {
	case err == nil && current.Equal(tx.commitment):
		tx.finish(StatusIncluded, &current, true, nil)
		return
	case err != nil && !errors.Is(err, ErrNotFound):
		// an unreadable slot does not block the publish
		log.Warn("ledger pre-publish read failed", "err", err)
	}

	hash, err := c.submit(ctx, tx)
	if err != nil {
		c.fail(ctx, tx, err)
		return
	}
	tx.setHash(hash)
	tx.advance(StatusPendingInclusion)

	c.poll(ctx, tx)
}

// submit builds, signs and hands tx to the network under the account lock so
// nonces reach the network in order.
func (c *Client) submit(ctx context.Context, tx *Transaction) (string, error) {
	c.acct.mu.Lock()
	defer c.acct.mu.Unlock()

	var nonce uint64
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		n, err := c.acct.nextLocked(ctx, c.net)
		if err != nil {
			return retry.RetryableError(err)
		}
		nonce = n
		return nil
	})
	if err != nil {
		return "", err
	}

	bin, err := tx.commitment.MarshalBinary()
	if err != nil {
		return "", &SigningError{Role: "payload", Err: err}
	}
	stx := SignedTx{
		ID: tx.id,
		Payload: Payload{
			Address:    tx.address,
			Method:     MethodSetCommitment,
			Commitment: hex.EncodeToString(bin),
			Nonce:      nonce,
			Fee:        c.cfg.Fee,
			FeePayer:   c.creds.FeePayer.Address(),
			Owner:      c.creds.Owner.Address(),
		},
	}
	if err := c.creds.Sign(&stx); err != nil {
		return "", err
	}
	tx.advance(StatusSigned)

	var ack Ack
	attempt := 0
	err = retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			tx.incRetries()
		}
		tx.advance(StatusSubmitted)
		a, err := c.net.Submit(ctx, stx)
		if err == nil {
			ack = a
			return nil
		}
		if errors.Is(err, ErrRejected) {
			return err
		}
		c.log.Debug("ledger submit failed", "tx_id", tx.id, "attempt", attempt, "err", err)
		return retry.RetryableError(&NetworkError{Op: "submit", Err: err})
	})
	if err != nil {
		// an unacknowledged submit may still have consumed the nonce
		c.acct.resetLocked()
		return "", err
	}
	c.acct.consumeLocked(nonce)
	return ack.TxHash, nil
}

// backoff bounds every retried network step to SubmitAttempts tries.
func (c *Client) backoff() retry.Backoff {
	return retry.WithMaxRetries(uint64(c.cfg.SubmitAttempts-1), retry.NewExponential(c.cfg.RetryBase))
}

func (c *Client) poll(ctx context.Context, tx *Transaction) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.InclusionTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	hash := tx.txHash()
	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			tx.finish(StatusTimedOut, nil, false, fmt.Errorf("%w: %w", ErrTimedOut, ctx.Err()))
			return
		case <-ticker.C:
		}

		r, err := c.net.Receipt(ctx, hash)
		if err != nil {
			continue
		}
		switch r.Status {
		case ReceiptIncluded:
			var confirmed *commitment.Commitment
			if cm, err := c.readCommitment(ctx, tx.address); err == nil {
				confirmed = &cm
			}
			tx.finish(StatusIncluded, confirmed, false, nil)
			return
		case ReceiptRejected:
			c.fail(ctx, tx, &RejectedError{Code: r.Code, Reason: r.Reason})
			return
		}
	}
	tx.finish(StatusTimedOut, nil, false, fmt.Errorf("%w: not included after %d polls", ErrTimedOut, c.cfg.PollAttempts))
}

func (c *Client) fail(ctx context.Context, tx *Transaction, err error) {
	var rej *RejectedError
	switch {
	case errors.As(err, &rej):
		if rej.Code == RejectStaleNonce {
			c.acct.reset()
		}
		tx.finish(StatusRejected, nil, false, err)
	case errors.Is(err, ErrSigning):
		tx.finish(StatusRejected, nil, false, err)
	case ctx.Err() != nil:
		tx.finish(StatusTimedOut, nil, false, fmt.Errorf("%w: %w", ErrTimedOut, ctx.Err()))
	default:
		tx.finish(StatusTimedOut, nil, false, fmt.Errorf("%w: %w", ErrTimedOut, err))
	}
}

func inflightKey(address string, cm commitment.Commitment) string {
	return address + "|" + cm.String()
}
