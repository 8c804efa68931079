package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"example.com/twotruths/internal/commitment"
	"example.com/twotruths/internal/ledger"
	"example.com/twotruths/internal/narrative"
)

// maxHistory bounds the chat transcript handed to the generator.
const maxHistory = 40

type Config struct {
	MaxViolations       int
	CrossCheckTimeout   time.Duration
	PublishAttempts     int
	RepublishBackoff    time.Duration
	GeneratorRetryDelay time.Duration
	Algorithm           commitment.Algorithm
	LedgerNamespace     string
}

func (c Config) withDefaults() Config {
	if c.MaxViolations <= 0 {
		c.MaxViolations = DefaultMaxViolations
	}
	if c.CrossCheckTimeout <= 0 {
		c.CrossCheckTimeout = 2 * time.Second
	}
	if c.PublishAttempts <= 0 {
		c.PublishAttempts = 2
	}
	if c.RepublishBackoff <= 0 {
		c.RepublishBackoff = 2 * time.Second
	}
	if c.GeneratorRetryDelay <= 0 {
		c.GeneratorRetryDelay = 250 * time.Millisecond
	}
	if c.Algorithm == "" {
		c.Algorithm = commitment.Poseidon
	}
	if c.LedgerNamespace == "" {
		c.LedgerNamespace = "twotruths"
	}
	return c
}

// Ledger is the part of the ledger client a session uses.
type Ledger interface {
	Publish(ctx context.Context, address string, c commitment.Commitment) *ledger.Transaction
	ReadCommitment(ctx context.Context, address string) (commitment.Commitment, error)
	Release(tx *ledger.Transaction)
}

// Outbox receives the envelopes a session sends to its client.
type Outbox interface {
	Send(env Envelope)
}

type Deps struct {
	Generator narrative.Generator
	Ledger    Ledger
	Log       *slog.Logger
	// Order picks the display order of a new round; random when nil.
	Order func() [3]commitment.Slot
}

func randomOrder() [3]commitment.Slot {
	var out [3]commitment.Slot
	for i, v := range rand.Perm(3) {
		out[i] = commitment.Slot(v)
	}
	return out
}

// Coordinator runs one session end to end. Inbound envelopes are handled one
// at a time; ledger publication runs in the background bound to the
// session's context.
type Coordinator struct {
	cfg  Config
	deps Deps
	out  Outbox
	log  *slog.Logger

	onPersist  func(SessionSnapshot)
	onResolved func(SessionSnapshot)

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	seq       sync.Mutex
	persistMu sync.Mutex

	mu      sync.Mutex
	sess    *GameSession
	machine *Machine
	closed  bool
}

func NewCoordinator(parent context.Context, id string, player Player, cfg Config, deps Deps, out Outbox) *Coordinator {
	cfg = cfg.withDefaults()
	if deps.Order == nil {
		deps.Order = randomOrder
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	return &Coordinator{
		cfg:     cfg,
		deps:    deps,
		out:     out,
		log:     log.With("component", "session", "session_id", id, "player_id", player.ID),
		ctx:     ctx,
		cancel:  cancel,
		sess:    &GameSession{ID: id, Player: player, CreatedAt: now, UpdatedAt: now},
		machine: NewMachine(cfg.MaxViolations),
	}
}

func (c *Coordinator) ID() string { return c.sess.ID }

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State()
}

func (c *Coordinator) Snapshot() SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.snapshot(c.machine)
}

// Handle processes one inbound envelope to completion.
func (c *Coordinator) Handle(env Envelope) {
	c.seq.Lock()
	defer c.seq.Unlock()

	c.log.Debug("session message", "message_type", env.MessageType, "sender", env.Sender)

	switch env.MessageType {
	case TypeInitialization:
		c.handleInitialization(env)
	case TypeChat:
		c.handleChat(env)
	case TypeAnswer:
		c.handleAnswer(env)
	default:
		c.fire(Event(env.MessageType))
	}
}

// Malformed records an undecodable frame. It counts as a protocol violation.
func (c *Coordinator) Malformed() {
	c.seq.Lock()
	defer c.seq.Unlock()
	c.fire(EventMalformed)
}

// Close cancels in-flight generator and ledger work and concludes the session.
func (c *Coordinator) Close() {
	c.cancel()

	c.seq.Lock()
	defer c.seq.Unlock()
	c.bg.Wait()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	_, _ = c.machine.Fire(EventDisconnect)
	c.sess.UpdatedAt = time.Now()
	tx := c.sess.tx
	c.mu.Unlock()

	if tx != nil {
		c.deps.Ledger.Release(tx)
	}
	c.persist()
	c.log.Info("session closed", "state", c.State())
}

// fire applies ev and reports a rejection to the client.
func (c *Coordinator) fire(ev Event) bool {
	c.mu.Lock()
	_, err := c.machine.Fire(ev)
	c.sess.UpdatedAt = time.Now()
	c.mu.Unlock()
	if err == nil {
		return true
	}

	var perr *ProtocolError
	if !errors.As(err, &perr) {
		c.send(errorEnvelope(CodeProtocol, err.Error()))
		return false
	}
	c.log.Warn("protocol violation", "event", ev, "state", perr.State, "violations", perr.Violations)

	switch {
	case perr.Cancelled:
		c.send(errorEnvelope(CodeSessionCancelled, "too many out of sequence messages, session cancelled"))
		c.cancel()
		c.persist()
	case perr.Concluded:
		c.send(errorEnvelope(CodeProtocol, fmt.Sprintf("session already %s", perr.State)))
	case ev == EventMalformed:
		c.send(errorEnvelope(CodeBadJSON, "invalid json"))
		c.persist()
	default:
		c.send(errorEnvelope(CodeProtocol, fmt.Sprintf("%q is not allowed while the session is %s", ev, perr.State)))
		c.persist()
	}
	return false
}

func (c *Coordinator) handleInitialization(env Envelope) {
	if !c.fire(EventInitialization) {
		return
	}
	if env.GameType != GameTwoTruthsALie && env.GameType != gameTwoTruthsALieLegacy {
		c.failInitialization(CodeUnsupportedGame, fmt.Sprintf("unsupported game type %q", env.GameType))
		return
	}

	st, err := generatorRetry(c, func(ctx context.Context) (narrative.Statements, error) {
		return c.deps.Generator.Statements(ctx)
	})
	if err != nil {
		c.log.Error("statement generation failed", "err", err)
		c.failInitialization(CodeGenerator, "the host could not start a round, please try again")
		return
	}

	cm, err := commitment.Compute(st.Truth1, st.Truth2, st.Lie, c.cfg.Algorithm)
	if err != nil {
		c.log.Error("commitment failed", "err", err)
		c.failInitialization(CodeEncoding, err.Error())
		return
	}

	order := c.deps.Order()
	address := ledger.SlotAddress(c.cfg.LedgerNamespace, c.sess.ID)

	c.mu.Lock()
	c.sess.Statements = st
	c.sess.Order = order
	c.sess.Commitment = cm
	c.sess.Address = address
	_, _ = c.machine.Fire(EventCommitmentAcknowledged)
	opening := c.sess.opening()
	c.mu.Unlock()

	c.bg.Add(1)
	go c.publish(address, cm)

	c.log.Info("session initialized", "commitment", cm.String(), "address", address)
	c.persist()
	c.send(Envelope{
		MessageType: TypeInitialization,
		Message:     opening,
		Sender:      SenderBot,
		SessionID:   c.sess.ID,
		Commitment:  cm.Hex(),
	})
}

func (c *Coordinator) failInitialization(code, msg string) {
	c.mu.Lock()
	_, _ = c.machine.Fire(EventInitializationFailed)
	c.mu.Unlock()
	c.send(errorEnvelope(code, msg))
	c.persist()
}

func (c *Coordinator) handleChat(env Envelope) {
	if !c.fire(EventChat) {
		return
	}

	c.mu.Lock()
	st := c.sess.Statements
	history := slices.Clone(c.sess.History)
	c.mu.Unlock()

	reply, err := generatorRetry(c, func(ctx context.Context) (string, error) {
		return c.deps.Generator.Reply(ctx, st, history, env.Message)
	})
	if err != nil {
		c.log.Error("chat reply failed", "err", err)
		c.send(errorEnvelope(CodeGenerator, "the host could not answer, please try again"))
		return
	}

	c.mu.Lock()
	c.sess.History = append(c.sess.History,
		narrative.Message{Role: narrative.RoleUser, Content: env.Message},
		narrative.Message{Role: narrative.RoleAssistant, Content: reply},
	)
	if n := len(c.sess.History); n > maxHistory {
		c.sess.History = slices.Clone(c.sess.History[n-maxHistory:])
	}
	c.sess.UpdatedAt = time.Now()
	c.mu.Unlock()

	c.persist()
	c.send(Envelope{MessageType: TypeChat, Message: reply, Sender: SenderBot})
}

func (c *Coordinator) handleAnswer(env Envelope) {
	if !c.fire(EventAnswer) {
		return
	}

	c.mu.Lock()
	st := c.sess.Statements
	local := c.sess.Commitment
	address := c.sess.Address
	tx := c.sess.tx
	candidate := c.sess.candidate(env.Message)
	c.mu.Unlock()

	ok, err := commitment.Verify(candidate, st.Truth1, st.Truth2, local)
	if err != nil {
		// a candidate that cannot be encoded cannot be the lie
		c.log.Info("answer not encodable", "err", err)
		ok = false
	}
	verification := c.crossCheck(tx, address, local)

	result := ResultFailed
	if ok {
		result = ResultSuccess
	}

	c.mu.Lock()
	_, _ = c.machine.Fire(EventResolve)
	c.sess.Answer = env.Message
	c.sess.Result = result
	c.sess.Verification = verification
	c.sess.UpdatedAt = time.Now()
	snap := c.sess.snapshot(c.machine)
	c.mu.Unlock()

	c.log.Info("session resolved", "result", result, "verification", verification)
	c.persist()
	if c.onResolved != nil {
		c.onResolved(snap)
	}
	c.send(Envelope{
		MessageType:  TypeResult,
		Message:      resultMessage(ok, st.Lie, verification),
		Sender:       SenderBot,
		Result:       result,
		SessionID:    c.sess.ID,
		Verification: verification,
		Commitment:   local.Hex(),
	})
}

// crossCheck reports ledger verification only when the publish is included
// and both the recorded and a fresh read of the slot equal the local value.
func (c *Coordinator) crossCheck(tx *ledger.Transaction, address string, local commitment.Commitment) string {
	if tx == nil {
		return VerifiedLocal
	}
	info := tx.Info()
	if info.Status != ledger.StatusIncluded {
		c.log.Info("answer verified locally", "ledger_status", info.Status)
		return VerifiedLocal
	}
	if confirmed, ok := info.ConfirmedCommitment(); ok && !confirmed.Equal(local) {
		c.log.Warn("ledger commitment differs from local", "confirmed", confirmed.String())
		return VerifiedLocal
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CrossCheckTimeout)
	defer cancel()
	onLedger, err := c.deps.Ledger.ReadCommitment(ctx, address)
	if err != nil {
		c.log.Warn("ledger cross-check failed", "err", err)
		return VerifiedLocal
	}
	if !onLedger.Equal(local) {
		c.log.Warn("ledger commitment differs from local", "on_ledger", onLedger.String())
		return VerifiedLocal
	}
	return VerifiedLedger
}

func resultMessage(ok bool, lie, verification string) string {
	msg := fmt.Sprintf("Not quite! The lie was: %s", lie)
	if ok {
		msg = fmt.Sprintf("Correct! The lie was: %s", lie)
	}
	if verification == VerifiedLedger {
		return msg + "\nVerified against the commitment recorded on the ledger."
	}
	return msg + "\nVerified locally only: the commitment is not yet confirmed on the ledger."
}

// publish runs the background ledger publication, re-attempting after a
// timeout with backoff.
func (c *Coordinator) publish(address string, cm commitment.Commitment) {
	defer c.bg.Done()

	b := retry.WithMaxRetries(uint64(c.cfg.PublishAttempts-1), retry.NewExponential(c.cfg.RepublishBackoff))
	err := retry.Do(c.ctx, b, func(ctx context.Context) error {
		tx := c.deps.Ledger.Publish(ctx, address, cm)
		c.mu.Lock()
		c.sess.tx = tx
		c.mu.Unlock()

		info, err := tx.Wait(ctx)
		if err != nil {
			return err
		}
		c.persist()
		if info.Status == ledger.StatusTimedOut {
			c.log.Warn("ledger publish timed out", "retries", info.Retries, "err", info.Error)
			return retry.RetryableError(info.Err())
		}
		if info.Status == ledger.StatusRejected {
			c.log.Warn("ledger publish rejected", "err", info.Error)
		}
		return nil
	})
	if err != nil && c.ctx.Err() == nil {
		c.log.Warn("ledger publication abandoned, verification stays local", "err", err)
	}
}

// generatorRetry calls the generator, retrying once on failure.
func generatorRetry[T any](c *Coordinator, call func(ctx context.Context) (T, error)) (T, error) {
	var out T
	b := retry.WithMaxRetries(1, retry.NewConstant(c.cfg.GeneratorRetryDelay))
	err := retry.Do(c.ctx, b, func(ctx context.Context) error {
		v, err := call(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}
		out = v
		return nil
	})
	return out, err
}

// persist hands the current snapshot to the store. Snapshots are taken and
// saved in order.
func (c *Coordinator) persist() {
	if c.onPersist == nil {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	c.onPersist(c.Snapshot())
}

func (c *Coordinator) send(env Envelope) {
	if c.out != nil {
		c.out.Send(env)
	}
}
