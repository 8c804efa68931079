package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/twotruths/internal/commitment"
)

func testConfig() Config {
	return Config{
		Fee:              1,
		PollInterval:     5 * time.Millisecond,
		PollAttempts:     5,
		InclusionTimeout: time.Second,
		SubmitAttempts:   3,
		RetryBase:        time.Millisecond,
	}
}

func testCreds() Credentials {
	return Credentials{FeePayer: GenerateKeyPair(), Owner: GenerateKeyPair()}
}

func mustCommitment(t *testing.T, lie string) commitment.Commitment {
	t.Helper()
	c, err := commitment.Compute("1", "3", lie, commitment.Poseidon)
	require.NoError(t, err)
	return c
}

func waitTx(t *testing.T, tx *Transaction) TransactionInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := tx.Wait(ctx)
	require.NoError(t, err, "transaction did not finish")
	return info
}

func TestPublish_Lifecycle(t *testing.T) {
	cases := []struct {
		name string
		run  func(t *testing.T)
	}{
		{
			name: "included and confirmed value recorded",
			run: func(t *testing.T) {
				net := NewMemoryNetwork(MemoryOptions{MinFee: 1})
				c := NewClient(net, testCreds(), testConfig(), nil)
				cm := mustCommitment(t, "2")

				tx := c.Publish(context.Background(), "0xslot1", cm)
				info := waitTx(t, tx)

				assert.Equal(t, StatusIncluded, info.Status)
				assert.False(t, info.Synthetic)
				assert.NotEmpty(t, info.TxHash)
				confirmed, ok := info.ConfirmedCommitment()
				require.True(t, ok)
				assert.True(t, confirmed.Equal(cm))
				assert.Equal(t, 1, net.Submissions())
				require.NoError(t, net.Verify())
			},
		},
		{
			name: "read after inclusion returns the commitment",
			run: func(t *testing.T) {
				net := NewMemoryNetwork(MemoryOptions{})
				c := NewClient(net, testCreds(), testConfig(), nil)
				cm := mustCommitment(t, "2")

				waitTx(t, c.Publish(context.Background(), "0xslot1", cm))

				got, err := c.ReadCommitment(context.Background(), "0xslot1")
				require.NoError(t, err)
				assert.True(t, got.Equal(cm))
			},
		},
		{
			name: "empty slot reads as not found",
			run: func(t *testing.T) {
				c := NewClient(NewMemoryNetwork(MemoryOptions{}), testCreds(), testConfig(), nil)
				_, err := c.ReadCommitment(context.Background(), "0xnothing")
				assert.ErrorIs(t, err, ErrNotFound)
			},
		},
		{
			name: "inclusion delay is waited out by polling",
			run: func(t *testing.T) {
				net := NewMemoryNetwork(MemoryOptions{InclusionDelay: 8 * time.Millisecond})
				c := NewClient(net, testCreds(), testConfig(), nil)

				info := waitTx(t, c.Publish(context.Background(), "0xslot1", mustCommitment(t, "2")))
				assert.Equal(t, StatusIncluded, info.Status)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, tc.run)
	}
}

func TestPublish_Idempotent(t *testing.T) {
	net := NewMemoryNetwork(MemoryOptions{})
	c := NewClient(net, testCreds(), testConfig(), nil)
	cm := mustCommitment(t, "2")

	first := c.Publish(context.Background(), "0xslot1", cm)
	second := c.Publish(context.Background(), "0xslot1", cm)
	assert.Same(t, first, second)
	waitTx(t, first)

	// with the idempotency entry gone the on-ledger check still prevents a resubmit
	c.Release(first)
	third := c.Publish(context.Background(), "0xslot1", cm)
	require.NotSame(t, first, third)
	info := waitTx(t, third)

	assert.Equal(t, StatusIncluded, info.Status)
	assert.True(t, info.Synthetic)
	assert.Equal(t, 1, net.Submissions())
}

func TestPublish_ConcurrentSameCommitment(t *testing.T) {
	net := NewMemoryNetwork(MemoryOptions{})
	c := NewClient(net, testCreds(), testConfig(), nil)
	cm := mustCommitment(t, "2")

	var wg sync.WaitGroup
	txs := make([]*Transaction, 16)
	for i := range txs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txs[i] = c.Publish(context.Background(), "0xslot1", cm)
		}(i)
	}
	wg.Wait()

	for _, tx := range txs {
		assert.Equal(t, StatusIncluded, waitTx(t, tx).Status)
	}
	assert.Equal(t, 1, net.Submissions())
}

func TestPublish_ConcurrentSessionsKeepNonceOrder(t *testing.T) {
	net := NewMemoryNetwork(MemoryOptions{})
	c := NewClient(net, testCreds(), testConfig(), nil)

	cms := make([]commitment.Commitment, 10)
	for i := range cms {
		cms[i] = mustCommitment(t, fmt.Sprint(i))
	}

	var wg sync.WaitGroup
	txs := make([]*Transaction, len(cms))
	for i := range cms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txs[i] = c.Publish(context.Background(), fmt.Sprintf("0xslot%d", i), cms[i])
		}(i)
	}
	wg.Wait()

	for i, tx := range txs {
		info := waitTx(t, tx)
		assert.Equal(t, StatusIncluded, info.Status, "slot %d: %s", i, info.Error)
	}
	assert.Equal(t, 10, net.Submissions())
	require.NoError(t, net.Verify())
	assert.Len(t, net.Blocks(), 11)
}

func TestPublish_BoundedRetry(t *testing.T) {
	net := NewMemoryNetwork(MemoryOptions{})
	net.FailNextSubmits(1000)
	cfg := testConfig()
	c := NewClient(net, testCreds(), cfg, nil)

	info := waitTx(t, c.Publish(context.Background(), "0xslot1", mustCommitment(t, "2")))

	assert.Equal(t, StatusTimedOut, info.Status)
	assert.Equal(t, cfg.SubmitAttempts-1, info.Retries)
	assert.ErrorIs(t, info.Err(), ErrTimedOut)
	assert.ErrorIs(t, info.Err(), ErrNetwork)
	assert.Equal(t, 0, net.Submissions())
}

func TestPublish_RetryRecovers(t *testing.T) {
	net := NewMemoryNetwork(MemoryOptions{})
	net.FailNextSubmits(2)
	c := NewClient(net, testCreds(), testConfig(), nil)

	info := waitTx(t, c.Publish(context.Background(), "0xslot1", mustCommitment(t, "2")))

	assert.Equal(t, StatusIncluded, info.Status)
	assert.Equal(t, 2, info.Retries)
}

func TestPublish_PollingExhaustionTimesOut(t *testing.T) {
	net := NewMemoryNetwork(MemoryOptions{})
	net.Halt(true)
	c := NewClient(net, testCreds(), testConfig(), nil)

	tx := c.Publish(context.Background(), "0xslot1", mustCommitment(t, "2"))
	info := waitTx(t, tx)

	assert.Equal(t, StatusTimedOut, info.Status)
	assert.ErrorIs(t, info.Err(), ErrTimedOut)
	assert.Equal(t, 1, net.Submissions())

	// a timed out publish may be attempted again
	net.Halt(false)
	again := c.Publish(context.Background(), "0xslot1", mustCommitment(t, "2"))
	require.NotSame(t, tx, again)
	assert.Equal(t, StatusIncluded, waitTx(t, again).Status)
}

func TestPublish_CancelStopsPolling(t *testing.T) {
	net := NewMemoryNetwork(MemoryOptions{})
	net.Halt(true)
	cfg := testConfig()
	cfg.PollAttempts = 1000
	cfg.InclusionTimeout = time.Minute
	c := NewClient(net, testCreds(), cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	tx := c.Publish(ctx, "0xslot1", mustCommitment(t, "2"))
	time.Sleep(20 * time.Millisecond)
	cancel()

	info := waitTx(t, tx)
	assert.Equal(t, StatusTimedOut, info.Status)
	assert.True(t, errors.Is(info.Err(), context.Canceled))
}

func TestPublish_SigningError(t *testing.T) {
	net := NewMemoryNetwork(MemoryOptions{})
	creds := Credentials{FeePayer: GenerateKeyPair()}
	c := NewClient(net, creds, testConfig(), nil)

	info := waitTx(t, c.Publish(context.Background(), "0xslot1", mustCommitment(t, "2")))

	assert.Equal(t, StatusRejected, info.Status)
	assert.ErrorIs(t, info.Err(), ErrSigning)
	assert.Equal(t, 0, info.Retries)
	assert.Equal(t, 0, net.Submissions())
}

func TestPublish_MismatchedKeyIsSigningError(t *testing.T) {
	owner := GenerateKeyPair()
	owner.Public = GenerateKeyPair().Public
	c := NewClient(NewMemoryNetwork(MemoryOptions{}), Credentials{FeePayer: GenerateKeyPair(), Owner: owner}, testConfig(), nil)

	info := waitTx(t, c.Publish(context.Background(), "0xslot1", mustCommitment(t, "2")))
	assert.Equal(t, StatusRejected, info.Status)
	assert.ErrorIs(t, info.Err(), ErrSigning)
}

func TestPublish_Rejections(t *testing.T) {
	t.Run("insufficient fee", func(t *testing.T) {
		net := NewMemoryNetwork(MemoryOptions{MinFee: 10})
		c := NewClient(net, testCreds(), testConfig(), nil)

		info := waitTx(t, c.Publish(context.Background(), "0xslot1", mustCommitment(t, "2")))

		assert.Equal(t, StatusRejected, info.Status)
		var rej *RejectedError
		require.ErrorAs(t, info.Err(), &rej)
		assert.Equal(t, RejectInsufficientFee, rej.Code)
		assert.Equal(t, 0, info.Retries)
	})

	t.Run("slot owned by another key", func(t *testing.T) {
		net := NewMemoryNetwork(MemoryOptions{})
		a := NewClient(net, testCreds(), testConfig(), nil)
		b := NewClient(net, testCreds(), testConfig(), nil)

		require.Equal(t, StatusIncluded, waitTx(t, a.Publish(context.Background(), "0xslot1", mustCommitment(t, "2"))).Status)
		info := waitTx(t, b.Publish(context.Background(), "0xslot1", mustCommitment(t, "9")))

		assert.Equal(t, StatusRejected, info.Status)
		assert.ErrorIs(t, info.Err(), ErrRejected)
	})

	t.Run("pending slot owned by another key", func(t *testing.T) {
		net := NewMemoryNetwork(MemoryOptions{})
		net.Halt(true)
		a := NewClient(net, testCreds(), testConfig(), nil)
		b := NewClient(net, testCreds(), testConfig(), nil)

		// a's write is accepted but never mined
		first := waitTx(t, a.Publish(context.Background(), "0xslot2", mustCommitment(t, "2")))
		require.Equal(t, StatusTimedOut, first.Status)
		require.Equal(t, 1, net.Submissions())

		info := waitTx(t, b.Publish(context.Background(), "0xslot2", mustCommitment(t, "9")))
		assert.Equal(t, StatusRejected, info.Status)
		var rej *RejectedError
		require.ErrorAs(t, info.Err(), &rej)
		assert.Equal(t, RejectUnauthorized, rej.Code)

		// once mined, the slot holds a's value
		net.Halt(false)
		want, err := mustCommitment(t, "2").MarshalBinary()
		require.NoError(t, err)
		got, err := net.Commitment(context.Background(), "0xslot2")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestPublish_StaleNonceRecovers(t *testing.T) {
	net := NewMemoryNetwork(MemoryOptions{})
	creds := testCreds()
	a := NewClient(net, creds, testConfig(), nil)
	b := NewClient(net, creds, testConfig(), nil)

	require.Equal(t, StatusIncluded, waitTx(t, a.Publish(context.Background(), "0xa", mustCommitment(t, "a"))).Status)
	require.Equal(t, StatusIncluded, waitTx(t, b.Publish(context.Background(), "0xb", mustCommitment(t, "b"))).Status)

	stale := waitTx(t, a.Publish(context.Background(), "0xc", mustCommitment(t, "c")))
	require.Equal(t, StatusRejected, stale.Status)
	var rej *RejectedError
	require.ErrorAs(t, stale.Err(), &rej)
	assert.Equal(t, RejectStaleNonce, rej.Code)

	fresh := waitTx(t, a.Publish(context.Background(), "0xc", mustCommitment(t, "c")))
	assert.Equal(t, StatusIncluded, fresh.Status)
}

func TestSlotAddress(t *testing.T) {
	a := SlotAddress("twotruths", "s1")
	assert.Len(t, a, 42)
	assert.Equal(t, a, SlotAddress("twotruths", "s1"))
	assert.NotEqual(t, a, SlotAddress("twotruths", "s2"))
	assert.NotEqual(t, a, SlotAddress("other", "s1"))
}

func TestKeyPairRoundTrip(t *testing.T) {
	k := GenerateKeyPair()
	h, err := k.PrivateHex()
	require.NoError(t, err)

	back, err := ParseKeyPair("0x" + h)
	require.NoError(t, err)
	assert.Equal(t, k.Address(), back.Address())

	_, err = ParseKeyPair("zz")
	assert.Error(t, err)
}
