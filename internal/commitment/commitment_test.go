package commitment

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var algorithms = []Algorithm{Poseidon, Keccak}

func TestCompute_Deterministic(t *testing.T) {
	for _, alg := range algorithms {
		t.Run(string(alg), func(t *testing.T) {
			a, err := Compute("I have climbed Mt. Fuji", "I speak three languages", "I own a pet llama", alg)
			require.NoError(t, err)
			b, err := Compute("I have climbed Mt. Fuji", "I speak three languages", "I own a pet llama", alg)
			require.NoError(t, err)

			assert.True(t, a.Equal(b))
			assert.Equal(t, alg, a.Algorithm)
			assert.NotEqual(t, [Size]byte{}, a.Value)
		})
	}
}

func TestCompute_AlgorithmsDiffer(t *testing.T) {
	p, err := Compute("1", "3", "2", Poseidon)
	require.NoError(t, err)
	k, err := Compute("1", "3", "2", Keccak)
	require.NoError(t, err)

	assert.False(t, p.Equal(k))
	assert.NotEqual(t, p.Value, k.Value)
}

func TestCompute_OrderSensitive(t *testing.T) {
	for _, alg := range algorithms {
		t.Run(string(alg), func(t *testing.T) {
			abc, err := Compute("alpha", "beta", "gamma", alg)
			require.NoError(t, err)
			bac, err := Compute("beta", "alpha", "gamma", alg)
			require.NoError(t, err)
			acb, err := Compute("alpha", "gamma", "beta", alg)
			require.NoError(t, err)

			assert.False(t, abc.Equal(bac))
			assert.False(t, abc.Equal(acb))
		})
	}
}

func TestCompute_Avalanche(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const letters = "abcdefghijklmnopqrstuvwxyz ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789.,!?"

	randStatement := func() string {
		n := 1 + rng.Intn(120)
		b := make([]byte, n)
		for i := range b {
			b[i] = letters[rng.Intn(len(letters))]
		}
		return string(b)
	}

	for _, alg := range algorithms {
		t.Run(string(alg), func(t *testing.T) {
			for i := 0; i < 200; i++ {
				triple := [3]string{randStatement(), randStatement(), randStatement()}
				base, err := Compute(triple[0], triple[1], triple[2], alg)
				require.NoError(t, err)

				slot := rng.Intn(3)
				s := []byte(triple[slot])
				pos := rng.Intn(len(s))
				orig := s[pos]
				for s[pos] == orig {
					s[pos] = letters[rng.Intn(len(letters))]
				}
				mutated := triple
				mutated[slot] = string(s)

				got, err := Compute(mutated[0], mutated[1], mutated[2], alg)
				require.NoError(t, err)
				require.False(t, base.Equal(got), "slot %d pos %d unchanged commitment", slot, pos)
			}
		})
	}
}

func TestCompute_LengthIsEncoded(t *testing.T) {
	a, err := Compute("a", "b", "c", Poseidon)
	require.NoError(t, err)
	b, err := Compute("a\x00", "b", "c", Poseidon)
	require.NoError(t, err)
	assert.False(t, a.Equal(b))
}

func TestCompute_EncodingError(t *testing.T) {
	cases := []struct {
		name     string
		triple   [3]string
		wantSlot Slot
	}{
		{name: "truth1 too long", triple: [3]string{strings.Repeat("x", MaxStatementBytes+1), "b", "c"}, wantSlot: SlotTruth1},
		{name: "lie too long", triple: [3]string{"a", "b", strings.Repeat("é", MaxStatementBytes/2+1)}, wantSlot: SlotLie},
		{name: "truth2 invalid utf-8", triple: [3]string{"a", "\xff\xfe", "c"}, wantSlot: SlotTruth2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compute(tc.triple[0], tc.triple[1], tc.triple[2], Poseidon)
			var encErr *EncodingError
			require.ErrorAs(t, err, &encErr)
			assert.Equal(t, tc.wantSlot, encErr.Slot)
		})
	}
}

func TestCompute_MaxLengthAccepted(t *testing.T) {
	s := strings.Repeat("y", MaxStatementBytes)
	_, err := Compute(s, s, s, Poseidon)
	require.NoError(t, err)
}

func TestCompute_NFCCanonical(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"

	a, err := Compute(composed, "x", "y", Keccak)
	require.NoError(t, err)
	b, err := Compute(decomposed, "x", "y", Keccak)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestCompute_UnknownAlgorithm(t *testing.T) {
	_, err := Compute("a", "b", "c", Algorithm("sha1"))
	assert.True(t, errors.Is(err, ErrUnknownAlgorithm))
}

func TestVerify(t *testing.T) {
	stored, err := Compute("1", "3", "2", Poseidon)
	require.NoError(t, err)

	cases := []struct {
		candidate string
		want      bool
	}{
		{"2", true},
		{"1", false},
		{"3", false},
		{"2 ", false},
		{"", false},
	}
	for _, tc := range cases {
		got, err := Verify(tc.candidate, "1", "3", stored)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "candidate %q", tc.candidate)
	}
}

func TestVerify_CaseSensitive(t *testing.T) {
	stored, err := Compute("I like tea", "I like rain", "I hate cats", Keccak)
	require.NoError(t, err)

	ok, err := Verify("I hate cats", "I like tea", "I like rain", stored)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("i hate cats", "I like tea", "I like rain", stored)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBinaryForm(t *testing.T) {
	c, err := Compute("1", "3", "2", Keccak)
	require.NoError(t, err)

	b, err := c.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 1+Size)

	var back Commitment
	require.NoError(t, back.UnmarshalBinary(b))
	assert.True(t, c.Equal(back))

	require.Error(t, back.UnmarshalBinary(b[:10]))
	b[0] = 0x7f
	require.ErrorIs(t, back.UnmarshalBinary(b), ErrUnknownAlgorithm)
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("keccak256")
	require.NoError(t, err)
	assert.Equal(t, Keccak, a)

	_, err = ParseAlgorithm("md5")
	require.ErrorIs(t, err, ErrUnknownAlgorithm)
}
