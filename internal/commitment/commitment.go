// Package commitment binds a session to its ordered statement triple.
//
// A commitment is computed over (truth1, truth2, lie) in that exact order. The
// lie always sits in the third slot: Verify recomputes the commitment with the
// candidate in that slot, so the scheme only answers "is this the lie".
package commitment

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
	"golang.org/x/crypto/sha3"
)

type Algorithm string

const (
	Poseidon Algorithm = "poseidon-bn254"
	Keccak   Algorithm = "keccak256"
)

// Size is the byte length of every commitment value.
const Size = 32

var ErrUnknownAlgorithm = errors.New("commitment: unknown algorithm")

// algorithm tags used in the binary (on-ledger) form.
var algorithmTags = map[Algorithm]byte{
	Poseidon: 0x01,
	Keccak:   0x02,
}

func (a Algorithm) Valid() bool {
	_, ok := algorithmTags[a]
	return ok
}

func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
	return a, nil
}

type Commitment struct {
	Algorithm Algorithm
	Value     [Size]byte
}

func (c Commitment) IsZero() bool {
	return c.Algorithm == "" && c.Value == [Size]byte{}
}

func (c Commitment) Equal(o Commitment) bool {
	return c.Algorithm == o.Algorithm && bytes.Equal(c.Value[:], o.Value[:])
}

func (c Commitment) Hex() string {
	return "0x" + hex.EncodeToString(c.Value[:])
}

func (c Commitment) String() string {
	return string(c.Algorithm) + ":" + c.Hex()
}

// MarshalBinary returns tag ‖ value, the form stored in a ledger slot.
func (c Commitment) MarshalBinary() ([]byte, error) {
	tag, ok := algorithmTags[c.Algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, c.Algorithm)
	}
	out := make([]byte, 0, 1+Size)
	out = append(out, tag)
	return append(out, c.Value[:]...), nil
}

func (c *Commitment) UnmarshalBinary(b []byte) error {
	if len(b) != 1+Size {
		return fmt.Errorf("commitment: binary form must be %d bytes, got %d", 1+Size, len(b))
	}
	for a, tag := range algorithmTags {
		if tag == b[0] {
			c.Algorithm = a
			copy(c.Value[:], b[1:])
			return nil
		}
	}
	return fmt.Errorf("%w: tag 0x%02x", ErrUnknownAlgorithm, b[0])
}

// Compute derives the commitment for the ordered triple.
func Compute(truth1, truth2, lie string, alg Algorithm) (Commitment, error) {
	if !alg.Valid() {
		return Commitment{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}

	var vectors [3][]*big.Int
	for i, s := range [3]string{truth1, truth2, lie} {
		v, err := encodeStatement(Slot(i), s)
		if err != nil {
			return Commitment{}, err
		}
		vectors[i] = v
	}

	c := Commitment{Algorithm: alg}
	switch alg {
	case Poseidon:
		digest, err := poseidonDigest(vectors)
		if err != nil {
			return Commitment{}, err
		}
		digest.FillBytes(c.Value[:])
	case Keccak:
		h := sha3.NewLegacyKeccak256()
		var word [32]byte
		for _, v := range vectors {
			for _, e := range v {
				e.FillBytes(word[:])
				h.Write(word[:])
			}
		}
		copy(c.Value[:], h.Sum(nil))
	}
	return c, nil
}

// Verify reports whether candidate, placed in the lie slot next to the two
// truths, reproduces stored. Only exact equality counts.
func Verify(candidate, truth1, truth2 string, stored Commitment) (bool, error) {
	got, err := Compute(truth1, truth2, candidate, stored.Algorithm)
	if err != nil {
		return false, err
	}
	return got.Equal(stored), nil
}

func poseidonDigest(vectors [3][]*big.Int) (*big.Int, error) {
	elems := make([]*big.Int, 0, len(vectors))
	for i, v := range vectors {
		e, err := poseidon.Hash(v)
		if err != nil {
			return nil, fmt.Errorf("poseidon %s: %w", Slot(i), err)
		}
		elems = append(elems, e)
	}
	out, err := poseidon.Hash(elems)
	if err != nil {
		return nil, fmt.Errorf("poseidon triple: %w", err)
	}
	return out, nil
}
