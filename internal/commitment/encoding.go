package commitment

import (
	"fmt"
	"math/big"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// LimbBytes keeps every limb below 2^248, inside the BN254 scalar field.
	LimbBytes = 31
	// MaxLimbs plus the length element fills one 16-input Poseidon call.
	MaxLimbs = 15
	// MaxStatementBytes is the longest canonical statement that can be committed.
	MaxStatementBytes = LimbBytes * MaxLimbs
	// VectorWidth is the number of field elements per encoded statement.
	VectorWidth = 1 + MaxLimbs
)

type Slot int

const (
	SlotTruth1 Slot = iota
	SlotTruth2
	SlotLie
)

func (s Slot) String() string {
	switch s {
	case SlotTruth1:
		return "truth1"
	case SlotTruth2:
		return "truth2"
	case SlotLie:
		return "lie"
	}
	return fmt.Sprintf("slot(%d)", int(s))
}

// EncodingError reports a statement that cannot be packed into the fixed-width
// encoding.
type EncodingError struct {
	Slot   Slot
	Length int
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("commitment: cannot encode %s (%d bytes): %s", e.Slot, e.Length, e.Reason)
}

// Canonicalize returns the byte form that is hashed for a statement.
func Canonicalize(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("invalid utf-8")
	}
	return []byte(norm.NFC.String(s)), nil
}

// encodeStatement packs a statement into [byteLength, limb1..limb15]; each limb
// is up to 31 bytes accumulated big-endian, unused limbs are zero.
func encodeStatement(slot Slot, s string) ([]*big.Int, error) {
	b, err := Canonicalize(s)
	if err != nil {
		return nil, &EncodingError{Slot: slot, Length: len(s), Reason: err.Error()}
	}
	if len(b) > MaxStatementBytes {
		return nil, &EncodingError{
			Slot:   slot,
			Length: len(b),
			Reason: fmt.Sprintf("exceeds %d byte limit", MaxStatementBytes),
		}
	}

	out := make([]*big.Int, VectorWidth)
	out[0] = big.NewInt(int64(len(b)))
	for i := 0; i < MaxLimbs; i++ {
		lo := i * LimbBytes
		if lo >= len(b) {
			out[1+i] = new(big.Int)
			continue
		}
		hi := min(lo+LimbBytes, len(b))
		out[1+i] = new(big.Int).SetBytes(b[lo:hi])
	}
	return out, nil
}
