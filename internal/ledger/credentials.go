package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/sign/schnorr"
	"go.dedis.ch/kyber/v4/suites"
)

var suite suites.Suite = suites.MustFind("Ed25519")

// KeyPair is a Schnorr key on the Ed25519 group.
type KeyPair struct {
	Private kyber.Scalar
	Public  kyber.Point
}

// Credentials are the two externally provisioned keys a publish needs: the
// fee payer owns the nonce sequence, the owner authorizes writes to a slot.
type Credentials struct {
	FeePayer KeyPair
	Owner    KeyPair
}

func GenerateKeyPair() KeyPair {
	priv := suite.Scalar().Pick(suite.RandomStream())
	return KeyPair{Private: priv, Public: suite.Point().Mul(priv, nil)}
}

// ParseKeyPair decodes a hex private scalar (optionally 0x-prefixed).
func ParseKeyPair(s string) (KeyPair, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return KeyPair{}, fmt.Errorf("decode key: %w", err)
	}
	priv := suite.Scalar()
	if err := priv.UnmarshalBinary(raw); err != nil {
		return KeyPair{}, fmt.Errorf("decode key: %w", err)
	}
	return KeyPair{Private: priv, Public: suite.Point().Mul(priv, nil)}, nil
}

func (k KeyPair) PrivateHex() (string, error) {
	b, err := k.Private.MarshalBinary()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Address is the hex encoding of the public point.
func (k KeyPair) Address() string {
	if k.Public == nil {
		return ""
	}
	b, err := k.Public.MarshalBinary()
	if err != nil {
		return ""
	}
	return "0x" + hex.EncodeToString(b)
}

func (k KeyPair) validate() error {
	if k.Private == nil || k.Public == nil {
		return errors.New("missing key")
	}
	if k.Private.Equal(suite.Scalar().Zero()) {
		return errors.New("zero private key")
	}
	if !suite.Point().Mul(k.Private, nil).Equal(k.Public) {
		return errors.New("public key does not match private key")
	}
	return nil
}

func (k KeyPair) sign(msg []byte) ([]byte, error) {
	if err := k.validate(); err != nil {
		return nil, err
	}
	return schnorr.Sign(suite, k.Private, msg)
}

// VerifySignature checks a Schnorr signature against a hex address.
func VerifySignature(address string, msg, sig []byte) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(address, "0x"))
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	pub := suite.Point()
	if err := pub.UnmarshalBinary(raw); err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	return schnorr.Verify(suite, pub, msg, sig)
}

// Sign fills both signatures of tx.
func (c Credentials) Sign(tx *SignedTx) error {
	msg, err := tx.Payload.SigningBytes()
	if err != nil {
		return &SigningError{Role: "payload", Err: err}
	}
	if tx.OwnerSig, err = c.Owner.sign(msg); err != nil {
		return &SigningError{Role: "owner", Err: err}
	}
	if tx.FeePayerSig, err = c.FeePayer.sign(msg); err != nil {
		return &SigningError{Role: "fee payer", Err: err}
	}
	return nil
}
