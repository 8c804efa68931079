package ledger

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// SlotAddress derives the per-session contract slot under a namespace. Each
// session writes its own slot.
func SlotAddress(namespace, sessionID string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(namespace))
	h.Write([]byte{':'})
	h.Write([]byte(sessionID))
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[len(sum)-20:])
}
