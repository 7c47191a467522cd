package audit

import (
	"crypto/sha256"
	"encoding/hex"
)

// genesisSeed is the documented, non-secret input for per-category genesis
// hashes. Changing it invalidates every existing chain.
const genesisSeed = "numira-audit-genesis-v1"

// Genesis returns the fixed starting value used as the previous hash for the
// first entry in a category's chain. Each category derives its own constant,
// so chains are anchored independently.
func Genesis(c Category) string {
	h := sha256.Sum256([]byte(genesisSeed + ":" + string(c)))
	return hex.EncodeToString(h[:])
}

// NextHash computes the chain hash for an entry:
// sha256(prevHash || canonical), lowercase hex. prevHash is the hex digest
// of the immediately preceding entry (or the genesis constant), canonical
// the entry's canonical bytes minus its hash field.
func NextHash(prevHash string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}
