package bulletin

import (
	"encoding/hex"

	"github.com/holiman/uint256"
)

// localIDBits is the low-order width reserved for the entity id inside an
// asset reference word. The remaining 160 high-order bits carry the instance
// address.
const localIDBits = 96

var localIDMask = func() *uint256.Int {
	mask := uint256.NewInt(1)
	mask.Lsh(mask, localIDBits)
	return mask.SubUint64(mask, 1)
}()

// AssetReference addresses a resource or ask that may live on a different
// ledger instance. It packs the instance address into the high 160 bits and
// the local entity id into the low 96 bits of a single 256-bit word.
type AssetReference [32]byte

// EncodeAssetReference packs the instance address and local id into a
// reference word. Ids wider than the reserved 96 bits fail with
// ErrEncodingOverflow rather than wrapping.
func EncodeAssetReference(instance [20]byte, localID *uint256.Int) (AssetReference, error) {
	var ref AssetReference
	if localID == nil {
		localID = new(uint256.Int)
	}
	if localID.Cmp(localIDMask) > 0 {
		return ref, ErrEncodingOverflow
	}
	word := new(uint256.Int).SetBytes(instance[:])
	word.Lsh(word, localIDBits)
	word.Or(word, localID)
	ref = word.Bytes32()
	return ref, nil
}

// NewAssetReference packs an instance address and a uint64 local id. Counter
// ids always fit the reserved width, so this cannot overflow.
func NewAssetReference(instance [20]byte, localID uint64) AssetReference {
	ref, _ := EncodeAssetReference(instance, uint256.NewInt(localID))
	return ref
}

// Decode splits the reference word back into its instance address and local
// id. Decoding is total: every bit pattern yields a pair, and validity of the
// decoded address is the caller's concern.
func (r AssetReference) Decode() ([20]byte, *uint256.Int) {
	word := new(uint256.Int).SetBytes(r[:])
	localID := new(uint256.Int).And(word, localIDMask)
	word.Rsh(word, localIDBits)
	return word.Bytes20(), localID
}

// Instance returns only the instance address half of the reference.
func (r AssetReference) Instance() [20]byte {
	instance, _ := r.Decode()
	return instance
}

// LocalID returns the decoded entity id as a uint64 where it fits. Local
// counters never exceed uint64, so ok=false means the reference cannot name
// a real entity.
func (r AssetReference) LocalID() (uint64, bool) {
	_, id := r.Decode()
	if !id.IsUint64() {
		return 0, false
	}
	return id.Uint64(), true
}

// IsZero reports whether the reference is the all-zero word.
func (r AssetReference) IsZero() bool {
	return r == AssetReference{}
}

func (r AssetReference) String() string {
	return "0x" + hex.EncodeToString(r[:])
}
