package bulletin

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Currency identifies the asset an ask escrows: a token address, or the zero
// sentinel for the platform's native asset.
type Currency [20]byte

// NativeCurrency is the sentinel for the platform's native asset.
var NativeCurrency = Currency{}

// IsNative reports whether the currency is the native-asset sentinel.
func (c Currency) IsNative() bool { return c == NativeCurrency }

// Ask is a funded request. While unfulfilled and funded, the instance holds
// exactly Drop units of Currency in custody on the owner's behalf.
type Ask struct {
	Fulfilled bool
	Owner     [20]byte
	Role      *uint256.Int
	Title     string
	Detail    string
	Currency  Currency
	Drop      *big.Int
}

// Clone returns a deep copy of the ask so callers can mutate the copy without
// affecting the stored record.
func (a *Ask) Clone() *Ask {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Role != nil {
		clone.Role = new(uint256.Int).Set(a.Role)
	} else {
		clone.Role = new(uint256.Int)
	}
	if a.Drop != nil {
		clone.Drop = new(big.Int).Set(a.Drop)
	} else {
		clone.Drop = big.NewInt(0)
	}
	return &clone
}

// SanitizeAsk validates the supplied ask definition and returns a cloned
// instance with non-nil role and drop fields. The original is not mutated.
func SanitizeAsk(a *Ask) (*Ask, error) {
	if a == nil {
		return nil, fmt.Errorf("bulletin: nil ask")
	}
	clone := a.Clone()
	if clone.Drop.Sign() < 0 {
		return nil, fmt.Errorf("bulletin: ask drop must be non-negative")
	}
	return clone, nil
}

// Resource is an offerable capability or item. No funds attach to it.
type Resource struct {
	Active bool
	Role   *uint256.Int
	Owner  [20]byte
	Title  string
	Detail string
}

// Clone returns a deep copy of the resource.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Role != nil {
		clone.Role = new(uint256.Int).Set(r.Role)
	} else {
		clone.Role = new(uint256.Int)
	}
	return &clone
}

// SanitizeResource validates the resource definition and returns a clone with
// a non-nil role field.
func SanitizeResource(r *Resource) (*Resource, error) {
	if r == nil {
		return nil, fmt.Errorf("bulletin: nil resource")
	}
	return r.Clone(), nil
}

// Trade proposes a resource, possibly from a foreign instance, against an
// ask. A zero timestamp means the trade slot was never proposed.
type Trade struct {
	Approved  bool
	Timestamp int64
	Resource  AssetReference
	Feedback  string
	Data      []byte
}

// Clone returns a deep copy of the trade.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Data = append([]byte(nil), t.Data...)
	return &clone
}

// Exists reports whether the trade was ever proposed. Existence is carried by
// the timestamp, which is stamped on every transition.
func (t *Trade) Exists() bool {
	return t != nil && t.Timestamp != 0
}

// Usage is an append-only record of cross-instance reciprocity attributed to
// the ask referenced by Ask. Feedback and Data start empty and are written
// through Comment by the ask's owner of record.
type Usage struct {
	Ask       AssetReference
	Timestamp int64
	Feedback  string
	Data      []byte
}

// Clone returns a deep copy of the usage record.
func (u *Usage) Clone() *Usage {
	if u == nil {
		return nil
	}
	clone := *u
	clone.Data = append([]byte(nil), u.Data...)
	return &clone
}
