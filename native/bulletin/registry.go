package bulletin

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"
)

// RemoteLedger is the surface one ledger instance exposes to its peers. Every
// engine is simultaneously a concrete implementer and a caller of this
// interface: trade validation dereferences resources on their home instance,
// and settlement writes reciprocity usage through IncrementUsage. Each call
// crosses a trust boundary; callers must assume the peer can fail or reenter.
type RemoteLedger interface {
	GetAsk(id uint64) (*Ask, error)
	GetResource(id uint64) (*Resource, error)
	HasRole(addr [20]byte, role *uint256.Int) (bool, error)
	IncrementUsage(caller [20]byte, role *uint256.Int, resourceID uint64, askRef AssetReference) (uint64, error)
}

// Registry resolves instance addresses to reachable ledgers.
type Registry interface {
	Lookup(instance [20]byte) (RemoteLedger, bool)
}

// ErrInstanceExists marks registrations colliding with a deployed instance.
var ErrInstanceExists = errors.New("bulletin: instance already registered")

// AddressRegistry is the in-process registry mapping deployed instance
// addresses to their engines.
type AddressRegistry struct {
	mu      sync.RWMutex
	ledgers map[[20]byte]RemoteLedger
}

// NewAddressRegistry constructs an empty registry.
func NewAddressRegistry() *AddressRegistry {
	return &AddressRegistry{ledgers: make(map[[20]byte]RemoteLedger)}
}

// Register records a deployed instance under its address. Addresses are
// single-use.
func (r *AddressRegistry) Register(instance [20]byte, ledger RemoteLedger) error {
	if ledger == nil {
		return errors.New("bulletin: nil ledger")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ledgers[instance]; ok {
		return ErrInstanceExists
	}
	r.ledgers[instance] = ledger
	return nil
}

// Lookup resolves the instance address, reporting whether it is known.
func (r *AddressRegistry) Lookup(instance [20]byte) (RemoteLedger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ledger, ok := r.ledgers[instance]
	return ledger, ok
}
