package bulletin

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"bulletin/core/events"
)

// InstanceAddress derives the deterministic address a factory deployment
// lands on: the low 20 bytes of keccak256(deployer || salt).
func InstanceAddress(deployer [20]byte, salt [32]byte) [20]byte {
	digest := ethcrypto.Keccak256(deployer[:], salt[:])
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// Factory deploys ledger instances at deterministic addresses, initialises
// their administrator exactly once and publishes them in the registry.
type Factory struct {
	deployer [20]byte
	state    ledgerState
	registry *AddressRegistry
	emitter  events.Emitter
}

// NewFactory constructs a factory bound to the shared chain state and
// registry.
func NewFactory(deployer [20]byte, state ledgerState, registry *AddressRegistry) *Factory {
	return &Factory{
		deployer: deployer,
		state:    state,
		registry: registry,
		emitter:  events.NoopEmitter{},
	}
}

// SetEmitter configures the emitter handed to every deployed instance.
func (f *Factory) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		f.emitter = events.NoopEmitter{}
		return
	}
	f.emitter = emitter
}

// Deploy derives the instance address from the salt, constructs the engine,
// sets its administrator and registers it. Reusing a salt fails: the address
// is already registered and its gate already initialised.
func (f *Factory) Deploy(administrator [20]byte, salt [32]byte) (*Engine, error) {
	addr := InstanceAddress(f.deployer, salt)
	if _, taken := f.registry.Lookup(addr); taken {
		return nil, ErrInstanceExists
	}
	engine := NewEngine(addr, f.state, f.registry)
	engine.SetEmitter(f.emitter)
	if err := engine.Initialize(administrator); err != nil {
		return nil, err
	}
	if err := f.registry.Register(addr, engine); err != nil {
		return nil, err
	}
	return engine, nil
}
