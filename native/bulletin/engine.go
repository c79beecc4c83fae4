package bulletin

import (
	"errors"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"bulletin/core/events"
	"bulletin/core/types"
	"bulletin/native/access"
)

var errNilState = errors.New("bulletin: engine state not configured")

type bulletinEvent struct {
	evt *types.Event
}

func (e bulletinEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e bulletinEvent) Event() *types.Event { return e.evt }

// Engine is one deployed bulletin ledger instance. It owns the ask, resource,
// trade and usage tables stored under its address namespace, and reaches peer
// instances through the registry for trade validation and reciprocity.
type Engine struct {
	self     [20]byte
	state    ledgerState
	gate     *access.Gate
	registry Registry
	router   *router
	emitter  events.Emitter
	nowFn    func() int64
	settling map[uint64]bool
}

// NewEngine constructs a ledger instance bound to its address, the shared
// chain state and the instance registry. The emitter defaults to a no-op.
func NewEngine(self [20]byte, state ledgerState, registry Registry) *Engine {
	return &Engine{
		self:     self,
		state:    state,
		gate:     access.NewGate(state, self),
		registry: registry,
		router:   newRouter(state, self),
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
		settling: make(map[uint64]bool),
	}
}

// Address returns the instance's own address.
func (e *Engine) Address() [20]byte { return e.self }

// Gate exposes the instance's permission gate for role administration.
func (e *Engine) Gate() *access.Gate { return e.gate }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(bulletinEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Initialize records the administrator exactly once. The factory calls this
// immediately after deriving the instance address; re-initialization fails.
func (e *Engine) Initialize(administrator [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.Transaction(func() error {
		return e.gate.Initialize(administrator)
	})
}

// creatorStanding checks the role gate for a create operation and reports
// whether the caller is the administrator.
func (e *Engine) creatorStanding(caller [20]byte, role *uint256.Int) (access.Authority, error) {
	authority, err := e.gate.Authority(caller)
	if err != nil {
		return access.Authority{}, err
	}
	if authority.Administrator {
		return authority, nil
	}
	held, err := e.gate.HasRole(caller, role)
	if err != nil {
		return access.Authority{}, err
	}
	if !held {
		return access.Authority{}, ErrUnauthorized
	}
	return authority, nil
}

// CreateAsk escrows the ask's drop from the caller and stores the ask under
// the next id. Administrator-created asks force the administrator as owner
// and the sentinel mask as role; privilege does not flow through the input.
func (e *Engine) CreateAsk(caller [20]byte, ask *Ask, value *big.Int) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	sanitized, err := SanitizeAsk(ask)
	if err != nil {
		return 0, err
	}
	var id uint64
	err = e.state.Transaction(func() error {
		authority, err := e.creatorStanding(caller, sanitized.Role)
		if err != nil {
			return err
		}
		if authority.Administrator {
			sanitized.Owner = caller
			sanitized.Role = access.AdministratorMask()
		} else {
			sanitized.Owner = caller
		}
		sanitized.Fulfilled = false
		if err := e.router.pull(sanitized.Currency, caller, sanitized.Drop, value); err != nil {
			return err
		}
		id, err = e.nextSeq(askSeqKey(e.self))
		if err != nil {
			return err
		}
		if err := e.setCustody(id, sanitized.Drop); err != nil {
			return err
		}
		return e.storeAsk(id, sanitized)
	})
	if err != nil {
		return 0, err
	}
	e.emit(NewAskAddedEvent(e.self, id, sanitized))
	return id, nil
}

// UpdateAsk replaces the ask's title, detail, currency and drop. A changed
// currency or drop atomically returns the old escrow to the owner and pulls
// the new one; both legs succeed or the update reverts.
func (e *Engine) UpdateAsk(caller [20]byte, id uint64, ask *Ask, value *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	sanitized, err := SanitizeAsk(ask)
	if err != nil {
		return err
	}
	var updated *Ask
	err = e.state.Transaction(func() error {
		stored, err := e.loadAsk(id)
		if err != nil {
			return err
		}
		if stored.Owner != caller {
			return ErrInvalidOp
		}
		if stored.Fulfilled {
			return ErrAlreadyFulfilled
		}
		if stored.Currency != sanitized.Currency || stored.Drop.Cmp(sanitized.Drop) != 0 {
			if err := e.router.push(stored.Currency, stored.Owner, stored.Drop); err != nil {
				return err
			}
			if err := e.router.pull(sanitized.Currency, caller, sanitized.Drop, value); err != nil {
				return err
			}
			if err := e.setCustody(id, sanitized.Drop); err != nil {
				return err
			}
		} else if value != nil && value.Sign() != 0 {
			return ErrInsufficientAmount
		}
		stored.Title = sanitized.Title
		stored.Detail = sanitized.Detail
		stored.Currency = sanitized.Currency
		stored.Drop = sanitized.Drop
		updated = stored
		return e.storeAsk(id, stored)
	})
	if err != nil {
		return err
	}
	e.emit(NewAskUpdatedEvent(e.self, id, updated))
	return nil
}

// WithdrawAsk returns the full escrow to the owner and zeroes the funding
// fields. The ask stays in storage as a historical, now-empty record; a
// second withdrawal finds nothing to refund and fails.
func (e *Engine) WithdrawAsk(caller [20]byte, id uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	var withdrawn *Ask
	err := e.state.Transaction(func() error {
		stored, err := e.loadAsk(id)
		if err != nil {
			return err
		}
		if stored.Owner != caller {
			return ErrInvalidOp
		}
		if stored.Fulfilled {
			return ErrAlreadyFulfilled
		}
		if stored.Drop.Sign() == 0 && stored.Currency == NativeCurrency {
			// Already emptied; refunding again would double-pay.
			return ErrAlreadyFulfilled
		}
		if err := e.router.push(stored.Currency, stored.Owner, stored.Drop); err != nil {
			return err
		}
		if err := e.setCustody(id, big.NewInt(0)); err != nil {
			return err
		}
		stored.Currency = NativeCurrency
		stored.Drop = big.NewInt(0)
		withdrawn = stored
		return e.storeAsk(id, stored)
	})
	if err != nil {
		return err
	}
	e.emit(NewAskWithdrawnEvent(e.self, id, withdrawn))
	return nil
}

// GetAsk returns the stored ask.
func (e *Engine) GetAsk(id uint64) (*Ask, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadAsk(id)
}

// CreateResource stores a new offerable resource under the next id.
// Administrator-created resources force the administrator as owner and the
// sentinel mask as role.
func (e *Engine) CreateResource(caller [20]byte, resource *Resource) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	sanitized, err := SanitizeResource(resource)
	if err != nil {
		return 0, err
	}
	var id uint64
	err = e.state.Transaction(func() error {
		authority, err := e.creatorStanding(caller, sanitized.Role)
		if err != nil {
			return err
		}
		sanitized.Owner = caller
		if authority.Administrator {
			sanitized.Role = access.AdministratorMask()
		}
		id, err = e.nextSeq(resourceSeqKey(e.self))
		if err != nil {
			return err
		}
		return e.storeResource(id, sanitized)
	})
	if err != nil {
		return 0, err
	}
	e.emit(NewResourceAddedEvent(e.self, id, sanitized))
	return id, nil
}

// UpdateResource fully replaces the mutable fields of the resource,
// including its active flag and role. Owner only.
func (e *Engine) UpdateResource(caller [20]byte, id uint64, resource *Resource) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	sanitized, err := SanitizeResource(resource)
	if err != nil {
		return err
	}
	err = e.state.Transaction(func() error {
		stored, err := e.loadResource(id)
		if err != nil {
			return err
		}
		if stored.Owner != caller {
			return ErrInvalidOp
		}
		sanitized.Owner = stored.Owner
		return e.storeResource(id, sanitized)
	})
	if err != nil {
		return err
	}
	e.emit(NewResourceUpdatedEvent(e.self, id, sanitized))
	return nil
}

// GetResource returns the stored resource.
func (e *Engine) GetResource(id uint64) (*Resource, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadResource(id)
}

// HasRole reports whether the address holds the role mask on this instance.
// Part of the RemoteLedger surface peers use for reciprocity checks.
func (e *Engine) HasRole(addr [20]byte, role *uint256.Int) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.gate.HasRole(addr, role)
}

// remote resolves the ledger instance behind an asset reference. A zero
// instance, zero id or unregistered address is not a valid reference.
func (e *Engine) remote(ref AssetReference) (RemoteLedger, uint64, error) {
	instance, _ := ref.Decode()
	localID, ok := ref.LocalID()
	if !ok || localID == 0 || instance == ([20]byte{}) {
		return nil, 0, ErrResourceNotValid
	}
	if e.registry == nil {
		return nil, 0, ErrResourceNotValid
	}
	ledger, found := e.registry.Lookup(instance)
	if !found {
		return nil, 0, ErrResourceNotValid
	}
	return ledger, localID, nil
}

// ResolveResource dereferences an asset reference to the resource it names,
// wherever that resource lives.
func (e *Engine) ResolveResource(ref AssetReference) (*Resource, error) {
	ledger, localID, err := e.remote(ref)
	if err != nil {
		return nil, err
	}
	return ledger.GetResource(localID)
}

// ResourceOwner returns the current owner of the referenced resource.
func (e *Engine) ResourceOwner(ref AssetReference) ([20]byte, error) {
	resource, err := e.ResolveResource(ref)
	if err != nil {
		return [20]byte{}, err
	}
	return resource.Owner, nil
}
