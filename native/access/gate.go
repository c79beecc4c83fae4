package access

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// ErrNotInitialized marks calls against an instance whose administrator
	// has not been set by the factory yet.
	ErrNotInitialized = errors.New("access: instance not initialized")
	// ErrAlreadyInitialized marks repeated initialization attempts.
	ErrAlreadyInitialized = errors.New("access: instance already initialized")
	// ErrUnauthorized marks role mutations from non-administrator callers.
	ErrUnauthorized = errors.New("access: caller is not the administrator")
)

// Well-known role bits shared by every ledger instance. The reciprocity role
// is the capability an administrator grants to a peer instance's address so
// that peer may append usage records during settlement.
var (
	RoleAsker       = uint256.NewInt(1)
	RoleOfferer     = uint256.NewInt(2)
	RoleReciprocity = uint256.NewInt(4)
)

// stateStore abstracts the subset of state manager functionality the gate needs.
type stateStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

func adminKey(instance [20]byte) []byte {
	return []byte(fmt.Sprintf("access/%x/admin", instance))
}

func roleKey(instance [20]byte, addr [20]byte) []byte {
	return []byte(fmt.Sprintf("access/%x/role/%x", instance, addr))
}

// AdministratorMask returns the all-ones bitmask recorded on entities created
// by the administrator. It is the explicit translation of the administrator
// sentinel, not a grantable role set.
func AdministratorMask() *uint256.Int {
	mask := new(uint256.Int)
	return mask.Not(mask)
}

// Authority is the resolved permission standing of an address on one
// instance: either the administrator, or a plain granted role set.
type Authority struct {
	Administrator bool
	Roles         *uint256.Int
}

// Mask returns the bitmask form of the authority, translating the
// administrator case to the sentinel mask.
func (a Authority) Mask() *uint256.Int {
	if a.Administrator {
		return AdministratorMask()
	}
	if a.Roles == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(a.Roles)
}

// Gate performs owner and bitmask role checks for a single ledger instance.
// All reads and writes go through the shared state manager under the
// instance's namespace.
type Gate struct {
	state    stateStore
	instance [20]byte
}

// NewGate binds a permission gate to the given instance address.
func NewGate(state stateStore, instance [20]byte) *Gate {
	return &Gate{state: state, instance: instance}
}

// Initialize records the administrator exactly once. The factory is the only
// expected caller; repeated calls fail.
func (g *Gate) Initialize(administrator [20]byte) error {
	if g == nil || g.state == nil {
		return errors.New("access: gate not configured")
	}
	if administrator == ([20]byte{}) {
		return fmt.Errorf("access: administrator address required")
	}
	var existing [20]byte
	ok, err := g.state.KVGet(adminKey(g.instance), &existing)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialized
	}
	return g.state.KVPut(adminKey(g.instance), administrator)
}

// Administrator returns the instance owner set at initialization.
func (g *Gate) Administrator() ([20]byte, error) {
	var admin [20]byte
	if g == nil || g.state == nil {
		return admin, errors.New("access: gate not configured")
	}
	ok, err := g.state.KVGet(adminKey(g.instance), &admin)
	if err != nil {
		return admin, err
	}
	if !ok {
		return admin, ErrNotInitialized
	}
	return admin, nil
}

// IsAdministrator reports whether caller is the instance owner.
func (g *Gate) IsAdministrator(caller [20]byte) (bool, error) {
	admin, err := g.Administrator()
	if err != nil {
		return false, err
	}
	return caller == admin, nil
}

func (g *Gate) grantedRoles(addr [20]byte) (*uint256.Int, error) {
	var stored [32]byte
	ok, err := g.state.KVGet(roleKey(g.instance, addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).SetBytes(stored[:]), nil
}

// HasRole reports whether the address holds every bit of the requested role
// mask. A zero mask is held by everyone.
func (g *Gate) HasRole(addr [20]byte, role *uint256.Int) (bool, error) {
	if g == nil || g.state == nil {
		return false, errors.New("access: gate not configured")
	}
	if role == nil || role.IsZero() {
		return true, nil
	}
	granted, err := g.grantedRoles(addr)
	if err != nil {
		return false, err
	}
	masked := new(uint256.Int).And(granted, role)
	return masked.Eq(role), nil
}

// Authority resolves the caller's standing: administrator or granted roles.
func (g *Gate) Authority(addr [20]byte) (Authority, error) {
	admin, err := g.IsAdministrator(addr)
	if err != nil {
		return Authority{}, err
	}
	if admin {
		return Authority{Administrator: true}, nil
	}
	granted, err := g.grantedRoles(addr)
	if err != nil {
		return Authority{}, err
	}
	return Authority{Roles: granted}, nil
}

// GrantRole adds the role bits to the address's granted set. Administrator
// only.
func (g *Gate) GrantRole(caller [20]byte, addr [20]byte, role *uint256.Int) error {
	return g.mutateRoles(caller, addr, role, func(granted, bits *uint256.Int) {
		granted.Or(granted, bits)
	})
}

// RevokeRole clears the role bits from the address's granted set.
// Administrator only.
func (g *Gate) RevokeRole(caller [20]byte, addr [20]byte, role *uint256.Int) error {
	return g.mutateRoles(caller, addr, role, func(granted, bits *uint256.Int) {
		granted.And(granted, new(uint256.Int).Not(bits))
	})
}

func (g *Gate) mutateRoles(caller [20]byte, addr [20]byte, role *uint256.Int, apply func(granted, bits *uint256.Int)) error {
	if g == nil || g.state == nil {
		return errors.New("access: gate not configured")
	}
	admin, err := g.IsAdministrator(caller)
	if err != nil {
		return err
	}
	if !admin {
		return ErrUnauthorized
	}
	if role == nil || role.IsZero() {
		return fmt.Errorf("access: role mask required")
	}
	granted, err := g.grantedRoles(addr)
	if err != nil {
		return err
	}
	apply(granted, role)
	stored := granted.Bytes32()
	return g.state.KVPut(roleKey(g.instance, addr), stored)
}
