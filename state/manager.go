package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"bulletin/storage"
)

var (
	// ErrInsufficientBalance marks a transfer that exceeds the holder's funds.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrInsufficientAllowance marks a token pull that exceeds the spender's
	// pre-authorised allowance.
	ErrInsufficientAllowance = errors.New("state: insufficient allowance")
)

var (
	balancePrefix   = []byte("balance:")
	allowancePrefix = []byte("allowance:")
)

// Manager provides the chain-wide state shared by every ledger instance. Keys
// are namespaced by the writing instance before hashing, so instances can only
// collide through the explicit entry points that take an instance address.
type Manager struct {
	db      storage.Database
	base    storage.Database
	txDepth int
}

// NewManager creates a state manager over the provided key-value backend.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, base: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func balanceKey(currency [20]byte, addr [20]byte) []byte {
	buf := make([]byte, 0, len(balancePrefix)+41)
	buf = append(buf, balancePrefix...)
	buf = append(buf, currency[:]...)
	buf = append(buf, ':')
	buf = append(buf, addr[:]...)
	return ethcrypto.Keccak256(buf)
}

func allowanceKey(token [20]byte, owner, spender [20]byte) []byte {
	buf := make([]byte, 0, len(allowancePrefix)+62)
	buf = append(buf, allowancePrefix...)
	buf = append(buf, token[:]...)
	buf = append(buf, ':')
	buf = append(buf, owner[:]...)
	buf = append(buf, ':')
	buf = append(buf, spender[:]...)
	return ethcrypto.Keccak256(buf)
}

// KVPut RLP-encodes value and stores it under the keccak hash of key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not initialised")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(kvKey(key), encoded)
}

// KVGet decodes the record stored under key into out. The boolean reports
// whether the key was present.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, errors.New("state: manager not initialised")
	}
	hashed := kvKey(key)
	ok, err := m.db.Has(hashed)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	data, err := m.db.Get(hashed)
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) loadBalance(key []byte) (*big.Int, error) {
	ok, err := m.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	data, err := m.db.Get(key)
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

func (m *Manager) storeBalance(key []byte, amount *big.Int) error {
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// BalanceOf returns the holder's balance of the given currency. The zero
// currency address denotes the platform's native asset.
func (m *Manager) BalanceOf(currency [20]byte, addr [20]byte) (*big.Int, error) {
	if m == nil || m.db == nil {
		return nil, errors.New("state: manager not initialised")
	}
	return m.loadBalance(balanceKey(currency, addr))
}

// Mint credits freshly issued funds to the holder. Used by genesis and tests;
// ledger engines only ever move existing balances.
func (m *Manager) Mint(currency [20]byte, addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: mint amount must be non-negative")
	}
	key := balanceKey(currency, addr)
	balance, err := m.loadBalance(key)
	if err != nil {
		return err
	}
	return m.storeBalance(key, new(big.Int).Add(balance, amount))
}

// Transfer moves amount of currency from one holder to another. The transfer
// is full-amount or nothing.
func (m *Manager) Transfer(currency [20]byte, from, to [20]byte, amount *big.Int) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not initialised")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: transfer amount must be non-negative")
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromKey := balanceKey(currency, from)
	fromBalance, err := m.loadBalance(fromKey)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toKey := balanceKey(currency, to)
	toBalance, err := m.loadBalance(toKey)
	if err != nil {
		return err
	}
	if err := m.storeBalance(fromKey, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return m.storeBalance(toKey, new(big.Int).Add(toBalance, amount))
}

// Approve sets the allowance the spender may pull from the owner for the
// given token. The previous allowance is overwritten, not accumulated.
func (m *Manager) Approve(token [20]byte, owner, spender [20]byte, amount *big.Int) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not initialised")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: allowance must be non-negative")
	}
	return m.storeBalance(allowanceKey(token, owner, spender), amount)
}

// Allowance returns the remaining amount the spender may pull from the owner.
func (m *Manager) Allowance(token [20]byte, owner, spender [20]byte) (*big.Int, error) {
	if m == nil || m.db == nil {
		return nil, errors.New("state: manager not initialised")
	}
	return m.loadBalance(allowanceKey(token, owner, spender))
}

// SpendAllowance consumes part of the owner's allowance for spender and moves
// the funds from the owner to the spender. Both legs succeed or neither does.
func (m *Manager) SpendAllowance(token [20]byte, owner, spender [20]byte, amount *big.Int) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not initialised")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: spend amount must be non-negative")
	}
	if amount.Sign() == 0 {
		return nil
	}
	key := allowanceKey(token, owner, spender)
	allowance, err := m.loadBalance(key)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := m.Transfer(token, owner, spender, amount); err != nil {
		return err
	}
	return m.storeBalance(key, new(big.Int).Sub(allowance, amount))
}

// overlay buffers writes on top of a base database so a failed transaction
// can be discarded without touching the base.
type overlay struct {
	base   storage.Database
	writes map[string][]byte
}

func newOverlay(base storage.Database) *overlay {
	return &overlay{base: base, writes: make(map[string][]byte)}
}

func (o *overlay) Put(key []byte, value []byte) error {
	o.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

func (o *overlay) Get(key []byte) ([]byte, error) {
	if value, ok := o.writes[string(key)]; ok {
		return value, nil
	}
	return o.base.Get(key)
}

func (o *overlay) Has(key []byte) (bool, error) {
	if _, ok := o.writes[string(key)]; ok {
		return true, nil
	}
	return o.base.Has(key)
}

func (o *overlay) Close() {}

func (o *overlay) flush() error {
	keys := make([]string, 0, len(o.writes))
	for key := range o.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := o.base.Put([]byte(key), o.writes[key]); err != nil {
			return err
		}
	}
	return nil
}

// Transaction runs fn with all writes buffered in an overlay. The overlay is
// flushed to the backend only when fn returns nil; any error discards every
// buffered write, including those made by nested cross-instance calls. Nested
// invocations join the outermost transaction rather than opening a new one.
func (m *Manager) Transaction(fn func() error) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not initialised")
	}
	if m.txDepth > 0 {
		m.txDepth++
		err := fn()
		m.txDepth--
		return err
	}
	ov := newOverlay(m.base)
	m.db = ov
	m.txDepth = 1
	err := fn()
	m.txDepth = 0
	m.db = m.base
	if err != nil {
		return err
	}
	return ov.flush()
}
