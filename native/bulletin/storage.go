package bulletin

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ledgerState abstracts the subset of the chain state manager the engine
// needs: RLP-backed records, currency balances, token allowances and the
// transactional overlay that makes every public entry point all-or-nothing.
type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	BalanceOf(currency [20]byte, addr [20]byte) (*big.Int, error)
	Transfer(currency [20]byte, from, to [20]byte, amount *big.Int) error
	SpendAllowance(token [20]byte, owner, spender [20]byte, amount *big.Int) error
	Transaction(fn func() error) error
}

func askKey(instance [20]byte, id uint64) []byte {
	return []byte(fmt.Sprintf("bulletin/%x/ask/%d", instance, id))
}

func askSeqKey(instance [20]byte) []byte {
	return []byte(fmt.Sprintf("bulletin/%x/ask-seq", instance))
}

func custodyKey(instance [20]byte, askID uint64) []byte {
	return []byte(fmt.Sprintf("bulletin/%x/ask/%d/custody", instance, askID))
}

func resourceKey(instance [20]byte, id uint64) []byte {
	return []byte(fmt.Sprintf("bulletin/%x/resource/%d", instance, id))
}

func resourceSeqKey(instance [20]byte) []byte {
	return []byte(fmt.Sprintf("bulletin/%x/resource-seq", instance))
}

func tradeKey(instance [20]byte, askID, tradeID uint64) []byte {
	return []byte(fmt.Sprintf("bulletin/%x/ask/%d/trade/%d", instance, askID, tradeID))
}

func tradeSeqKey(instance [20]byte, askID uint64) []byte {
	return []byte(fmt.Sprintf("bulletin/%x/ask/%d/trade-seq", instance, askID))
}

func usageKey(instance [20]byte, resourceID, usageID uint64) []byte {
	return []byte(fmt.Sprintf("bulletin/%x/resource/%d/usage/%d", instance, resourceID, usageID))
}

func usageSeqKey(instance [20]byte, resourceID uint64) []byte {
	return []byte(fmt.Sprintf("bulletin/%x/resource/%d/usage-seq", instance, resourceID))
}

// Stored forms use RLP-friendly field types: role masks as 32-byte words and
// timestamps as uint64.

type storedAsk struct {
	Fulfilled bool
	Owner     [20]byte
	Role      [32]byte
	Title     string
	Detail    string
	Currency  [20]byte
	Drop      *big.Int
}

func toStoredAsk(a *Ask) *storedAsk {
	clone := a.Clone()
	return &storedAsk{
		Fulfilled: clone.Fulfilled,
		Owner:     clone.Owner,
		Role:      clone.Role.Bytes32(),
		Title:     clone.Title,
		Detail:    clone.Detail,
		Currency:  [20]byte(clone.Currency),
		Drop:      clone.Drop,
	}
}

func (s *storedAsk) runtime() *Ask {
	drop := big.NewInt(0)
	if s.Drop != nil {
		drop = new(big.Int).Set(s.Drop)
	}
	return &Ask{
		Fulfilled: s.Fulfilled,
		Owner:     s.Owner,
		Role:      new(uint256.Int).SetBytes(s.Role[:]),
		Title:     s.Title,
		Detail:    s.Detail,
		Currency:  Currency(s.Currency),
		Drop:      drop,
	}
}

type storedResource struct {
	Active bool
	Role   [32]byte
	Owner  [20]byte
	Title  string
	Detail string
}

func toStoredResource(r *Resource) *storedResource {
	clone := r.Clone()
	return &storedResource{
		Active: clone.Active,
		Role:   clone.Role.Bytes32(),
		Owner:  clone.Owner,
		Title:  clone.Title,
		Detail: clone.Detail,
	}
}

func (s *storedResource) runtime() *Resource {
	return &Resource{
		Active: s.Active,
		Role:   new(uint256.Int).SetBytes(s.Role[:]),
		Owner:  s.Owner,
		Title:  s.Title,
		Detail: s.Detail,
	}
}

type storedTrade struct {
	Approved  bool
	Timestamp uint64
	Resource  [32]byte
	Feedback  string
	Data      []byte
}

func toStoredTrade(t *Trade) *storedTrade {
	clone := t.Clone()
	return &storedTrade{
		Approved:  clone.Approved,
		Timestamp: uint64(clone.Timestamp),
		Resource:  [32]byte(clone.Resource),
		Feedback:  clone.Feedback,
		Data:      clone.Data,
	}
}

func (s *storedTrade) runtime() *Trade {
	return &Trade{
		Approved:  s.Approved,
		Timestamp: int64(s.Timestamp),
		Resource:  AssetReference(s.Resource),
		Feedback:  s.Feedback,
		Data:      append([]byte(nil), s.Data...),
	}
}

type storedUsage struct {
	Ask       [32]byte
	Timestamp uint64
	Feedback  string
	Data      []byte
}

func toStoredUsage(u *Usage) *storedUsage {
	clone := u.Clone()
	return &storedUsage{
		Ask:       [32]byte(clone.Ask),
		Timestamp: uint64(clone.Timestamp),
		Feedback:  clone.Feedback,
		Data:      clone.Data,
	}
}

func (s *storedUsage) runtime() *Usage {
	return &Usage{
		Ask:       AssetReference(s.Ask),
		Timestamp: int64(s.Timestamp),
		Feedback:  s.Feedback,
		Data:      append([]byte(nil), s.Data...),
	}
}

func (e *Engine) nextSeq(key []byte) (uint64, error) {
	var seq uint64
	if _, err := e.state.KVGet(key, &seq); err != nil {
		return 0, err
	}
	seq++
	if err := e.state.KVPut(key, seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (e *Engine) readSeq(key []byte) (uint64, error) {
	var seq uint64
	if _, err := e.state.KVGet(key, &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (e *Engine) loadAsk(id uint64) (*Ask, error) {
	var stored storedAsk
	ok, err := e.state.KVGet(askKey(e.self, id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAskNotFound
	}
	return stored.runtime(), nil
}

func (e *Engine) storeAsk(id uint64, a *Ask) error {
	sanitized, err := SanitizeAsk(a)
	if err != nil {
		return err
	}
	return e.state.KVPut(askKey(e.self, id), toStoredAsk(sanitized))
}

func (e *Engine) loadResource(id uint64) (*Resource, error) {
	var stored storedResource
	ok, err := e.state.KVGet(resourceKey(e.self, id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrResourceNotFound
	}
	return stored.runtime(), nil
}

func (e *Engine) storeResource(id uint64, r *Resource) error {
	sanitized, err := SanitizeResource(r)
	if err != nil {
		return err
	}
	return e.state.KVPut(resourceKey(e.self, id), toStoredResource(sanitized))
}

func (e *Engine) loadTrade(askID, tradeID uint64) (*Trade, bool, error) {
	var stored storedTrade
	ok, err := e.state.KVGet(tradeKey(e.self, askID, tradeID), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return stored.runtime(), true, nil
}

func (e *Engine) storeTrade(askID, tradeID uint64, t *Trade) error {
	return e.state.KVPut(tradeKey(e.self, askID, tradeID), toStoredTrade(t))
}

func (e *Engine) loadUsage(resourceID, usageID uint64) (*Usage, bool, error) {
	var stored storedUsage
	ok, err := e.state.KVGet(usageKey(e.self, resourceID, usageID), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return stored.runtime(), true, nil
}

func (e *Engine) storeUsage(resourceID, usageID uint64, u *Usage) error {
	return e.state.KVPut(usageKey(e.self, resourceID, usageID), toStoredUsage(u))
}

func (e *Engine) custody(askID uint64) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := e.state.KVGet(custodyKey(e.self, askID), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func (e *Engine) setCustody(askID uint64, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	return e.state.KVPut(custodyKey(e.self, askID), amount)
}
