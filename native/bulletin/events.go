package bulletin

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"bulletin/core/types"
)

const (
	EventTypeAskAdded        = "bulletin.ask.added"
	EventTypeAskUpdated      = "bulletin.ask.updated"
	EventTypeAskWithdrawn    = "bulletin.ask.withdrawn"
	EventTypeAskSettled      = "bulletin.ask.settled"
	EventTypeResourceAdded   = "bulletin.resource.added"
	EventTypeResourceUpdated = "bulletin.resource.updated"
	EventTypeTradeAdded      = "bulletin.trade.added"
	EventTypeTradeDecided    = "bulletin.trade.decided"
	EventTypeUsageAdded      = "bulletin.usage.added"
	EventTypeUsageCommented  = "bulletin.usage.commented"
)

// NewAskAddedEvent returns the canonical payload for a newly created ask.
func NewAskAddedEvent(instance [20]byte, id uint64, a *Ask) *types.Event {
	return newAskEvent(EventTypeAskAdded, instance, id, a)
}

// NewAskUpdatedEvent returns the payload emitted after an ask update.
func NewAskUpdatedEvent(instance [20]byte, id uint64, a *Ask) *types.Event {
	return newAskEvent(EventTypeAskUpdated, instance, id, a)
}

// NewAskWithdrawnEvent returns the payload emitted when an ask's escrow is
// returned to its owner.
func NewAskWithdrawnEvent(instance [20]byte, id uint64, a *Ask) *types.Event {
	return newAskEvent(EventTypeAskWithdrawn, instance, id, a)
}

// NewAskSettledEvent returns the payload emitted once an ask has been fully
// distributed. The residual attribute carries the floor-truncation remainder
// left in the instance's custody.
func NewAskSettledEvent(instance [20]byte, id uint64, a *Ask, trades int, residual *big.Int) *types.Event {
	evt := newAskEvent(EventTypeAskSettled, instance, id, a)
	evt.Attributes["approvedTrades"] = strconv.Itoa(trades)
	if residual != nil {
		evt.Attributes["residual"] = residual.String()
	}
	return evt
}

// NewResourceAddedEvent returns the payload for a newly created resource.
func NewResourceAddedEvent(instance [20]byte, id uint64, r *Resource) *types.Event {
	return newResourceEvent(EventTypeResourceAdded, instance, id, r)
}

// NewResourceUpdatedEvent returns the payload emitted after a resource
// update.
func NewResourceUpdatedEvent(instance [20]byte, id uint64, r *Resource) *types.Event {
	return newResourceEvent(EventTypeResourceUpdated, instance, id, r)
}

// NewTradeAddedEvent returns the payload for a newly proposed trade.
func NewTradeAddedEvent(instance [20]byte, askID, tradeID uint64, t *Trade) *types.Event {
	return newTradeEvent(EventTypeTradeAdded, instance, askID, tradeID, t)
}

// NewTradeDecidedEvent returns the payload emitted when the ask owner
// approves or rejects a trade.
func NewTradeDecidedEvent(instance [20]byte, askID, tradeID uint64, t *Trade) *types.Event {
	return newTradeEvent(EventTypeTradeDecided, instance, askID, tradeID, t)
}

// NewUsageAddedEvent returns the payload for a reciprocity usage record.
func NewUsageAddedEvent(instance [20]byte, resourceID, usageID uint64, u *Usage) *types.Event {
	return newUsageEvent(EventTypeUsageAdded, instance, resourceID, usageID, u)
}

// NewUsageCommentedEvent returns the payload emitted when the originating
// ask's owner comments on a usage record.
func NewUsageCommentedEvent(instance [20]byte, resourceID, usageID uint64, u *Usage) *types.Event {
	return newUsageEvent(EventTypeUsageCommented, instance, resourceID, usageID, u)
}

func newAskEvent(eventType string, instance [20]byte, id uint64, a *Ask) *types.Event {
	attrs := map[string]string{
		"instance": hex.EncodeToString(instance[:]),
		"id":       strconv.FormatUint(id, 10),
	}
	if a != nil {
		attrs["owner"] = hex.EncodeToString(a.Owner[:])
		attrs["currency"] = hex.EncodeToString(a.Currency[:])
		if a.Drop != nil {
			attrs["drop"] = a.Drop.String()
		}
		attrs["fulfilled"] = strconv.FormatBool(a.Fulfilled)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newResourceEvent(eventType string, instance [20]byte, id uint64, r *Resource) *types.Event {
	attrs := map[string]string{
		"instance": hex.EncodeToString(instance[:]),
		"id":       strconv.FormatUint(id, 10),
	}
	if r != nil {
		attrs["owner"] = hex.EncodeToString(r.Owner[:])
		attrs["active"] = strconv.FormatBool(r.Active)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newTradeEvent(eventType string, instance [20]byte, askID, tradeID uint64, t *Trade) *types.Event {
	attrs := map[string]string{
		"instance": hex.EncodeToString(instance[:]),
		"askId":    strconv.FormatUint(askID, 10),
		"tradeId":  strconv.FormatUint(tradeID, 10),
	}
	if t != nil {
		attrs["resource"] = t.Resource.String()
		attrs["approved"] = strconv.FormatBool(t.Approved)
		attrs["timestamp"] = strconv.FormatInt(t.Timestamp, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newUsageEvent(eventType string, instance [20]byte, resourceID, usageID uint64, u *Usage) *types.Event {
	attrs := map[string]string{
		"instance":   hex.EncodeToString(instance[:]),
		"resourceId": strconv.FormatUint(resourceID, 10),
		"usageId":    strconv.FormatUint(usageID, 10),
	}
	if u != nil {
		attrs["ask"] = u.Ask.String()
		attrs["timestamp"] = strconv.FormatInt(u.Timestamp, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
