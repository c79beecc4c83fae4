package bulletin

import (
	"math/big"

	"github.com/holiman/uint256"

	"bulletin/native/access"
)

// BasisPoints is the settlement partition denominator.
const BasisPoints = 10_000

// SettleAsk distributes the ask's escrow across its approved trades
// according to the percentage partition, records reciprocity usage on
// resource-owning instances that granted this instance the reciprocity role,
// and marks the ask fulfilled. The partition is validated in full before the
// first payout, and the entire settlement commits or reverts as one unit.
func (e *Engine) SettleAsk(caller [20]byte, askID uint64, percentages []uint32) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.settling[askID] {
		return ErrReentrantSettlement
	}
	var (
		settled  *Ask
		paid     int
		residual *big.Int
	)
	err := e.state.Transaction(func() error {
		ask, err := e.loadAsk(askID)
		if err != nil {
			return err
		}
		if ask.Owner != caller {
			return ErrInvalidOp
		}
		if ask.Fulfilled {
			return ErrAlreadyFulfilled
		}
		_, approved, err := e.approvedTrades(askID)
		if err != nil {
			return err
		}
		if len(percentages) != len(approved) {
			return ErrSettlementMismatch
		}
		var sum uint64
		for _, pct := range percentages {
			sum += uint64(pct)
		}
		if sum != BasisPoints {
			return ErrTotalPercentageMustBeTenThousand
		}
		// Everything below calls into peer instances, which may call back
		// into this one. The guard pins the ask until the settlement ends.
		e.settling[askID] = true
		defer delete(e.settling, askID)

		distributed := big.NewInt(0)
		for i, trade := range approved {
			ledger, resourceID, err := e.remote(trade.Resource)
			if err != nil {
				return err
			}
			resource, err := ledger.GetResource(resourceID)
			if err != nil {
				return err
			}
			payout := new(big.Int).Mul(ask.Drop, big.NewInt(int64(percentages[i])))
			payout.Div(payout, big.NewInt(BasisPoints))
			if err := e.router.push(ask.Currency, resource.Owner, payout); err != nil {
				return err
			}
			distributed.Add(distributed, payout)
			granted, err := ledger.HasRole(e.self, access.RoleReciprocity)
			if err != nil {
				return err
			}
			if granted {
				askRef := NewAssetReference(e.self, askID)
				if _, err := ledger.IncrementUsage(e.self, access.RoleReciprocity, resourceID, askRef); err != nil {
					return err
				}
			}
		}
		// Floor truncation can leave up to len(approved)-1 units behind;
		// the residual stays in the instance's custody.
		residual = new(big.Int).Sub(ask.Drop, distributed)
		if err := e.setCustody(askID, big.NewInt(0)); err != nil {
			return err
		}
		ask.Fulfilled = true
		settled = ask
		paid = len(approved)
		return e.storeAsk(askID, ask)
	})
	if err != nil {
		return err
	}
	e.emit(NewAskSettledEvent(e.self, askID, settled, paid, residual))
	return nil
}

// IncrementUsage appends a usage record to the resource, attributing it to
// the ask behind askRef. This is the only sanctioned cross-instance write
// path; it is open solely to holders of the presented role, which peer
// instances obtain through an explicit administrator grant.
func (e *Engine) IncrementUsage(caller [20]byte, role *uint256.Int, resourceID uint64, askRef AssetReference) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if role == nil || role.IsZero() {
		return 0, ErrUnauthorized
	}
	var (
		id     uint64
		stored *Usage
	)
	err := e.state.Transaction(func() error {
		held, err := e.gate.HasRole(caller, role)
		if err != nil {
			return err
		}
		if !held {
			return ErrUnauthorized
		}
		if _, err := e.loadResource(resourceID); err != nil {
			return err
		}
		usage := &Usage{
			Ask:       askRef,
			Timestamp: e.now(),
		}
		id, err = e.nextSeq(usageSeqKey(e.self, resourceID))
		if err != nil {
			return err
		}
		stored = usage
		return e.storeUsage(resourceID, id, usage)
	})
	if err != nil {
		return 0, err
	}
	e.emit(NewUsageAddedEvent(e.self, resourceID, id, stored))
	return id, nil
}

// Comment overwrites the usage record's feedback and data. Authorization
// resolves dynamically: the caller must be whoever currently owns, on its
// home instance, the ask that produced this usage. Last write wins.
func (e *Engine) Comment(caller [20]byte, resourceID, usageID uint64, feedback string, data []byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	var commented *Usage
	err := e.state.Transaction(func() error {
		usage, ok, err := e.loadUsage(resourceID, usageID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUsageNotFound
		}
		instance, _ := usage.Ask.Decode()
		askID, fits := usage.Ask.LocalID()
		if !fits || askID == 0 || instance == ([20]byte{}) || e.registry == nil {
			return ErrCannotComment
		}
		ledger, found := e.registry.Lookup(instance)
		if !found {
			return ErrCannotComment
		}
		ask, err := ledger.GetAsk(askID)
		if err != nil {
			return ErrCannotComment
		}
		if ask.Owner != caller {
			return ErrCannotComment
		}
		usage.Feedback = feedback
		usage.Data = append([]byte(nil), data...)
		commented = usage
		return e.storeUsage(resourceID, usageID, usage)
	})
	if err != nil {
		return err
	}
	e.emit(NewUsageCommentedEvent(e.self, resourceID, usageID, commented))
	return nil
}

// GetUsage returns the stored usage record.
func (e *Engine) GetUsage(resourceID, usageID uint64) (*Usage, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	usage, ok, err := e.loadUsage(resourceID, usageID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUsageNotFound
	}
	return usage, nil
}

// UsageCount returns how many usage records the resource has accumulated.
func (e *Engine) UsageCount(resourceID uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.readSeq(usageSeqKey(e.self, resourceID))
}
