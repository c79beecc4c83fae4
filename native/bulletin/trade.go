package bulletin

// TradeFilter selects which trades FilterTrades matches.
type TradeFilter uint8

const (
	// TradeFilterApproved matches trades with approved == true.
	TradeFilterApproved TradeFilter = iota
	// TradeFilterAfter matches trades stamped later than the threshold.
	TradeFilterAfter
)

// ProposeTrade appends a trade offering the referenced resource against the
// ask. Only the current owner of the referenced resource, per its home
// instance, may propose, and only while the resource is active and the ask
// unfulfilled.
func (e *Engine) ProposeTrade(caller [20]byte, askID uint64, trade *Trade) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if trade == nil {
		return 0, ErrResourceNotValid
	}
	proposed := trade.Clone()
	var id uint64
	err := e.state.Transaction(func() error {
		ask, err := e.loadAsk(askID)
		if err != nil {
			return err
		}
		if ask.Fulfilled {
			return ErrInvalidTrade
		}
		ledger, resourceID, err := e.remote(proposed.Resource)
		if err != nil {
			return err
		}
		resource, err := ledger.GetResource(resourceID)
		if err != nil {
			return err
		}
		if resource.Owner != caller {
			return ErrInvalidOp
		}
		if !resource.Active {
			return ErrResourceNotActive
		}
		proposed.Approved = false
		proposed.Timestamp = e.now()
		id, err = e.nextSeq(tradeSeqKey(e.self, askID))
		if err != nil {
			return err
		}
		return e.storeTrade(askID, id, proposed)
	})
	if err != nil {
		return 0, err
	}
	e.emit(NewTradeAddedEvent(e.self, askID, id, proposed))
	return id, nil
}

// ApproveTrade marks the trade approved. Ask owner only; re-stampable while
// the ask is unfulfilled.
func (e *Engine) ApproveTrade(caller [20]byte, askID, tradeID uint64) error {
	return e.decideTrade(caller, askID, tradeID, true)
}

// RejectTrade marks the trade rejected. Ask owner only; re-stampable while
// the ask is unfulfilled.
func (e *Engine) RejectTrade(caller [20]byte, askID, tradeID uint64) error {
	return e.decideTrade(caller, askID, tradeID, false)
}

func (e *Engine) decideTrade(caller [20]byte, askID, tradeID uint64, approved bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	var decided *Trade
	err := e.state.Transaction(func() error {
		ask, err := e.loadAsk(askID)
		if err != nil {
			return err
		}
		if ask.Owner != caller {
			return ErrInvalidOp
		}
		if ask.Fulfilled {
			return ErrInvalidTrade
		}
		trade, ok, err := e.loadTrade(askID, tradeID)
		if err != nil {
			return err
		}
		if !ok || !trade.Exists() {
			return ErrNothingToTrade
		}
		trade.Approved = approved
		trade.Timestamp = e.now()
		decided = trade
		return e.storeTrade(askID, tradeID, trade)
	})
	if err != nil {
		return err
	}
	e.emit(NewTradeDecidedEvent(e.self, askID, tradeID, decided))
	return nil
}

// GetTrade returns the stored trade.
func (e *Engine) GetTrade(askID, tradeID uint64) (*Trade, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	trade, ok, err := e.loadTrade(askID, tradeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTradeNotFound
	}
	return trade, nil
}

// FilterTrades returns a list sized to the ask's total trade count, with
// matching trades in their id slots and non-matching slots left as zero
// entries. Callers must skip defaults rather than assume a compacted list.
func (e *Engine) FilterTrades(askID uint64, filter TradeFilter, threshold int64) ([]Trade, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	count, err := e.readSeq(tradeSeqKey(e.self, askID))
	if err != nil {
		return nil, err
	}
	matches := make([]Trade, count)
	for id := uint64(1); id <= count; id++ {
		trade, ok, err := e.loadTrade(askID, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		switch filter {
		case TradeFilterApproved:
			if trade.Approved {
				matches[id-1] = *trade
			}
		case TradeFilterAfter:
			if trade.Timestamp > threshold {
				matches[id-1] = *trade
			}
		}
	}
	return matches, nil
}

// approvedTrades snapshots the approved trades for the ask in ascending
// trade-id order. The snapshot is the authoritative payee list for
// settlement.
func (e *Engine) approvedTrades(askID uint64) ([]uint64, []*Trade, error) {
	count, err := e.readSeq(tradeSeqKey(e.self, askID))
	if err != nil {
		return nil, nil, err
	}
	ids := make([]uint64, 0, count)
	trades := make([]*Trade, 0, count)
	for id := uint64(1); id <= count; id++ {
		trade, ok, err := e.loadTrade(askID, id)
		if err != nil {
			return nil, nil, err
		}
		if !ok || !trade.Approved {
			continue
		}
		ids = append(ids, id)
		trades = append(trades, trade)
	}
	return ids, trades, nil
}
