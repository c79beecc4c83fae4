package bulletin

import (
	"fmt"
	"math/big"
)

// router moves value between callers, the instance's own custody and payees.
// Every move is full-amount or nothing; partial transfers never happen.
type router struct {
	state   ledgerState
	custody [20]byte
}

func newRouter(state ledgerState, custody [20]byte) *router {
	return &router{state: state, custody: custody}
}

// pull escrows amount of currency from the caller into the instance's
// custody. For the native asset the attached value must equal amount exactly;
// excess is rejected, not refunded. For tokens the caller must have
// pre-authorised the instance through an allowance.
func (r *router) pull(currency Currency, from [20]byte, amount, value *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if value == nil {
		value = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("bulletin: negative escrow amount")
	}
	if currency.IsNative() {
		if value.Cmp(amount) != 0 {
			return ErrInsufficientAmount
		}
		if amount.Sign() == 0 {
			return nil
		}
		if err := r.state.Transfer([20]byte(currency), from, r.custody, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil
	}
	if value.Sign() != 0 {
		return ErrInsufficientAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	return r.state.SpendAllowance([20]byte(currency), from, r.custody, amount)
}

// push pays amount of currency out of the instance's custody. An uncovered
// payout is fatal for the enclosing operation.
func (r *router) push(currency Currency, to [20]byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("bulletin: negative payout amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := r.state.Transfer([20]byte(currency), r.custody, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}
