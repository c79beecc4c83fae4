package bulletin

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"bulletin/native/access"
)

func TestSettleSplitsTokenEscrow(t *testing.T) {
	pair := newTestChainPair(t)
	asker := newTestAddress(0x02)
	first := newTestAddress(0x21)
	second := newTestAddress(0x22)

	pair.grant(t, pair.a, pair.adminA, asker, access.RoleAsker)
	pair.fund(t, testToken, asker, 100)
	if err := pair.manager.Approve([20]byte(testToken), asker, pair.a.Address(), big.NewInt(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	askID, err := pair.a.CreateAsk(asker, testAsk(100, testToken), nil)
	if err != nil {
		t.Fatalf("create ask: %v", err)
	}

	_, firstRef := pair.offeredResource(t, first)
	_, secondRef := pair.offeredResource(t, second)
	firstTrade, err := pair.a.ProposeTrade(first, askID, &Trade{Resource: firstRef})
	if err != nil {
		t.Fatalf("propose trade: %v", err)
	}
	secondTrade, err := pair.a.ProposeTrade(second, askID, &Trade{Resource: secondRef})
	if err != nil {
		t.Fatalf("propose trade: %v", err)
	}
	if err := pair.a.ApproveTrade(asker, askID, firstTrade); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := pair.a.ApproveTrade(asker, askID, secondTrade); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := pair.a.SettleAsk(asker, askID, []uint32{6000, 4000}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := pair.balance(t, testToken, first); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("first payout = %s, want 60", got)
	}
	if got := pair.balance(t, testToken, second); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("second payout = %s, want 40", got)
	}
	if got := pair.balance(t, testToken, pair.a.Address()); got.Sign() != 0 {
		t.Fatalf("custody must be empty after an exact split, got %s", got)
	}
	settled, err := pair.a.GetAsk(askID)
	if err != nil {
		t.Fatalf("get ask: %v", err)
	}
	if !settled.Fulfilled {
		t.Fatalf("settled ask must be fulfilled")
	}
	if err := pair.a.WithdrawAsk(asker, askID); !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("fulfilled ask must refuse withdrawal, got %v", err)
	}
	if err := pair.a.SettleAsk(asker, askID, []uint32{10000}); !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("fulfilled ask must refuse resettlement, got %v", err)
	}
}

func TestSettleThreeWayPartition(t *testing.T) {
	pair := newTestChainPair(t)
	asker := newTestAddress(0x02)
	owners := [][20]byte{newTestAddress(0x21), newTestAddress(0x22), newTestAddress(0x23)}
	askID := pair.fundedAsk(t, asker, 100)

	for _, owner := range owners {
		_, ref := pair.offeredResource(t, owner)
		tradeID, err := pair.a.ProposeTrade(owner, askID, &Trade{Resource: ref})
		if err != nil {
			t.Fatalf("propose trade: %v", err)
		}
		if err := pair.a.ApproveTrade(asker, askID, tradeID); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	if err := pair.a.SettleAsk(asker, askID, []uint32{5000, 2500, 2500}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	for i, want := range []int64{50, 25, 25} {
		if got := pair.balance(t, NativeCurrency, owners[i]); got.Cmp(big.NewInt(want)) != 0 {
			t.Fatalf("payout %d = %s, want %d", i, got, want)
		}
	}
}

func TestSettleResidualStaysInCustody(t *testing.T) {
	pair := newTestChainPair(t)
	asker := newTestAddress(0x02)
	owners := [][20]byte{newTestAddress(0x21), newTestAddress(0x22), newTestAddress(0x23)}
	askID := pair.fundedAsk(t, asker, 100)

	for _, owner := range owners {
		_, ref := pair.offeredResource(t, owner)
		tradeID, err := pair.a.ProposeTrade(owner, askID, &Trade{Resource: ref})
		if err != nil {
			t.Fatalf("propose trade: %v", err)
		}
		if err := pair.a.ApproveTrade(asker, askID, tradeID); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	// 33 + 33 + 33 after floor division, one unit left behind.
	if err := pair.a.SettleAsk(asker, askID, []uint32{3333, 3333, 3334}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	for i := range owners {
		if got := pair.balance(t, NativeCurrency, owners[i]); got.Cmp(big.NewInt(33)) != 0 {
			t.Fatalf("payout %d = %s, want 33", i, got)
		}
	}
	if got := pair.balance(t, NativeCurrency, pair.a.Address()); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("residual must remain on the instance account, got %s", got)
	}
	recorded, err := pair.a.custody(askID)
	if err != nil {
		t.Fatalf("custody: %v", err)
	}
	if recorded.Sign() != 0 {
		t.Fatalf("recorded custody must be cleared, got %s", recorded)
	}
}

func TestSettleValidatesBeforePaying(t *testing.T) {
	pair := newTestChainPair(t)
	asker := newTestAddress(0x02)
	offerer := newTestAddress(0x21)
	stranger := newTestAddress(0x31)
	askID := pair.fundedAsk(t, asker, 100)
	_, ref := pair.offeredResource(t, offerer)
	tradeID, err := pair.a.ProposeTrade(offerer, askID, &Trade{Resource: ref})
	if err != nil {
		t.Fatalf("propose trade: %v", err)
	}
	if err := pair.a.ApproveTrade(asker, askID, tradeID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := pair.a.SettleAsk(stranger, askID, []uint32{10000}); !errors.Is(err, ErrInvalidOp) {
		t.Fatalf("non-owner settle: expected ErrInvalidOp, got %v", err)
	}
	if err := pair.a.SettleAsk(asker, askID, []uint32{5000, 5000}); !errors.Is(err, ErrSettlementMismatch) {
		t.Fatalf("length mismatch: expected ErrSettlementMismatch, got %v", err)
	}
	if err := pair.a.SettleAsk(asker, askID, []uint32{9999}); !errors.Is(err, ErrTotalPercentageMustBeTenThousand) {
		t.Fatalf("short partition: expected sum error, got %v", err)
	}
	if err := pair.a.SettleAsk(asker, askID, []uint32{10001}); !errors.Is(err, ErrTotalPercentageMustBeTenThousand) {
		t.Fatalf("excess partition: expected sum error, got %v", err)
	}
	if got := pair.balance(t, NativeCurrency, offerer); got.Sign() != 0 {
		t.Fatalf("rejected settlements must not pay out, balance = %s", got)
	}
	if got := pair.balance(t, NativeCurrency, pair.a.Address()); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("escrow must stay in custody, got %s", got)
	}
}

func TestSettleWithNoApprovedTrades(t *testing.T) {
	pair := newTestChainPair(t)
	asker := newTestAddress(0x02)
	askID := pair.fundedAsk(t, asker, 100)

	if err := pair.a.SettleAsk(asker, askID, []uint32{10000}); !errors.Is(err, ErrSettlementMismatch) {
		t.Fatalf("partition without trades: expected ErrSettlementMismatch, got %v", err)
	}
	if err := pair.a.SettleAsk(asker, askID, nil); !errors.Is(err, ErrTotalPercentageMustBeTenThousand) {
		t.Fatalf("empty partition: expected sum error, got %v", err)
	}
}

func TestSettleRecordsReciprocityUsage(t *testing.T) {
	pair := newTestChainPair(t)
	asker := newTestAddress(0x02)
	offerer := newTestAddress(0x21)
	stranger := newTestAddress(0x31)
	askID := pair.fundedAsk(t, asker, 100)
	resourceID, ref := pair.offeredResource(t, offerer)
	tradeID, err := pair.a.ProposeTrade(offerer, askID, &Trade{Resource: ref})
	if err != nil {
		t.Fatalf("propose trade: %v", err)
	}
	if err := pair.a.ApproveTrade(asker, askID, tradeID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	// Instance b trusts instance a to report usage against b's resources.
	pair.grant(t, pair.b, pair.adminB, pair.a.Address(), access.RoleReciprocity)

	if err := pair.a.SettleAsk(asker, askID, []uint32{10000}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	count, err := pair.b.UsageCount(resourceID)
	if err != nil {
		t.Fatalf("usage count: %v", err)
	}
	if count != 1 {
		t.Fatalf("usage count = %d, want 1", count)
	}
	usage, err := pair.b.GetUsage(resourceID, 1)
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}
	instance, _ := usage.Ask.Decode()
	localID, ok := usage.Ask.LocalID()
	if instance != pair.a.Address() || !ok || localID != askID {
		t.Fatalf("usage must reference the settled ask, got %s", usage.Ask)
	}
	if usage.Timestamp != testNow {
		t.Fatalf("usage timestamp = %d, want %d", usage.Timestamp, testNow)
	}

	// Only the owner of the originating ask may comment, and the latest
	// comment replaces the previous one.
	if err := pair.b.Comment(stranger, resourceID, 1, "nope", nil); !errors.Is(err, ErrCannotComment) {
		t.Fatalf("stranger comment: expected ErrCannotComment, got %v", err)
	}
	if err := pair.b.Comment(asker, resourceID, 1, "solid work", []byte{0x01}); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if err := pair.b.Comment(asker, resourceID, 1, "revised: outstanding", []byte{0x02}); err != nil {
		t.Fatalf("second comment: %v", err)
	}
	usage, err = pair.b.GetUsage(resourceID, 1)
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}
	if usage.Feedback != "revised: outstanding" || !bytes.Equal(usage.Data, []byte{0x02}) {
		t.Fatalf("last comment must win, got %q / %x", usage.Feedback, usage.Data)
	}
}

func TestSettleSkipsUsageWithoutGrant(t *testing.T) {
	pair := newTestChainPair(t)
	asker := newTestAddress(0x02)
	offerer := newTestAddress(0x21)
	askID := pair.fundedAsk(t, asker, 100)
	resourceID, ref := pair.offeredResource(t, offerer)
	tradeID, err := pair.a.ProposeTrade(offerer, askID, &Trade{Resource: ref})
	if err != nil {
		t.Fatalf("propose trade: %v", err)
	}
	if err := pair.a.ApproveTrade(asker, askID, tradeID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := pair.a.SettleAsk(asker, askID, []uint32{10000}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	count, err := pair.b.UsageCount(resourceID)
	if err != nil {
		t.Fatalf("usage count: %v", err)
	}
	if count != 0 {
		t.Fatalf("settlement must not record usage without a grant, count = %d", count)
	}
	if got := pair.balance(t, NativeCurrency, offerer); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("payout must still land, got %s", got)
	}
}

func TestIncrementUsageRoleGate(t *testing.T) {
	pair := newTestChainPair(t)
	offerer := newTestAddress(0x21)
	reporter := newTestAddress(0x41)
	resourceID, _ := pair.offeredResource(t, offerer)
	askRef := NewAssetReference(pair.a.Address(), 1)

	if _, err := pair.b.IncrementUsage(reporter, nil, resourceID, askRef); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("nil role: expected ErrUnauthorized, got %v", err)
	}
	if _, err := pair.b.IncrementUsage(reporter, uint256.NewInt(0), resourceID, askRef); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("zero role: expected ErrUnauthorized, got %v", err)
	}
	if _, err := pair.b.IncrementUsage(reporter, access.RoleReciprocity, resourceID, askRef); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("ungranted caller: expected ErrUnauthorized, got %v", err)
	}
	pair.grant(t, pair.b, pair.adminB, reporter, access.RoleReciprocity)
	if _, err := pair.b.IncrementUsage(reporter, access.RoleReciprocity, 42, askRef); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("missing resource: expected ErrResourceNotFound, got %v", err)
	}
	id, err := pair.b.IncrementUsage(reporter, access.RoleReciprocity, resourceID, askRef)
	if err != nil {
		t.Fatalf("increment usage: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first usage id 1, got %d", id)
	}
}

var errPeerDown = errors.New("peer ledger unavailable")

// faultyLedger resolves trades like a healthy peer but fails every usage
// write, standing in for a remote instance that breaks mid-settlement.
type faultyLedger struct {
	owner [20]byte
}

func (f *faultyLedger) GetAsk(uint64) (*Ask, error) { return nil, ErrAskNotFound }

func (f *faultyLedger) GetResource(uint64) (*Resource, error) {
	return &Resource{Active: true, Owner: f.owner, Role: uint256.NewInt(0), Title: "flaky farm"}, nil
}

func (f *faultyLedger) HasRole([20]byte, *uint256.Int) (bool, error) { return true, nil }

func (f *faultyLedger) IncrementUsage([20]byte, *uint256.Int, uint64, AssetReference) (uint64, error) {
	return 0, errPeerDown
}

func TestSettleRevertsWhenPeerFails(t *testing.T) {
	pair := newTestChainPair(t)
	asker := newTestAddress(0x02)
	offerer := newTestAddress(0x21)
	peer := newTestAddress(0x99)
	if err := pair.registry.Register(peer, &faultyLedger{owner: offerer}); err != nil {
		t.Fatalf("register peer: %v", err)
	}
	askID := pair.fundedAsk(t, asker, 100)
	tradeID, err := pair.a.ProposeTrade(offerer, askID, &Trade{Resource: NewAssetReference(peer, 1)})
	if err != nil {
		t.Fatalf("propose trade: %v", err)
	}
	if err := pair.a.ApproveTrade(asker, askID, tradeID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := pair.a.SettleAsk(asker, askID, []uint32{10000}); !errors.Is(err, errPeerDown) {
		t.Fatalf("expected the peer failure to surface, got %v", err)
	}
	// The payout that ran before the failure must be rolled back with it.
	if got := pair.balance(t, NativeCurrency, offerer); got.Sign() != 0 {
		t.Fatalf("payout must be reverted, balance = %s", got)
	}
	if got := pair.balance(t, NativeCurrency, pair.a.Address()); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("escrow must be restored, got %s", got)
	}
	ask, err := pair.a.GetAsk(askID)
	if err != nil {
		t.Fatalf("get ask: %v", err)
	}
	if ask.Fulfilled {
		t.Fatalf("failed settlement must leave the ask unfulfilled")
	}
	recorded, err := pair.a.custody(askID)
	if err != nil {
		t.Fatalf("custody: %v", err)
	}
	if recorded.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("recorded custody must be restored, got %s", recorded)
	}
	// The failure does not pin the ask; a healthy retry succeeds.
	if err := pair.a.RejectTrade(asker, askID, tradeID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	_, ref := pair.offeredResource(t, offerer)
	retry, err := pair.a.ProposeTrade(offerer, askID, &Trade{Resource: ref})
	if err != nil {
		t.Fatalf("propose trade: %v", err)
	}
	if err := pair.a.ApproveTrade(asker, askID, retry); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := pair.a.SettleAsk(asker, askID, []uint32{10000}); err != nil {
		t.Fatalf("retry settle: %v", err)
	}
	if got := pair.balance(t, NativeCurrency, offerer); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("retry payout = %s, want 100", got)
	}
}

// reentrantLedger attempts to settle the ask again from inside the
// settlement's own usage callback.
type reentrantLedger struct {
	owner  [20]byte
	target *Engine
	asker  [20]byte
	askID  uint64
	seen   error
}

func (r *reentrantLedger) GetAsk(uint64) (*Ask, error) { return nil, ErrAskNotFound }

func (r *reentrantLedger) GetResource(uint64) (*Resource, error) {
	return &Resource{Active: true, Owner: r.owner, Role: uint256.NewInt(0), Title: "echo farm"}, nil
}

func (r *reentrantLedger) HasRole([20]byte, *uint256.Int) (bool, error) { return true, nil }

func (r *reentrantLedger) IncrementUsage([20]byte, *uint256.Int, uint64, AssetReference) (uint64, error) {
	r.seen = r.target.SettleAsk(r.asker, r.askID, []uint32{10000})
	return 1, nil
}

func TestSettleBlocksReentrancy(t *testing.T) {
	pair := newTestChainPair(t)
	asker := newTestAddress(0x02)
	offerer := newTestAddress(0x21)
	peer := newTestAddress(0x98)
	ledger := &reentrantLedger{owner: offerer, target: pair.a, asker: asker}
	if err := pair.registry.Register(peer, ledger); err != nil {
		t.Fatalf("register peer: %v", err)
	}
	askID := pair.fundedAsk(t, asker, 100)
	ledger.askID = askID
	tradeID, err := pair.a.ProposeTrade(offerer, askID, &Trade{Resource: NewAssetReference(peer, 1)})
	if err != nil {
		t.Fatalf("propose trade: %v", err)
	}
	if err := pair.a.ApproveTrade(asker, askID, tradeID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := pair.a.SettleAsk(asker, askID, []uint32{10000}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !errors.Is(ledger.seen, ErrReentrantSettlement) {
		t.Fatalf("reentrant settle must be refused, got %v", ledger.seen)
	}
	if got := pair.balance(t, NativeCurrency, offerer); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("escrow must be paid exactly once, got %s", got)
	}
}
