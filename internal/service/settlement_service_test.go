package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltrade-core/internal/adapter"
	"github.com/soltrade-core/internal/config"
	apperrors "github.com/soltrade-core/internal/errors"
	"github.com/soltrade-core/internal/lock"
	"github.com/soltrade-core/internal/models"
	"github.com/soltrade-core/internal/types"
)

// memSettlementStore mimics the transaction semantics of the relational
// store in memory: reservation and finalize mutate all-or-nothing.
type memSettlementStore struct {
	mu          sync.Mutex
	withdrawals map[string]*models.RefWithdrawHistory
	entries     map[string]*models.RewardEntry

	// finalizeErr makes the next finalize call fail without mutating
	// anything, like a rolled-back transaction. Consumed on use.
	finalizeErr error
}

func newMemSettlementStore() *memSettlementStore {
	return &memSettlementStore{
		withdrawals: make(map[string]*models.RefWithdrawHistory),
		entries:     make(map[string]*models.RewardEntry),
	}
}

func (m *memSettlementStore) addEntry(id, walletID string, amountUSD decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = &models.RewardEntry{
		ID:            id,
		OwnerWalletID: walletID,
		Source:        models.RewardSourceReferral,
		AmountUSD:     amountUSD,
		CreatedAt:     time.Now(),
	}
}

func (m *memSettlementStore) ReserveAvailable(ctx context.Context, walletID string, build func(entries []*models.RewardEntry) (*models.RefWithdrawHistory, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var available []*models.RewardEntry
	for _, e := range m.entries {
		if e.OwnerWalletID == walletID && e.WithdrawID == nil && !e.WithdrawStatus {
			available = append(available, e)
		}
	}
	sort.Slice(available, func(i, j int) bool { return available[i].ID < available[j].ID })

	withdrawal, err := build(available)
	if err != nil {
		return err
	}

	withdrawal.CreatedAt = time.Now()
	cp := *withdrawal
	m.withdrawals[withdrawal.ID] = &cp

	for _, e := range available {
		id := withdrawal.ID
		e.WithdrawID = &id
	}
	return nil
}

func (m *memSettlementStore) GetWithdrawal(ctx context.Context, id string) (*models.RefWithdrawHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("withdrawal", id)
	}
	cp := *w
	return &cp, nil
}

func (m *memSettlementStore) GetPendingByWallet(ctx context.Context, walletID string) (*models.RefWithdrawHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.withdrawals {
		if w.WalletID == walletID && w.Status == types.WithdrawPending {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memSettlementStore) ListDue(ctx context.Context, now time.Time) ([]*models.RefWithdrawHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RefWithdrawHistory
	for _, w := range m.withdrawals {
		due := w.Status == types.WithdrawPending ||
			(w.Status == types.WithdrawRetry && w.NextRetryAt != nil && !w.NextRetryAt.After(now))
		if due {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memSettlementStore) ListByWallet(ctx context.Context, walletID string, limit int) ([]*models.RefWithdrawHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RefWithdrawHistory
	for _, w := range m.withdrawals {
		if w.WalletID == walletID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memSettlementStore) SetSignature(ctx context.Context, id, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return apperrors.NewNotFoundError("withdrawal", id)
	}
	w.Signature = &signature
	return nil
}

func (m *memSettlementStore) MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return apperrors.NewNotFoundError("withdrawal", id)
	}
	w.Status = types.WithdrawRetry
	w.RetryCount = retryCount
	w.NextRetryAt = &nextRetryAt
	return nil
}

func (m *memSettlementStore) FinalizeSuccess(ctx context.Context, withdrawID string) (int64, error) {
	return m.finalize(withdrawID, types.WithdrawSuccess)
}

func (m *memSettlementStore) FinalizeFailure(ctx context.Context, withdrawID string) (int64, error) {
	return m.finalize(withdrawID, types.WithdrawFailed)
}

func (m *memSettlementStore) finalize(withdrawID string, status types.WithdrawStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalizeErr != nil {
		err := m.finalizeErr
		m.finalizeErr = nil
		return 0, err
	}

	w, ok := m.withdrawals[withdrawID]
	if !ok {
		return 0, apperrors.NewNotFoundError("withdrawal", withdrawID)
	}
	w.Status = status

	var n int64
	for _, e := range m.entries {
		if e.WithdrawID != nil && *e.WithdrawID == withdrawID && !e.WithdrawStatus {
			if status == types.WithdrawSuccess {
				e.WithdrawStatus = true
			} else {
				e.WithdrawID = nil
			}
			n++
		}
	}
	return n, nil
}

// setStatus forces a withdrawal status outside the service, for seeding
// terminal rows.
func (m *memSettlementStore) setStatus(id string, status types.WithdrawStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.withdrawals[id]; ok {
		w.Status = status
	}
}

func (m *memSettlementStore) SumAvailable(ctx context.Context, walletID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, e := range m.entries {
		if e.OwnerWalletID == walletID && e.WithdrawID == nil && !e.WithdrawStatus {
			sum = sum.Add(e.AmountUSD)
		}
	}
	return sum, nil
}

func (m *memSettlementStore) withdrawal(id string) *models.RefWithdrawHistory {
	w, _ := m.GetWithdrawal(context.Background(), id)
	return w
}

func (m *memSettlementStore) entryStates(withdrawID string) map[types.RewardState]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[types.RewardState]int)
	for _, e := range m.entries {
		if e.WithdrawID != nil && *e.WithdrawID == withdrawID {
			counts[e.State()]++
		}
	}
	return counts
}

// fakeStatusRPC scripts GetSignatureStatus responses per signature.
type fakeStatusRPC struct {
	adapter.RPCClient

	mu       sync.Mutex
	statuses map[string][]types.SignatureStatus
	err      error
}

func (f *fakeStatusRPC) GetSignatureStatus(ctx context.Context, signature string) (types.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return types.SigStatusUnknown, f.err
	}
	queue := f.statuses[signature]
	if len(queue) == 0 {
		return types.SigStatusUnknown, nil
	}
	status := queue[0]
	if len(queue) > 1 {
		f.statuses[signature] = queue[1:]
	}
	return status, nil
}

func (f *fakeStatusRPC) script(signature string, statuses ...types.SignatureStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = make(map[string][]types.SignatureStatus)
	}
	f.statuses[signature] = statuses
}

type fakeTransferSender struct {
	mu    sync.Mutex
	sig   string
	err   error
	calls int
}

func (f *fakeTransferSender) SendNativeTransfer(ctx context.Context, toAddress string, lamports uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.sig, nil
}

func (f *fakeTransferSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAddressBook struct {
	addresses map[string]string
}

func (f *fakeAddressBook) PayoutAddress(ctx context.Context, walletID string) (string, error) {
	addr, ok := f.addresses[walletID]
	if !ok {
		return "", apperrors.NewNotFoundError("wallet", walletID)
	}
	return addr, nil
}

type settlementFixture struct {
	service   *SettlementService
	store     *memSettlementStore
	rpc       *fakeStatusRPC
	transfers *fakeTransferSender
	oracle    *fakeOracle
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &settlementFixture{
		store:     newMemSettlementStore(),
		rpc:       &fakeStatusRPC{},
		transfers: &fakeTransferSender{sig: "transfer-sig"},
		oracle:    &fakeOracle{sol: decimal.NewFromInt(150)},
	}

	f.service = NewSettlementService(
		f.store,
		lock.NewManager(client, "lock"),
		f.rpc,
		f.transfers,
		f.oracle,
		&fakeAddressBook{addresses: map[string]string{"wallet-1": "Payout111"}},
		&config.SettlementConfig{
			SweepInterval:      time.Minute,
			MinWithdrawUSD:     10,
			PendingExpiry:      30 * time.Minute,
			MaxRetries:         5,
			RetryBaseDelay:     time.Minute,
			RetryMaxDelay:      5 * time.Minute,
			ConfirmTimeout:     40 * time.Millisecond,
			ConfirmPollEvery:   5 * time.Millisecond,
			CreateLockWait:     200 * time.Millisecond,
			ProcessingLockWait: 200 * time.Millisecond,
		},
	)
	return f
}

func (f *settlementFixture) seedWithdrawal(t *testing.T, entryAmounts ...int64) *models.RefWithdrawHistory {
	t.Helper()
	for i, amount := range entryAmounts {
		f.store.addEntry(string(rune('a'+i)), "wallet-1", decimal.NewFromInt(amount))
	}
	created, err := f.service.CreateWithdrawRequest(context.Background(), "wallet-1")
	require.NoError(t, err)
	return created
}

func TestCreateWithdrawRequest(t *testing.T) {
	t.Run("aggregates available entries into one pending row", func(t *testing.T) {
		f := newSettlementFixture(t)

		created := f.seedWithdrawal(t, 7, 5)

		assert.Equal(t, types.WithdrawPending, created.Status)
		assert.Equal(t, "12", created.AmountUSD.String())
		assert.Equal(t, "Payout111", created.ToAddress)
		// 12 USD at 150 USD/SOL.
		assert.Equal(t, "0.08", created.AmountSOL.String())

		states := f.store.entryStates(created.ID)
		assert.Equal(t, 2, states[types.RewardReserved])

		available, err := f.service.AvailableBalance(context.Background(), "wallet-1")
		require.NoError(t, err)
		assert.True(t, available.IsZero(), "reserved entries leave the available balance")
	})

	t.Run("below minimum reserves nothing", func(t *testing.T) {
		f := newSettlementFixture(t)
		f.store.addEntry("a", "wallet-1", decimal.NewFromInt(8))

		_, err := f.service.CreateWithdrawRequest(context.Background(), "wallet-1")
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeBelowMinimum))

		assert.Empty(t, f.store.withdrawals)
		available, err := f.service.AvailableBalance(context.Background(), "wallet-1")
		require.NoError(t, err)
		assert.Equal(t, "8", available.String(), "failed reservation must not stamp entries")
	})

	t.Run("second request while one is pending is rejected", func(t *testing.T) {
		f := newSettlementFixture(t)
		f.seedWithdrawal(t, 12)
		f.store.addEntry("z", "wallet-1", decimal.NewFromInt(20))

		_, err := f.service.CreateWithdrawRequest(context.Background(), "wallet-1")
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeAlreadyPending))
	})

	t.Run("empty wallet id is rejected", func(t *testing.T) {
		f := newSettlementFixture(t)
		_, err := f.service.CreateWithdrawRequest(context.Background(), "")
		require.Error(t, err)
	})
}

func TestCancelWithdrawRequest(t *testing.T) {
	t.Run("releases reservations back to available", func(t *testing.T) {
		f := newSettlementFixture(t)
		created := f.seedWithdrawal(t, 7, 5)

		require.NoError(t, f.service.CancelWithdrawRequest(context.Background(), "wallet-1", created.ID))

		assert.Equal(t, types.WithdrawFailed, f.store.withdrawal(created.ID).Status)
		available, err := f.service.AvailableBalance(context.Background(), "wallet-1")
		require.NoError(t, err)
		assert.Equal(t, "12", available.String(), "cancel must conserve the reward ledger")
	})

	t.Run("rejects another wallet's withdrawal", func(t *testing.T) {
		f := newSettlementFixture(t)
		created := f.seedWithdrawal(t, 12)

		err := f.service.CancelWithdrawRequest(context.Background(), "wallet-2", created.ID)
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, "NOT_FOUND"))
	})

	t.Run("rejects non-pending withdrawal", func(t *testing.T) {
		f := newSettlementFixture(t)
		created := f.seedWithdrawal(t, 12)
		f.store.setStatus(created.ID, types.WithdrawSuccess)

		err := f.service.CancelWithdrawRequest(context.Background(), "wallet-1", created.ID)
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))
	})
}

func TestProcessWithdrawal_SuccessPath(t *testing.T) {
	f := newSettlementFixture(t)
	created := f.seedWithdrawal(t, 7, 5)
	f.rpc.script("transfer-sig", types.SigStatusConfirmed)

	require.NoError(t, f.service.ProcessWithdrawal(context.Background(), created.ID))

	final := f.store.withdrawal(created.ID)
	assert.Equal(t, types.WithdrawSuccess, final.Status)
	require.NotNil(t, final.Signature)
	assert.Equal(t, "transfer-sig", *final.Signature)
	assert.Equal(t, 1, f.transfers.callCount())

	states := f.store.entryStates(created.ID)
	assert.Equal(t, 2, states[types.RewardSettled])

	t.Run("replay on settled row is a no-op", func(t *testing.T) {
		require.NoError(t, f.service.ProcessWithdrawal(context.Background(), created.ID))
		assert.Equal(t, 1, f.transfers.callCount(), "settled withdrawal must not transfer again")
	})
}

func TestProcessWithdrawal_ExpiredPendingFailsAndReleases(t *testing.T) {
	f := newSettlementFixture(t)
	created := f.seedWithdrawal(t, 12)

	f.service.now = func() time.Time { return created.ExpiresAt.Add(time.Second) }

	require.NoError(t, f.service.ProcessWithdrawal(context.Background(), created.ID))

	assert.Equal(t, types.WithdrawFailed, f.store.withdrawal(created.ID).Status)
	assert.Equal(t, 0, f.transfers.callCount(), "expired withdrawal must not hit the chain")

	available, err := f.service.AvailableBalance(context.Background(), "wallet-1")
	require.NoError(t, err)
	assert.Equal(t, "12", available.String())
}

func TestProcessWithdrawal_FinalizeIsAtomic(t *testing.T) {
	t.Run("failed release keeps the row recoverable", func(t *testing.T) {
		f := newSettlementFixture(t)
		created := f.seedWithdrawal(t, 7, 5)
		f.service.now = func() time.Time { return created.ExpiresAt.Add(time.Second) }

		f.store.finalizeErr = errors.New("connection reset")
		require.Error(t, f.service.ProcessWithdrawal(context.Background(), created.ID))

		// The row must not go terminal while its entries are still
		// reserved, or no sweep would ever release them.
		assert.Equal(t, types.WithdrawPending, f.store.withdrawal(created.ID).Status)
		assert.Equal(t, 2, f.store.entryStates(created.ID)[types.RewardReserved])

		require.NoError(t, f.service.ProcessPending(context.Background()))

		assert.Equal(t, types.WithdrawFailed, f.store.withdrawal(created.ID).Status)
		available, err := f.service.AvailableBalance(context.Background(), "wallet-1")
		require.NoError(t, err)
		assert.Equal(t, "12", available.String(), "ledger conservation after the store heals")
	})

	t.Run("failed settle retries without a second transfer", func(t *testing.T) {
		f := newSettlementFixture(t)
		created := f.seedWithdrawal(t, 12)
		f.rpc.script("transfer-sig", types.SigStatusConfirmed)

		f.store.finalizeErr = errors.New("connection reset")
		require.Error(t, f.service.ProcessWithdrawal(context.Background(), created.ID))
		assert.Equal(t, types.WithdrawPending, f.store.withdrawal(created.ID).Status)

		require.NoError(t, f.service.ProcessWithdrawal(context.Background(), created.ID))

		assert.Equal(t, types.WithdrawSuccess, f.store.withdrawal(created.ID).Status)
		assert.Equal(t, 1, f.store.entryStates(created.ID)[types.RewardSettled])
		assert.Equal(t, 1, f.transfers.callCount(), "the persisted signature carries the replay")
	})
}

func TestProcessWithdrawal_StoredSignature(t *testing.T) {
	seed := func(t *testing.T) (*settlementFixture, *models.RefWithdrawHistory) {
		t.Helper()
		f := newSettlementFixture(t)
		created := f.seedWithdrawal(t, 12)
		require.NoError(t, f.store.SetSignature(context.Background(), created.ID, "prior-sig"))
		return f, created
	}

	t.Run("confirmed on chain settles without resend", func(t *testing.T) {
		f, created := seed(t)
		f.rpc.script("prior-sig", types.SigStatusFinalized)

		require.NoError(t, f.service.ProcessWithdrawal(context.Background(), created.ID))

		assert.Equal(t, types.WithdrawSuccess, f.store.withdrawal(created.ID).Status)
		assert.Equal(t, 0, f.transfers.callCount(), "a confirmed prior transfer must never be resent")
	})

	t.Run("still processing leaves the row for the next sweep", func(t *testing.T) {
		f, created := seed(t)
		f.rpc.script("prior-sig", types.SigStatusProcessed)

		require.NoError(t, f.service.ProcessWithdrawal(context.Background(), created.ID))

		assert.Equal(t, types.WithdrawPending, f.store.withdrawal(created.ID).Status)
		assert.Equal(t, 0, f.transfers.callCount())
	})

	t.Run("dropped transaction is resent", func(t *testing.T) {
		f, created := seed(t)
		f.rpc.script("prior-sig", types.SigStatusUnknown)
		f.rpc.script("transfer-sig", types.SigStatusConfirmed)

		require.NoError(t, f.service.ProcessWithdrawal(context.Background(), created.ID))

		final := f.store.withdrawal(created.ID)
		assert.Equal(t, types.WithdrawSuccess, final.Status)
		assert.Equal(t, 1, f.transfers.callCount())
		require.NotNil(t, final.Signature)
		assert.Equal(t, "transfer-sig", *final.Signature)
	})

	t.Run("status check failure schedules a retry", func(t *testing.T) {
		f, created := seed(t)
		f.rpc.err = errors.New("rpc down")

		require.NoError(t, f.service.ProcessWithdrawal(context.Background(), created.ID))

		final := f.store.withdrawal(created.ID)
		assert.Equal(t, types.WithdrawRetry, final.Status)
		assert.Equal(t, 0, f.transfers.callCount(), "ambiguity must resolve toward waiting, not resending")
	})
}

func TestProcessWithdrawal_RetryBackoff(t *testing.T) {
	t.Run("transfer failure applies capped exponential backoff", func(t *testing.T) {
		f := newSettlementFixture(t)
		created := f.seedWithdrawal(t, 12)
		f.transfers.err = errors.New("wallet service unavailable")

		before := time.Now()
		require.NoError(t, f.service.ProcessWithdrawal(context.Background(), created.ID))

		final := f.store.withdrawal(created.ID)
		assert.Equal(t, types.WithdrawRetry, final.Status)
		assert.Equal(t, 1, final.RetryCount)
		require.NotNil(t, final.NextRetryAt)
		// First retry backs off 60s * 2^1 = 2 minutes.
		assert.WithinDuration(t, before.Add(2*time.Minute), *final.NextRetryAt, 2*time.Second)
	})

	t.Run("retry budget exhaustion fails terminally and releases", func(t *testing.T) {
		f := newSettlementFixture(t)
		created := f.seedWithdrawal(t, 12)
		f.transfers.err = errors.New("wallet service unavailable")
		require.NoError(t, f.store.MarkRetry(context.Background(), created.ID, 4, time.Now().Add(-time.Second)))

		require.NoError(t, f.service.ProcessWithdrawal(context.Background(), created.ID))

		assert.Equal(t, types.WithdrawFailed, f.store.withdrawal(created.ID).Status)
		available, err := f.service.AvailableBalance(context.Background(), "wallet-1")
		require.NoError(t, err)
		assert.Equal(t, "12", available.String())
	})

	t.Run("retry not yet due is left alone", func(t *testing.T) {
		f := newSettlementFixture(t)
		created := f.seedWithdrawal(t, 12)
		future := time.Now().Add(time.Hour)
		require.NoError(t, f.store.MarkRetry(context.Background(), created.ID, 1, future))

		require.NoError(t, f.service.ProcessWithdrawal(context.Background(), created.ID))

		final := f.store.withdrawal(created.ID)
		assert.Equal(t, types.WithdrawRetry, final.Status)
		assert.Equal(t, 1, final.RetryCount)
		assert.Equal(t, 0, f.transfers.callCount())
	})
}

func TestProcessWithdrawal_ConfirmationTimeoutSchedulesRetry(t *testing.T) {
	f := newSettlementFixture(t)
	created := f.seedWithdrawal(t, 12)
	// No scripted status: every poll answers unknown until the confirmation
	// window closes.

	require.NoError(t, f.service.ProcessWithdrawal(context.Background(), created.ID))

	final := f.store.withdrawal(created.ID)
	assert.Equal(t, types.WithdrawRetry, final.Status)
	require.NotNil(t, final.Signature)
	assert.Equal(t, "transfer-sig", *final.Signature, "signature persists even when confirmation times out")
}

func TestProcessPending_SweepsOnlyDueRows(t *testing.T) {
	f := newSettlementFixture(t)
	created := f.seedWithdrawal(t, 12)
	f.rpc.script("transfer-sig", types.SigStatusConfirmed)

	// A second wallet's row parked in retry far in the future.
	f.store.mu.Lock()
	future := time.Now().Add(time.Hour)
	f.store.withdrawals["parked"] = &models.RefWithdrawHistory{
		ID:          "parked",
		WalletID:    "wallet-2",
		ToAddress:   "Payout222",
		AmountSOL:   decimal.NewFromFloat(0.1),
		AmountUSD:   decimal.NewFromInt(15),
		Status:      types.WithdrawRetry,
		RetryCount:  1,
		NextRetryAt: &future,
		ExpiresAt:   future,
		CreatedAt:   time.Now(),
	}
	f.store.mu.Unlock()

	require.NoError(t, f.service.ProcessPending(context.Background()))

	assert.Equal(t, types.WithdrawSuccess, f.store.withdrawal(created.ID).Status)
	assert.Equal(t, types.WithdrawRetry, f.store.withdrawal("parked").Status)
	assert.Equal(t, 1, f.transfers.callCount())
}
