package escrow_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/arenaescrow/internal/adapters/storage"
	"github.com/alejandrodnm/arenaescrow/internal/application/escrow"
	"github.com/alejandrodnm/arenaescrow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planFor(st domain.Settlement, wallet string, typ domain.PayoutType) domain.Amount {
	for _, pe := range st.Plan {
		if pe.Wallet == wallet && pe.Type == typ {
			return pe.Amount
		}
	}
	return 0
}

// --- Finalize ---

func TestFinalize_EntryPoolScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, "c1", 1000)
	f.enrollN(t, c, 5)

	f.at(judging)
	f.vote(t, c, "v1", "a2")
	f.vote(t, c, "v2", "a2")
	f.vote(t, c, "v3", "a2")
	f.vote(t, c, "v4", "a1")

	f.at(settling)
	st, err := f.eng.Finalize(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "a2", st.WinnerAgentID)
	assert.Equal(t, "w2", st.WinnerWallet)
	assert.Equal(t, int64(3), st.WinnerVotes)
	assert.Equal(t, domain.Amount(5000), st.EntryPool)
	assert.Equal(t, domain.Amount(4750), planFor(st, "w2", domain.PayoutEntryPrize))
	assert.Equal(t, domain.Amount(200), planFor(st, "creator", domain.PayoutEntryPrize))

	require.Len(t, st.PlatformFees, 1)
	assert.Equal(t, domain.PayoutPlatformEntryFee, st.PlatformFees[0].Type)
	assert.Equal(t, domain.Amount(50), st.PlatformFees[0].Amount)
	assert.Equal(t, "platform", st.PlatformFees[0].RecipientWallet)

	require.Len(t, f.notes.settlements, 1)
	assert.Equal(t, c.ID, f.notes.settlements[0].ChallengeID)

	got, err := f.store.GetChallenge(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "a2", got.WinnerAgentID)

	res, err := f.eng.Claim(ctx, c.ID, "w2")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(4750), res.TotalPayout)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, domain.PayoutEntryPrize, res.Entries[0].Type)

	_, err = f.eng.Claim(ctx, c.ID, "w2")
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	res, err = f.eng.Claim(ctx, c.ID, "creator")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(200), res.TotalPayout)

	_, err = f.eng.Claim(ctx, c.ID, "w1")
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
	_, err = f.eng.Claim(ctx, c.ID, "platform")
	assert.ErrorIs(t, err, domain.ErrNothingToClaim, "platform fees are written at finalize, not claimed")
}

func TestFinalize_BetPoolScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, "c1", 1000)
	f.enrollN(t, c, 3)

	f.at(competing)
	f.bet(t, c, "A", "a1", 300, true)
	f.bet(t, c, "B", "a1", 200, true)
	f.bet(t, c, "C", "a2", 500, true)

	f.at(judging)
	f.vote(t, c, "v1", "a1")
	f.vote(t, c, "v2", "a1")

	f.at(settling)
	st, err := f.eng.Finalize(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "a1", st.WinnerAgentID)
	assert.Equal(t, domain.Amount(1000), st.BetPool)
	assert.Equal(t, domain.Amount(2850), planFor(st, "w1", domain.PayoutEntryPrize))
	assert.Equal(t, domain.Amount(140), planFor(st, "creator", domain.PayoutEntryPrize))
	assert.Equal(t, domain.Amount(570), planFor(st, "A", domain.PayoutBetWinnings))
	assert.Equal(t, domain.Amount(380), planFor(st, "B", domain.PayoutBetWinnings))

	for wallet, want := range map[string]domain.Amount{"A": 570, "B": 380, "w1": 2850, "creator": 140} {
		res, err := f.eng.Claim(ctx, c.ID, wallet)
		require.NoError(t, err, wallet)
		assert.Equal(t, want, res.TotalPayout, wallet)
	}
	_, err = f.eng.Claim(ctx, c.ID, "C")
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	payouts, err := f.eng.ListPayouts(ctx, c.ID)
	require.NoError(t, err)
	var sum domain.Amount
	for _, p := range payouts {
		sum += p.Amount
	}
	// 2850 + 140 + 570 + 380 + 30 + 30
	assert.Equal(t, domain.Amount(4000), sum)
}

func TestFinalize_UnverifiedBetsExcluded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, "c1", 1000)
	f.enrollN(t, c, 3)

	f.at(competing)
	f.bet(t, c, "A", "a1", 300, true)
	pending := f.bet(t, c, "B", "a1", 200, false)
	f.bet(t, c, "C", "a1", 1000, false)

	f.verifier.Approve(pending.TxHash)
	res, err := f.eng.ReconcilePayments(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.BetsVerified)

	f.at(settling)
	st, err := f.eng.Finalize(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(500), st.BetPool)
	// 500 × 95 × 300 / (100 × 500) = 285
	assert.Equal(t, domain.Amount(285), planFor(st, "A", domain.PayoutBetWinnings))
	assert.Equal(t, domain.Amount(190), planFor(st, "B", domain.PayoutBetWinnings))
	assert.Zero(t, planFor(st, "C", domain.PayoutBetWinnings))

	_, err = f.eng.ReconcilePayments(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)
}

func TestFinalize_UnverifiedEntriesExcluded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, "c1", 1000)
	f.enrollN(t, c, 2)

	f.at(3 * time.Minute)
	_, err := f.eng.Enroll(ctx, c.ID, "w3", escrow.Agent{ID: "a3"},
		&escrow.PaymentProof{TxHash: entryTx("w3"), Amount: 1000})
	require.NoError(t, err)

	f.at(settling)
	st, err := f.eng.Finalize(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(2000), st.EntryPool)
	assert.Equal(t, domain.Amount(1900), planFor(st, "w1", domain.PayoutEntryPrize))
	assert.Equal(t, domain.Amount(80), planFor(st, "creator", domain.PayoutEntryPrize))
	require.Len(t, st.PlatformFees, 1)
	assert.Equal(t, domain.Amount(20), st.PlatformFees[0].Amount)
}

func TestFinalize_NothingVerifiedPaysNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, "c1", 1000)
	f.enrollPending(t, c, 3)

	f.at(settling)
	st, err := f.eng.Finalize(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, st.EntryPool)
	assert.Empty(t, st.Plan)
	assert.Empty(t, st.PlatformFees)

	_, err = f.eng.Claim(ctx, c.ID, st.WinnerWallet)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	payouts, err := f.eng.ListPayouts(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, payouts)
}

// racingStore confirma una apuesta justo después de que Finalize lea los
// totales, como haría un ConfirmBet concurrente.
type racingStore struct {
	*storage.SQLiteStorage
	betID string
	once  sync.Once
}

func (s *racingStore) VerifiedBetTotals(ctx context.Context, challengeID string) (domain.BetTotals, error) {
	totals, err := s.SQLiteStorage.VerifiedBetTotals(ctx, challengeID)
	s.once.Do(func() {
		_ = s.SQLiteStorage.MarkBetVerified(ctx, s.betID)
	})
	return totals, err
}

func TestFinalize_PaymentConfirmedMidwayIsIncluded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, "c1", 1000)
	f.enrollN(t, c, 3)
	f.at(competing)
	b := f.bet(t, c, "A", "a1", 100, false)

	eng := escrow.New(escrow.Config{
		PlatformWallet: "platform",
		MinAgents:      3,
		Clock:          f.clock.Now,
	}, &racingStore{SQLiteStorage: f.store, betID: b.ID}, f.verifier, f.oracle, nil)

	f.at(settling)
	st, err := eng.Finalize(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(100), st.BetPool)
	assert.Equal(t, domain.Amount(95), planFor(st, "A", domain.PayoutBetWinnings))

	_, err = f.eng.ConfirmBet(ctx, c.ID, b.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)
}

func TestFinalize_PhaseAndAgentErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, "c1", 1000)
	f.enrollN(t, c, 3)

	f.at(judging)
	_, err := f.eng.Finalize(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)

	_, err = f.eng.Claim(ctx, c.ID, "w1")
	assert.ErrorIs(t, err, domain.ErrNotSettled)

	f.at(settling)
	_, err = f.eng.Finalize(ctx, c.ID)
	require.NoError(t, err)

	_, err = f.eng.Finalize(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)

	_, err = f.eng.Finalize(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrChallengeNotFound)
}

func TestFinalize_TooFewLiveAgents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, "c1", 1000)
	f.enrollN(t, c, 3)

	f.at(competing)
	_, err := f.eng.Reveal(ctx, c.ID, "w3")
	require.NoError(t, err)
	_, err = f.eng.Withdraw(ctx, c.ID, "w3")
	require.NoError(t, err)

	f.at(settling)
	_, err = f.eng.Finalize(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrTooFewAgents)

	// Sin quórum el creador puede cancelar y cada uno recupera su entrada
	_, err = f.eng.Cancel(ctx, c.ID, "creator")
	require.NoError(t, err)

	res, err := f.eng.Claim(ctx, c.ID, "w1")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(1000), res.TotalPayout)
	_, err = f.eng.Claim(ctx, c.ID, "w3")
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestFinalize_TieBreaks(t *testing.T) {
	t.Run("no votes picks earliest enrollment", func(t *testing.T) {
		f := newFixture(t)
		c := f.create(t, "c1", 1000)
		f.enrollN(t, c, 3)

		f.at(settling)
		st, err := f.eng.Finalize(context.Background(), c.ID)
		require.NoError(t, err)
		assert.Equal(t, "a1", st.WinnerAgentID)
	})

	t.Run("equal votes picks earliest enrollment", func(t *testing.T) {
		f := newFixture(t)
		c := f.create(t, "c1", 1000)
		f.enrollN(t, c, 3)

		f.at(judging)
		f.vote(t, c, "v1", "a3")
		f.vote(t, c, "v2", "a2")

		f.at(settling)
		st, err := f.eng.Finalize(context.Background(), c.ID)
		require.NoError(t, err)
		assert.Equal(t, "a2", st.WinnerAgentID)
	})

	t.Run("withdrawn agents never win", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		c := f.create(t, "c1", 1000)
		f.enrollN(t, c, 4)

		f.at(competing)
		_, err := f.eng.Reveal(ctx, c.ID, "w1")
		require.NoError(t, err)
		_, err = f.eng.Withdraw(ctx, c.ID, "w1")
		require.NoError(t, err)

		f.at(settling)
		st, err := f.eng.Finalize(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "a2", st.WinnerAgentID)
		assert.Equal(t, domain.Amount(3000), st.EntryPool)
	})
}

func TestFinalize_ConcurrentOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, "c1", 1000)
	f.enrollN(t, c, 3)
	f.at(competing)
	f.bet(t, c, "A", "a1", 100, true)
	f.at(settling)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.eng.Finalize(ctx, c.ID)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	payouts, err := f.eng.ListPayouts(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, payouts, 2, "one platform_entry_fee and one platform_bet_fee")
}

// --- Claim ---

func TestClaim_ConcurrentAtMostOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, "c1", 1000)
	f.enrollN(t, c, 3)
	f.at(settling)
	_, err := f.eng.Finalize(ctx, c.ID)
	require.NoError(t, err)

	const n = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.eng.Claim(ctx, c.ID, "w1")
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	payouts, err := f.eng.ListPayouts(ctx, c.ID)
	require.NoError(t, err)
	var w1Rows int
	for _, p := range payouts {
		if p.RecipientWallet == "w1" {
			w1Rows++
		}
	}
	assert.Equal(t, 1, w1Rows)
}

func TestClaim_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.eng.Claim(ctx, "c1", "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = f.eng.Claim(ctx, "missing", "w1")
	assert.ErrorIs(t, err, domain.ErrChallengeNotFound)
	_, err = f.eng.ListPayouts(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrChallengeNotFound)
}

// --- Cancel ---

func TestCancel_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, "c1", 1000)
	f.enrollN(t, c, 2)

	_, err := f.eng.Cancel(ctx, c.ID, "stranger")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = f.eng.Cancel(ctx, c.ID, "creator")
	assert.ErrorIs(t, err, domain.ErrCannotCancel, "creator waits for enrollment to close")

	f.at(competing)
	got, err := f.eng.Cancel(ctx, c.ID, "creator")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	_, err = f.eng.Cancel(ctx, c.ID, "platform")
	assert.ErrorIs(t, err, domain.ErrCannotCancel)

	view, err := f.eng.GetChallenge(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCancelled, view.Phase)
}

func TestCancel_CreatorBlockedWithQuorum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, "c1", 1000)
	f.enrollN(t, c, 3)

	f.at(competing)
	_, err := f.eng.Cancel(ctx, c.ID, "creator")
	assert.ErrorIs(t, err, domain.ErrCannotCancel)

	_, err = f.eng.Cancel(ctx, c.ID, "platform")
	require.NoError(t, err)
}

func TestCancel_CompletedCannotBeCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, "c1", 1000)
	f.enrollN(t, c, 3)
	f.at(settling)
	_, err := f.eng.Finalize(ctx, c.ID)
	require.NoError(t, err)

	_, err = f.eng.Cancel(ctx, c.ID, "platform")
	assert.ErrorIs(t, err, domain.ErrCannotCancel)
}

func TestCancel_RefundsEntriesAndVerifiedBets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, "c1", 1000)
	f.enrollN(t, c, 4)

	f.at(0)
	_, err := f.eng.Enroll(ctx, c.ID, "free", escrow.Agent{ID: "free-agent"}, nil)
	require.NoError(t, err)

	f.at(competing)
	f.bet(t, c, "A", "a1", 300, true)
	f.bet(t, c, "A", "a2", 50, true)
	f.bet(t, c, "A", "a3", 100, false)
	f.bet(t, c, "w2", "a1", 40, true)

	_, err = f.eng.Reveal(ctx, c.ID, "w4")
	require.NoError(t, err)
	_, err = f.eng.Withdraw(ctx, c.ID, "w4")
	require.NoError(t, err)

	_, err = f.eng.Cancel(ctx, c.ID, "platform")
	require.NoError(t, err)

	_, err = f.eng.Finalize(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)
	_, err = f.eng.PlaceBet(ctx, c.ID, "B", "a1", 10, "0xlate")
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)

	res, err := f.eng.Claim(ctx, c.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(350), res.TotalPayout)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, domain.PayoutBetRefund, res.Entries[0].Type)

	res, err = f.eng.Claim(ctx, c.ID, "w2")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(1040), res.TotalPayout)
	assert.Len(t, res.Entries, 2)

	_, err = f.eng.Claim(ctx, c.ID, "w2")
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	_, err = f.eng.Claim(ctx, c.ID, "w4")
	assert.ErrorIs(t, err, domain.ErrNothingToClaim, "withdrawn entries were refunded at withdrawal")
	_, err = f.eng.Claim(ctx, c.ID, "free")
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestCancel_UnverifiedEntryIsNotRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, "c1", 1000)
	f.enrollPending(t, c, 2)

	f.at(competing)
	_, err := f.eng.Cancel(ctx, c.ID, "creator")
	require.NoError(t, err)

	_, err = f.eng.Claim(ctx, c.ID, "w1")
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	// Un pago confirmado tras la cancelación sí se reembolsa
	f.verifier.Approve(entryTx("w2"))
	res, err := f.eng.ReconcilePayments(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.EntriesVerified)

	claim, err := f.eng.Claim(ctx, c.ID, "w2")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(1000), claim.TotalPayout)
	assert.Equal(t, domain.PayoutEntryRefund, claim.Entries[0].Type)
}

// --- Conservación ---

func TestLedgerNeverExceedsDeposits(t *testing.T) {
	fees := []domain.Amount{1, 7, 333, 1001}
	for _, fee := range fees {
		t.Run(fmt.Sprintf("fee_%d", fee), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			c := f.create(t, "c1", fee)
			f.enrollN(t, c, 5)
			deposits := 5 * fee

			f.at(competing)
			for i, amt := range []domain.Amount{13, 101, 7, 999, 1} {
				agent := fmt.Sprintf("a%d", i%3+1)
				f.bet(t, c, fmt.Sprintf("b%d", i), agent, amt, true)
				deposits += amt
			}
			f.bet(t, c, "late", "a1", 500, false)

			_, err := f.eng.Reveal(ctx, c.ID, "w5")
			require.NoError(t, err)
			f.at(competing + time.Minute)
			_, err = f.eng.Withdraw(ctx, c.ID, "w5")
			require.NoError(t, err)

			f.at(judging)
			f.vote(t, c, "v1", "a1")

			f.at(settling)
			st, err := f.eng.Finalize(ctx, c.ID)
			require.NoError(t, err)
			for _, pe := range st.Plan {
				_, err := f.eng.Claim(ctx, c.ID, pe.Wallet)
				if err != nil {
					assert.ErrorIs(t, err, domain.ErrAlreadyClaimed, pe.Wallet)
				}
			}

			payouts, err := f.eng.ListPayouts(ctx, c.ID)
			require.NoError(t, err)
			var paid domain.Amount
			for _, p := range payouts {
				assert.Positive(t, int64(p.Amount))
				paid += p.Amount
			}
			assert.LessOrEqual(t, int64(paid), int64(deposits))
		})
	}
}
