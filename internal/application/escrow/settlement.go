package escrow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

// finalizeAttempts acota los reintentos cuando un pago se verifica mientras
// Finalize calcula el plan.
const finalizeAttempts = 3

// Finalize cierra un challenge cuyo juicio terminó: elige ganador,
// materializa el plan de pagos y escribe las fees de plataforma, todo en
// una transacción del store. Solo una llamada concurrente gana.
//
// Solo cuenta dinero verificado: el entry pool es entryFee por inscripción
// viva con el pago confirmado y el bet pool, la suma de apuestas confirmadas.
func (e *Engine) Finalize(ctx context.Context, challengeID string) (domain.Settlement, error) {
	for attempt := 1; ; attempt++ {
		st, err := e.finalize(ctx, challengeID)
		if errors.Is(err, domain.ErrStatusConflict) && attempt < finalizeAttempts {
			slog.Debug("escrow: pools changed during finalize, retrying", "challenge", challengeID, "attempt", attempt)
			continue
		}
		if err != nil {
			return st, err
		}
		if e.notifier != nil {
			if err := e.notifier.NotifySettlement(ctx, st); err != nil {
				slog.Warn("escrow: settlement notification failed", "challenge", challengeID, "err", err)
			}
		}
		return st, nil
	}
}

func (e *Engine) finalize(ctx context.Context, challengeID string) (domain.Settlement, error) {
	now := e.now()
	c, _, err := e.load(ctx, challengeID, domain.ActionFinalize, now)
	if err != nil {
		return domain.Settlement{}, err
	}

	enrollments, err := e.store.ListEnrollments(ctx, challengeID)
	if err != nil {
		return domain.Settlement{}, err
	}
	live := 0
	for _, en := range enrollments {
		if en.IsLive() {
			live++
		}
	}
	if live < e.cfg.MinAgents {
		return domain.Settlement{}, domain.ErrTooFewAgents
	}

	winner, ok := domain.SelectWinner(enrollments)
	if !ok {
		return domain.Settlement{}, domain.ErrTooFewAgents
	}

	entryPool, err := domain.FundedEntryPool(enrollments, c.EntryFee)
	if err != nil {
		return domain.Settlement{}, err
	}
	bets, err := e.store.VerifiedBetTotals(ctx, challengeID)
	if err != nil {
		return domain.Settlement{}, err
	}

	plan, platform := domain.BuildPlan(domain.PlanInput{
		ChallengeID:    challengeID,
		CreatorWallet:  c.CreatorWallet,
		PlatformWallet: e.cfg.PlatformWallet,
		WinnerAgentID:  winner.AgentID,
		WinnerWallet:   winner.OwnerWallet,
		EntryPool:      entryPool,
		Bets:           bets,
	})

	st := domain.Settlement{
		ChallengeID:   challengeID,
		WinnerAgentID: winner.AgentID,
		WinnerWallet:  winner.OwnerWallet,
		WinnerVotes:   winner.VoteCount,
		EntryPool:     entryPool,
		BetPool:       bets.Pool,
		Plan:          plan,
		FinalizedAt:   now,
	}
	for _, p := range platform {
		st.PlatformFees = append(st.PlatformFees, newPayout(challengeID, p.Wallet, p.Type, p.Amount, now))
	}

	if err := e.store.FinalizeChallenge(ctx, st); err != nil {
		return domain.Settlement{}, err
	}

	slog.Info("escrow: challenge finalized",
		"challenge", challengeID, "winner", winner.AgentID, "votes", winner.VoteCount,
		"entry_pool", st.EntryPool, "bet_pool", st.BetPool, "plan_rows", len(plan))
	return st, nil
}

// Claim escribe los payouts pendientes de wallet, una sola vez.
//
// En un challenge completado la cantidad sale del plan materializado en
// Finalize. En uno cancelado son reembolsos: el entry fee si la wallet
// tiene una inscripción viva con el pago verificado, y sus apuestas verificadas.
func (e *Engine) Claim(ctx context.Context, challengeID, wallet string) (domain.ClaimResult, error) {
	if wallet == "" {
		return domain.ClaimResult{}, domain.ErrInvalidRequest
	}

	now := e.now()
	c, _, err := e.load(ctx, challengeID, domain.ActionClaim, now)
	if err != nil {
		return domain.ClaimResult{}, err
	}

	claimed, err := e.store.HasClaimed(ctx, challengeID, wallet)
	if err != nil {
		return domain.ClaimResult{}, err
	}
	if claimed {
		return domain.ClaimResult{}, domain.ErrAlreadyClaimed
	}

	entries, err := e.entitlement(ctx, c, wallet)
	if err != nil {
		return domain.ClaimResult{}, err
	}

	res := domain.ClaimResult{ChallengeID: challengeID, Wallet: wallet}
	for _, pe := range entries {
		if !pe.Type.IsClaimType() || pe.Amount <= 0 {
			continue
		}
		if res.TotalPayout, err = res.TotalPayout.Add(pe.Amount); err != nil {
			return domain.ClaimResult{}, err
		}
		res.Entries = append(res.Entries, newPayout(challengeID, wallet, pe.Type, pe.Amount, now))
	}
	if len(res.Entries) == 0 {
		return domain.ClaimResult{}, domain.ErrNothingToClaim
	}

	if err := e.store.InsertClaim(ctx, challengeID, wallet, res.Entries); err != nil {
		return domain.ClaimResult{}, err
	}

	slog.Info("escrow: claimed", "challenge", challengeID, "wallet", wallet,
		"total", res.TotalPayout, "rows", len(res.Entries))
	return res, nil
}

func (e *Engine) entitlement(ctx context.Context, c domain.Challenge, wallet string) ([]domain.PlanEntry, error) {
	if c.Status == domain.StatusCompleted {
		return e.store.GetPlan(ctx, c.ID, wallet)
	}

	var enrollment *domain.Enrollment
	en, err := e.store.GetEnrollmentByWallet(ctx, c.ID, wallet)
	switch {
	case err == nil:
		enrollment = &en
	case !errors.Is(err, domain.ErrNotEnrolled):
		return nil, err
	}

	totals, err := e.store.VerifiedBetTotals(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return domain.CancelRefunds(c, wallet, enrollment, totals.WalletTotal(wallet)), nil
}

// ListPayouts devuelve el ledger completo de un challenge.
func (e *Engine) ListPayouts(ctx context.Context, challengeID string) ([]domain.Payout, error) {
	if _, err := e.store.GetChallenge(ctx, challengeID); err != nil {
		return nil, err
	}
	return e.store.ListPayouts(ctx, challengeID)
}
