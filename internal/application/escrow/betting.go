package escrow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

// PlaceBet registra una apuesta sobre un agente vivo durante la competición.
// La apuesta entra en el bet pool al momento; solo cuenta para el reparto
// cuando su pago está verificado, es decir, cuando la transacción paga
// exactamente amount desde wallet al escrow.
func (e *Engine) PlaceBet(ctx context.Context, challengeID, wallet, agentID string, amount domain.Amount, txHash string) (domain.Bet, error) {
	if amount <= 0 {
		return domain.Bet{}, domain.ErrInvalidAmount
	}
	if strings.TrimSpace(wallet) == "" || strings.TrimSpace(txHash) == "" {
		return domain.Bet{}, domain.ErrInvalidRequest
	}

	now := e.now()
	c, _, err := e.load(ctx, challengeID, domain.ActionBet, now)
	if err != nil {
		return domain.Bet{}, err
	}
	if wallet == c.CreatorWallet {
		return domain.Bet{}, domain.ErrCreatorCannotBet
	}
	if _, err := e.requireMinAgents(ctx, challengeID); err != nil {
		return domain.Bet{}, err
	}

	en, err := e.store.GetEnrollmentByAgent(ctx, challengeID, agentID)
	if err != nil {
		return domain.Bet{}, err
	}
	if !en.IsLive() {
		return domain.Bet{}, domain.ErrAgentNotFound
	}
	if _, err := c.TotalBetPool.Add(amount); err != nil {
		return domain.Bet{}, err
	}

	b := domain.Bet{
		ID:           uuid.New().String(),
		ChallengeID:  challengeID,
		BettorWallet: wallet,
		AgentID:      agentID,
		Amount:       amount,
		TxHash:       txHash,
		PlacedAt:     now,
	}
	st, err := e.verifyPayment(ctx, domain.BetPaymentFor(b))
	if err != nil {
		return domain.Bet{}, err
	}
	if st == domain.PaymentRejected {
		return domain.Bet{}, domain.ErrPaymentRejected
	}
	b.Verified = st == domain.PaymentVerified
	if err := e.store.InsertBet(ctx, b); err != nil {
		return domain.Bet{}, err
	}

	slog.Info("escrow: bet placed", "challenge", challengeID, "wallet", wallet,
		"agent", agentID, "amount", amount, "verified", b.Verified)
	return b, nil
}

// ConfirmBet vuelve a consultar el pago de una apuesta y la marca como
// verificada si el adaptador lo confirma. Un pago rechazado devuelve
// ErrPaymentRejected y la apuesta sigue sin contar.
func (e *Engine) ConfirmBet(ctx context.Context, challengeID, betID string) (domain.Bet, error) {
	c, err := e.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return domain.Bet{}, err
	}
	if c.Status == domain.StatusCompleted {
		return domain.Bet{}, domain.ErrAlreadyFinalized
	}

	bets, err := e.store.ListBets(ctx, challengeID)
	if err != nil {
		return domain.Bet{}, err
	}
	for _, b := range bets {
		if b.ID != betID {
			continue
		}
		if b.Verified {
			return b, nil
		}
		st, err := e.verifyPayment(ctx, domain.BetPaymentFor(b))
		if err != nil {
			return b, err
		}
		switch st {
		case domain.PaymentRejected:
			return b, domain.ErrPaymentRejected
		case domain.PaymentPending:
			return b, nil
		}
		// El store vuelve a comprobar el status: Finalize puede haber ganado la carrera.
		if err := e.store.MarkBetVerified(ctx, b.ID); err != nil {
			return b, err
		}
		b.Verified = true
		slog.Info("escrow: bet verified", "challenge", challengeID, "bet", b.ID)
		return b, nil
	}
	return domain.Bet{}, domain.ErrBetNotFound
}

// ReconcileResult resume una pasada de reconciliación.
type ReconcileResult struct {
	EntriesVerified int
	BetsVerified    int
	Rejected        int // transacciones que nunca respaldarán su registro
	StillPending    int
}

// ReconcilePayments recorre los pagos sin verificar de un challenge y marca
// los que el adaptador ya confirma. Las consultas van en paralelo; las
// escrituras en serie. Tras Finalize el plan está fijado y no se reconcilia.
func (e *Engine) ReconcilePayments(ctx context.Context, challengeID string) (ReconcileResult, error) {
	var res ReconcileResult

	c, err := e.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return res, err
	}
	if c.Status == domain.StatusCompleted {
		return res, domain.ErrAlreadyFinalized
	}

	enrollments, err := e.store.ListEnrollments(ctx, challengeID)
	if err != nil {
		return res, err
	}
	bets, err := e.store.ListBets(ctx, challengeID)
	if err != nil {
		return res, err
	}

	var pending []domain.Payment
	for _, en := range enrollments {
		if en.HasEntryPayment() && !en.EntryVerified {
			pending = append(pending, domain.EntryPaymentFor(en, c.EntryFee))
		}
	}
	for _, b := range bets {
		if !b.Verified {
			pending = append(pending, domain.BetPaymentFor(b))
		}
	}
	if len(pending) == 0 {
		return res, nil
	}

	statuses := e.verifyConcurrent(ctx, pending, e.cfg.VerifyWorkers)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	for _, p := range pending {
		switch statuses[p.TxHash] {
		case domain.PaymentPending:
			res.StillPending++
			continue
		case domain.PaymentRejected:
			res.Rejected++
			continue
		}
		if p.Kind == domain.PaymentEntry {
			if err := e.store.MarkEntryVerified(ctx, p.RefID); err != nil {
				return res, err
			}
			res.EntriesVerified++
			continue
		}
		if err := e.store.MarkBetVerified(ctx, p.RefID); err != nil {
			return res, err
		}
		res.BetsVerified++
	}

	slog.Info("escrow: payments reconciled", "challenge", challengeID,
		"entries", res.EntriesVerified, "bets", res.BetsVerified,
		"rejected", res.Rejected, "pending", res.StillPending)
	return res, nil
}
