package escrow

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

// Agent identifica al agente que compite por una wallet.
type Agent struct {
	ID       string
	Name     string
	Metadata string // JSON opaco
}

// PaymentProof es la transacción con la que se pagó el entry fee.
type PaymentProof struct {
	TxHash string
	Amount domain.Amount
}

// Enroll inscribe a wallet con su agente. Con payment, comprueba la
// transacción contra (wallet, entry fee) y reserva su hash en el store en la
// misma escritura que suma el entry fee al pool. Una transacción que ya se
// ve en la cadena y no encaja se rechaza sin reservar nada.
func (e *Engine) Enroll(ctx context.Context, challengeID, wallet string, agent Agent, payment *PaymentProof) (domain.Enrollment, error) {
	if strings.TrimSpace(wallet) == "" || strings.TrimSpace(agent.ID) == "" {
		return domain.Enrollment{}, domain.ErrInvalidRequest
	}

	now := e.now()
	c, _, err := e.load(ctx, challengeID, domain.ActionEnroll, now)
	if err != nil {
		return domain.Enrollment{}, err
	}

	en := domain.Enrollment{
		ID:            uuid.New().String(),
		ChallengeID:   challengeID,
		AgentID:       agent.ID,
		OwnerWallet:   wallet,
		AgentName:     agent.Name,
		AgentMetadata: agent.Metadata,
		Status:        domain.EnrollmentEnrolled,
		EnrolledAt:    now,
	}

	var entryAmount domain.Amount
	if payment != nil {
		if payment.TxHash == "" {
			return domain.Enrollment{}, domain.ErrInvalidRequest
		}
		if payment.Amount != c.EntryFee {
			return domain.Enrollment{}, domain.ErrWrongEntryAmount
		}
		if _, err := c.TotalEntryPool.Add(c.EntryFee); err != nil {
			return domain.Enrollment{}, err
		}
		en.EntryTxHash = payment.TxHash
		st, err := e.verifyPayment(ctx, domain.EntryPaymentFor(en, c.EntryFee))
		if err != nil {
			return domain.Enrollment{}, err
		}
		if st == domain.PaymentRejected {
			return domain.Enrollment{}, domain.ErrPaymentRejected
		}
		en.EntryVerified = st == domain.PaymentVerified
		entryAmount = c.EntryFee
	}

	if err := e.store.InsertEnrollment(ctx, en, entryAmount, e.cfg.MaxAgents); err != nil {
		return domain.Enrollment{}, err
	}
	slog.Info("escrow: enrolled",
		"challenge", challengeID, "wallet", wallet, "agent", agent.ID,
		"paid", payment != nil, "verified", en.EntryVerified)
	return en, nil
}

// Reveal abre la ventana personal de competición: enrolled → revealed.
// Los deadlines personales nunca pasan del competeEnd del challenge.
func (e *Engine) Reveal(ctx context.Context, challengeID, wallet string) (domain.Enrollment, error) {
	now := e.now()
	c, _, err := e.load(ctx, challengeID, domain.ActionReveal, now)
	if err != nil {
		return domain.Enrollment{}, err
	}

	en, err := e.store.GetEnrollmentByWallet(ctx, challengeID, wallet)
	if err != nil {
		return domain.Enrollment{}, err
	}
	switch en.Status {
	case domain.EnrollmentWithdrawn:
		return en, domain.ErrAlreadyWithdrawn
	case domain.EnrollmentRevealed, domain.EnrollmentSubmitted:
		return en, domain.ErrAlreadyRevealed
	}

	competeDL, refundDL := domain.RevealWindows(now, c.CompeteEnd, e.cfg.CompeteWindow, e.cfg.RefundWindow)
	if err := e.store.MarkRevealed(ctx, en.ID, now, competeDL, refundDL); err != nil {
		return en, err
	}

	en.Status = domain.EnrollmentRevealed
	en.RevealedAt = &now
	en.CompeteDeadline = &competeDL
	en.RefundDeadline = &refundDL
	slog.Info("escrow: revealed", "challenge", challengeID, "wallet", wallet,
		"compete_deadline", competeDL, "refund_deadline", refundDL)
	return en, nil
}

// Submit registra la solución: revealed → submitted, antes del compete deadline.
func (e *Engine) Submit(ctx context.Context, challengeID, wallet, solutionURL, commitHash string) (time.Time, error) {
	if !validSolutionURL(solutionURL) {
		return time.Time{}, domain.ErrInvalidURL
	}

	now := e.now()
	if _, _, err := e.load(ctx, challengeID, domain.ActionSubmit, now); err != nil {
		return time.Time{}, err
	}

	en, err := e.store.GetEnrollmentByWallet(ctx, challengeID, wallet)
	if err != nil {
		return time.Time{}, err
	}
	if err := en.CheckSubmit(now); err != nil {
		return time.Time{}, err
	}
	if err := e.store.MarkSubmitted(ctx, en.ID, now, solutionURL, commitHash); err != nil {
		return time.Time{}, err
	}

	slog.Info("escrow: submitted", "challenge", challengeID, "wallet", wallet, "url", solutionURL)
	return now, nil
}

// Withdraw retira una inscripción revelada antes del refund deadline.
// Devuelve el 98% del entry fee; el resto es el peek fee de la plataforma.
func (e *Engine) Withdraw(ctx context.Context, challengeID, wallet string) (domain.WithdrawResult, error) {
	now := e.now()
	c, _, err := e.load(ctx, challengeID, domain.ActionWithdraw, now)
	if err != nil {
		return domain.WithdrawResult{}, err
	}

	en, err := e.store.GetEnrollmentByWallet(ctx, challengeID, wallet)
	if err != nil {
		return domain.WithdrawResult{}, err
	}
	if err := en.CheckWithdraw(now); err != nil {
		return domain.WithdrawResult{}, err
	}

	refund, peek := domain.WithdrawalSplit(c.EntryFee)
	var payouts []domain.Payout
	if refund > 0 {
		payouts = append(payouts, newPayout(challengeID, wallet, domain.PayoutWithdrawalRefund, refund, now))
	}
	if peek > 0 {
		payouts = append(payouts, newPayout(challengeID, e.cfg.PlatformWallet, domain.PayoutWithdrawalPeekFee, peek, now))
	}

	if err := e.store.WithdrawEnrollment(ctx, en, c.EntryFee, payouts); err != nil {
		return domain.WithdrawResult{}, err
	}

	slog.Info("escrow: withdrawn", "challenge", challengeID, "wallet", wallet,
		"refund", refund, "peek_fee", peek)
	return domain.WithdrawResult{RefundAmount: refund, PeekFee: peek}, nil
}

// verifyPayment consulta al adaptador. Un fallo de la cadena no bloquea la
// operación: el pago queda pendiente hasta la reconciliación. Un hash mal
// formado sí es un error del caller.
func (e *Engine) verifyPayment(ctx context.Context, p domain.Payment) (domain.PaymentStatus, error) {
	st, err := e.verifier.Verify(ctx, p)
	if err == nil {
		return st, nil
	}
	if domain.KindOf(err) == domain.KindValidation {
		return domain.PaymentPending, err
	}
	slog.Warn("escrow: payment verification failed", "kind", p.Kind, "tx", p.TxHash, "err", err)
	return domain.PaymentPending, nil
}

func validSolutionURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
