package escrow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

// CreateChallengeRequest son los datos que fija el creador.
type CreateChallengeRequest struct {
	ID          string // opcional; se genera si viene vacío
	Title       string
	Description string
	EntryFee    domain.Amount
	EnrollEnd   time.Time
	CompeteEnd  time.Time
	JudgeEnd    time.Time
}

// ChallengeView es un challenge con su fase efectiva.
type ChallengeView struct {
	domain.Challenge
	Phase      domain.Phase
	LiveAgents int
}

// CreateChallenge valida y registra un challenge nuevo en estado enrolling.
func (e *Engine) CreateChallenge(ctx context.Context, creator string, req CreateChallengeRequest) (domain.Challenge, error) {
	if strings.TrimSpace(creator) == "" {
		return domain.Challenge{}, domain.ErrInvalidRequest
	}
	if req.EntryFee < e.cfg.MinEntryFee {
		return domain.Challenge{}, domain.ErrFeeTooLow
	}

	now := e.now()
	c := domain.Challenge{
		ID:            req.ID,
		CreatorWallet: creator,
		Title:         req.Title,
		Description:   req.Description,
		EntryFee:      req.EntryFee,
		EnrollEnd:     req.EnrollEnd.UTC().Truncate(time.Millisecond),
		CompeteEnd:    req.CompeteEnd.UTC().Truncate(time.Millisecond),
		JudgeEnd:      req.JudgeEnd.UTC().Truncate(time.Millisecond),
		Status:        domain.StatusEnrolling,
		CreatedAt:     now,
	}
	if err := c.ValidateDeadlines(now); err != nil {
		return domain.Challenge{}, err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	if err := e.store.CreateChallenge(ctx, c); err != nil {
		return domain.Challenge{}, err
	}
	slog.Info("escrow: challenge created",
		"challenge", c.ID, "creator", creator, "entry_fee", c.EntryFee,
		"enroll_end", c.EnrollEnd, "judge_end", c.JudgeEnd)
	return c, nil
}

// GetChallenge devuelve el challenge con su fase en este instante.
// Es de solo lectura: no adelanta el status guardado.
func (e *Engine) GetChallenge(ctx context.Context, id string) (ChallengeView, error) {
	c, err := e.store.GetChallenge(ctx, id)
	if err != nil {
		return ChallengeView{}, err
	}
	n, err := e.store.CountLiveEnrollments(ctx, id)
	if err != nil {
		return ChallengeView{}, err
	}
	return ChallengeView{Challenge: c, Phase: domain.CurrentPhase(c, e.now()), LiveAgents: n}, nil
}

// Cancel cancela un challenge no terminal.
//
// La wallet de plataforma puede cancelar en cualquier fase no terminal.
// El creador solo cuando la inscripción cerró sin llegar a MinAgents.
// Tras cancelar, cada wallet recupera entry fee y apuestas con Claim.
func (e *Engine) Cancel(ctx context.Context, id, caller string) (domain.Challenge, error) {
	now := e.now()
	c, err := e.store.GetChallenge(ctx, id)
	if err != nil {
		return c, err
	}
	if c.Status.IsTerminal() {
		return c, domain.ErrCannotCancel
	}

	switch {
	case caller != "" && caller == e.cfg.PlatformWallet:
	case caller != "" && caller == c.CreatorWallet:
		if domain.CurrentPhase(c, now) == domain.PhaseEnrolling {
			return c, domain.ErrCannotCancel
		}
		n, err := e.store.CountLiveEnrollments(ctx, id)
		if err != nil {
			return c, err
		}
		if n >= e.cfg.MinAgents {
			return c, domain.ErrCannotCancel
		}
	default:
		return c, domain.ErrNotAuthorized
	}

	if _, _, err := e.load(ctx, id, domain.ActionCancel, now); err != nil {
		return c, err
	}
	if err := e.store.CancelChallenge(ctx, id, now); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return c, domain.ErrCannotCancel
		}
		return c, err
	}

	c.Status = domain.StatusCancelled
	c.FinalizedAt = &now
	slog.Info("escrow: challenge cancelled", "challenge", id, "by", caller)
	return c, nil
}
