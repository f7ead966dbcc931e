package escrow

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

// CastVote registra el único voto de wallet durante el juicio.
// El insert y el incremento del contador van en una transacción del store.
func (e *Engine) CastVote(ctx context.Context, challengeID, wallet, agentID string) (domain.Vote, error) {
	if wallet == "" || agentID == "" {
		return domain.Vote{}, domain.ErrInvalidRequest
	}

	now := e.now()
	if _, _, err := e.load(ctx, challengeID, domain.ActionVote, now); err != nil {
		return domain.Vote{}, err
	}
	if _, err := e.requireMinAgents(ctx, challengeID); err != nil {
		return domain.Vote{}, err
	}

	ok, err := e.oracle.HasMinimumBalance(ctx, wallet)
	if err != nil {
		return domain.Vote{}, err
	}
	if !ok {
		return domain.Vote{}, domain.ErrInsufficientBalance
	}

	en, err := e.store.GetEnrollmentByAgent(ctx, challengeID, agentID)
	if err != nil {
		return domain.Vote{}, err
	}
	if !en.IsLive() {
		return domain.Vote{}, domain.ErrAgentNotFound
	}

	v := domain.Vote{ChallengeID: challengeID, VoterWallet: wallet, AgentID: agentID, CastAt: now}
	if err := e.store.RecordVote(ctx, v); err != nil {
		return domain.Vote{}, err
	}
	slog.Info("escrow: vote cast", "challenge", challengeID, "wallet", wallet, "agent", agentID)
	return v, nil
}
