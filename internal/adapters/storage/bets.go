package storage

import (
	"context"
	"database/sql"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

// InsertBet registra la apuesta, reserva su tx hash e incrementa el bet pool.
func (s *SQLiteStorage) InsertBet(ctx context.Context, b domain.Bet) error {
	const op = "storage.InsertBet"
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		if err := insertProof(ctx, tx, op, b.TxHash, b.ChallengeID, "bet", b.ID, b.PlacedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bets (id, challenge_id, bettor_wallet, agent_id, amount, tx_hash, verified, placed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.ChallengeID, b.BettorWallet, b.AgentID, int64(b.Amount), b.TxHash,
			boolToInt(b.Verified), toMillis(b.PlacedAt),
		)
		if err != nil {
			return domain.StoreErr(op+": insert", err)
		}
		return addToPool(ctx, tx, op, "total_bet_pool", b.ChallengeID, b.Amount)
	})
}

// ListBets devuelve todas las apuestas de un challenge, verificadas o no.
func (s *SQLiteStorage) ListBets(ctx context.Context, challengeID string) ([]domain.Bet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, challenge_id, bettor_wallet, agent_id, amount, tx_hash, verified, placed_at
		FROM bets WHERE challenge_id = ?
		ORDER BY placed_at ASC, id ASC`, challengeID)
	if err != nil {
		return nil, domain.StoreErr("storage.ListBets: query", err)
	}
	defer rows.Close()

	var out []domain.Bet
	for rows.Next() {
		var (
			b        domain.Bet
			amount   int64
			verified int
			placedAt int64
		)
		if err := rows.Scan(&b.ID, &b.ChallengeID, &b.BettorWallet, &b.AgentID,
			&amount, &b.TxHash, &verified, &placedAt); err != nil {
			return nil, domain.StoreErr("storage.ListBets: scan row", err)
		}
		b.Amount = domain.Amount(amount)
		b.Verified = verified == 1
		b.PlacedAt = fromMillis(placedAt)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreErr("storage.ListBets: rows", err)
	}
	return out, nil
}

// MarkBetVerified marca una apuesta como confirmada. Con el challenge ya
// completado devuelve ErrAlreadyFinalized.
func (s *SQLiteStorage) MarkBetVerified(ctx context.Context, betID string) error {
	return s.markVerified(ctx, "storage.MarkBetVerified", "bets", "verified", betID, domain.ErrBetNotFound)
}

// VerifiedBetTotals agrega las apuestas verificadas por agente y por wallet.
func (s *SQLiteStorage) VerifiedBetTotals(ctx context.Context, challengeID string) (domain.BetTotals, error) {
	const op = "storage.VerifiedBetTotals"
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, bettor_wallet, SUM(amount)
		FROM bets
		WHERE challenge_id = ? AND verified = 1
		GROUP BY agent_id, bettor_wallet`, challengeID)
	if err != nil {
		return domain.BetTotals{}, domain.StoreErr(op+": query", err)
	}
	defer rows.Close()

	totals := domain.BetTotals{
		ByAgent:  make(map[string]domain.Amount),
		ByWallet: make(map[string]map[string]domain.Amount),
	}
	for rows.Next() {
		var (
			agentID, wallet string
			sum             int64
		)
		if err := rows.Scan(&agentID, &wallet, &sum); err != nil {
			return domain.BetTotals{}, domain.StoreErr(op+": scan row", err)
		}
		amt := domain.Amount(sum)
		if totals.Pool, err = totals.Pool.Add(amt); err != nil {
			return domain.BetTotals{}, err
		}
		if totals.ByAgent[agentID], err = totals.ByAgent[agentID].Add(amt); err != nil {
			return domain.BetTotals{}, err
		}
		if totals.ByWallet[agentID] == nil {
			totals.ByWallet[agentID] = make(map[string]domain.Amount)
		}
		totals.ByWallet[agentID][wallet] = amt
	}
	if err := rows.Err(); err != nil {
		return domain.BetTotals{}, domain.StoreErr(op+": rows", err)
	}
	return totals, nil
}

// RecordVote inserta el voto e incrementa el contador del agente en una
// transacción: vote_count siempre coincide con las filas de votes.
func (s *SQLiteStorage) RecordVote(ctx context.Context, v domain.Vote) error {
	const op = "storage.RecordVote"
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO votes (challenge_id, voter_wallet, agent_id, cast_at)
			VALUES (?, ?, ?, ?)`,
			v.ChallengeID, v.VoterWallet, v.AgentID, toMillis(v.CastAt),
		)
		if _, dup := uniqueViolation(err); dup {
			return domain.ErrAlreadyVoted
		}
		if err != nil {
			return domain.StoreErr(op+": insert", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE enrollments SET vote_count = vote_count + 1
			WHERE challenge_id = ? AND agent_id = ? AND deleted = 0 AND status <> 'withdrawn'`,
			v.ChallengeID, v.AgentID,
		)
		if err != nil {
			return domain.StoreErr(op+": increment", err)
		}
		return rowsAffectedOr(res, op, domain.ErrAgentNotFound)
	})
}

// CountVotes cuenta las filas de voto de un agente. No forma parte del
// LedgerStore: sirve para auditar que vote_count coincide con las filas.
func (s *SQLiteStorage) CountVotes(ctx context.Context, challengeID, agentID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM votes WHERE challenge_id = ? AND agent_id = ?`,
		challengeID, agentID,
	).Scan(&n)
	if err != nil {
		return 0, domain.StoreErr("storage.CountVotes: query", err)
	}
	return n, nil
}
