package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

// FinalizeChallenge fija ganador y completed, materializa el plan y escribe
// las fees de plataforma. Solo un Finalize puede ganar la transición.
//
// Los pools del settlement se recalculan dentro de la transacción: si un
// pago se verificó entre la lectura del motor y este commit, devuelve
// ErrStatusConflict y no escribe nada.
func (s *SQLiteStorage) FinalizeChallenge(ctx context.Context, st domain.Settlement) error {
	const op = "storage.FinalizeChallenge"
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE challenges
			SET status = 'completed', winner_agent_id = ?, finalized_at = ?
			WHERE id = ? AND status NOT IN ('completed', 'cancelled')`,
			st.WinnerAgentID, toMillis(st.FinalizedAt), st.ChallengeID,
		)
		if err != nil {
			return domain.StoreErr(op+": update challenge", err)
		}
		if err := rowsAffectedOr(res, op, domain.ErrAlreadyFinalized); err != nil {
			return err
		}

		var entryPool, betPool int64
		err = tx.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM enrollments
				 WHERE challenge_id = c.id AND deleted = 0 AND status <> 'withdrawn'
				   AND entry_tx_hash <> '' AND entry_verified = 1) * c.entry_fee,
				(SELECT COALESCE(SUM(amount), 0) FROM bets
				 WHERE challenge_id = c.id AND verified = 1)
			FROM challenges c WHERE c.id = ?`, st.ChallengeID,
		).Scan(&entryPool, &betPool)
		if err != nil {
			return domain.StoreErr(op+": recompute pools", err)
		}
		if domain.Amount(entryPool) != st.EntryPool || domain.Amount(betPool) != st.BetPool {
			return domain.ErrStatusConflict
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO settlement_plan (challenge_id, wallet, payout_type, amount)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return domain.StoreErr(op+": prepare plan", err)
		}
		defer stmt.Close()

		for _, p := range st.Plan {
			if _, err := stmt.ExecContext(ctx, p.ChallengeID, p.Wallet, string(p.Type), int64(p.Amount)); err != nil {
				if _, dup := uniqueViolation(err); dup {
					return domain.ErrAlreadyFinalized
				}
				return domain.StoreErr(op+": insert plan "+p.Wallet, err)
			}
		}
		return insertPayouts(ctx, tx, op, st.PlatformFees, domain.ErrAlreadyFinalized)
	})
}

// GetPlan devuelve las filas del plan de una wallet.
func (s *SQLiteStorage) GetPlan(ctx context.Context, challengeID, wallet string) ([]domain.PlanEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT challenge_id, wallet, payout_type, amount
		FROM settlement_plan
		WHERE challenge_id = ? AND wallet = ?
		ORDER BY payout_type ASC`, challengeID, wallet)
	if err != nil {
		return nil, domain.StoreErr("storage.GetPlan: query", err)
	}
	defer rows.Close()

	var out []domain.PlanEntry
	for rows.Next() {
		var (
			p      domain.PlanEntry
			typ    string
			amount int64
		)
		if err := rows.Scan(&p.ChallengeID, &p.Wallet, &typ, &amount); err != nil {
			return nil, domain.StoreErr("storage.GetPlan: scan row", err)
		}
		p.Type = domain.PayoutType(typ)
		p.Amount = domain.Amount(amount)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreErr("storage.GetPlan: rows", err)
	}
	return out, nil
}

// HasClaimed devuelve true si existe algún payout de tipo claim para (challenge, wallet).
func (s *SQLiteStorage) HasClaimed(ctx context.Context, challengeID, wallet string) (bool, error) {
	claimed, err := hasClaimed(ctx, s.db, challengeID, wallet)
	if err != nil {
		return false, domain.StoreErr("storage.HasClaimed: query", err)
	}
	return claimed, nil
}

// InsertClaim escribe los payouts de un claim. El índice único sobre
// (challenge, wallet, tipo) es la garantía final: dos claims concurrentes
// insertan el mismo conjunto de tipos y el segundo choca con el primero.
func (s *SQLiteStorage) InsertClaim(ctx context.Context, challengeID, wallet string, payouts []domain.Payout) error {
	const op = "storage.InsertClaim"
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		claimed, err := hasClaimed(ctx, tx, challengeID, wallet)
		if err != nil {
			return domain.StoreErr(op+": guard", err)
		}
		if claimed {
			return domain.ErrAlreadyClaimed
		}
		return insertPayouts(ctx, tx, op, payouts, domain.ErrAlreadyClaimed)
	})
}

// ListPayouts devuelve el ledger de payouts de un challenge en orden de escritura.
func (s *SQLiteStorage) ListPayouts(ctx context.Context, challengeID string) ([]domain.Payout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, challenge_id, recipient_wallet, amount, payout_type, status, created_at
		FROM payouts WHERE challenge_id = ?
		ORDER BY created_at ASC, rowid ASC`, challengeID)
	if err != nil {
		return nil, domain.StoreErr("storage.ListPayouts: query", err)
	}
	defer rows.Close()

	var out []domain.Payout
	for rows.Next() {
		var (
			p           domain.Payout
			amount, at  int64
			typ, status string
		)
		if err := rows.Scan(&p.ID, &p.ChallengeID, &p.RecipientWallet, &amount, &typ, &status, &at); err != nil {
			return nil, domain.StoreErr("storage.ListPayouts: scan row", err)
		}
		p.Amount = domain.Amount(amount)
		p.Type = domain.PayoutType(typ)
		p.Status = domain.PayoutStatus(status)
		p.CreatedAt = fromMillis(at)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreErr("storage.ListPayouts: rows", err)
	}
	return out, nil
}

// --- helpers ---

// insertPayouts escribe filas de payout en tx. Una violación de unicidad
// se devuelve como onDup.
func insertPayouts(ctx context.Context, tx *sql.Tx, op string, payouts []domain.Payout, onDup error) error {
	if len(payouts) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO payouts (id, challenge_id, recipient_wallet, amount, payout_type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return domain.StoreErr(op+": prepare payouts", err)
	}
	defer stmt.Close()

	for _, p := range payouts {
		_, err := stmt.ExecContext(ctx, p.ID, p.ChallengeID, p.RecipientWallet, int64(p.Amount),
			string(p.Type), string(p.Status), toMillis(p.CreatedAt))
		if _, dup := uniqueViolation(err); dup {
			return onDup
		}
		if err != nil {
			return domain.StoreErr(op+": insert payout "+string(p.Type), err)
		}
	}
	return nil
}

func hasClaimed(ctx context.Context, q querier, challengeID, wallet string) (bool, error) {
	args := []any{challengeID, wallet}
	marks := make([]string, len(domain.ClaimTypes))
	for i, t := range domain.ClaimTypes {
		marks[i] = "?"
		args = append(args, string(t))
	}
	var exists int
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payouts
			WHERE challenge_id = ? AND recipient_wallet = ? AND payout_type IN (`+strings.Join(marks, ", ")+`)
		)`, args...).Scan(&exists)
	return exists == 1, err
}
