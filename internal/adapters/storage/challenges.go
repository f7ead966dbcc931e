package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

const challengeColumns = `id, creator_wallet, title, description, entry_fee,
	enroll_end, compete_end, judge_end, status, total_entry_pool, total_bet_pool,
	winner_agent_id, created_at, finalized_at`

// CreateChallenge inserta un challenge nuevo. Un id repetido es ErrChallengeExists.
func (s *SQLiteStorage) CreateChallenge(ctx context.Context, c domain.Challenge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO challenges (id, creator_wallet, title, description, entry_fee,
			enroll_end, compete_end, judge_end, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CreatorWallet, c.Title, c.Description, int64(c.EntryFee),
		toMillis(c.EnrollEnd), toMillis(c.CompeteEnd), toMillis(c.JudgeEnd),
		string(c.Status), toMillis(c.CreatedAt),
	)
	if _, dup := uniqueViolation(err); dup {
		return domain.ErrChallengeExists
	}
	if err != nil {
		return domain.StoreErr("storage.CreateChallenge: insert", err)
	}
	return nil
}

// GetChallenge devuelve el challenge o ErrChallengeNotFound.
func (s *SQLiteStorage) GetChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = ?`, id)
	c, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Challenge{}, domain.ErrChallengeNotFound
	}
	if err != nil {
		return domain.Challenge{}, domain.StoreErr("storage.GetChallenge: scan", err)
	}
	return c, nil
}

// AdvanceStatus es un compare-and-set sobre el status.
func (s *SQLiteStorage) AdvanceStatus(ctx context.Context, id string, from, to domain.ChallengeStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE challenges SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return domain.StoreErr("storage.AdvanceStatus: update", err)
	}
	return rowsAffectedOr(res, "storage.AdvanceStatus", domain.ErrStatusConflict)
}

// CancelChallenge pasa a cancelled un challenge no terminal.
func (s *SQLiteStorage) CancelChallenge(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE challenges SET status = 'cancelled', finalized_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'cancelled')`,
		toMillis(at), id,
	)
	if err != nil {
		return domain.StoreErr("storage.CancelChallenge: update", err)
	}
	return rowsAffectedOr(res, "storage.CancelChallenge", domain.ErrStatusConflict)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(r rowScanner) (domain.Challenge, error) {
	var (
		c         domain.Challenge
		status    string
		fees      [3]int64 // entry_fee, total_entry_pool, total_bet_pool
		times     [4]int64 // enroll_end, compete_end, judge_end, created_at
		finalized sql.NullInt64
	)
	err := r.Scan(&c.ID, &c.CreatorWallet, &c.Title, &c.Description, &fees[0],
		&times[0], &times[1], &times[2], &status, &fees[1], &fees[2],
		&c.WinnerAgentID, &times[3], &finalized)
	if err != nil {
		return domain.Challenge{}, err
	}
	c.Status = domain.ChallengeStatus(status)
	c.EntryFee = domain.Amount(fees[0])
	c.TotalEntryPool = domain.Amount(fees[1])
	c.TotalBetPool = domain.Amount(fees[2])
	c.EnrollEnd = fromMillis(times[0])
	c.CompeteEnd = fromMillis(times[1])
	c.JudgeEnd = fromMillis(times[2])
	c.CreatedAt = fromMillis(times[3])
	c.FinalizedAt = timePtr(finalized)
	return c, nil
}

// addToPool incrementa un acumulador del challenge dentro de tx.
// column viene siempre de una constante interna.
func addToPool(ctx context.Context, tx *sql.Tx, op, column, challengeID string, delta domain.Amount) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE challenges SET `+column+` = `+column+` + ? WHERE id = ?`,
		int64(delta), challengeID,
	)
	if err != nil {
		return domain.StoreErr(op+": increment "+column, err)
	}
	return rowsAffectedOr(res, op, domain.ErrChallengeNotFound)
}
