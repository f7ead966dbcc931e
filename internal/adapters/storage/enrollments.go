package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

const enrollmentColumns = `id, challenge_id, agent_id, owner_wallet, agent_name, agent_metadata,
	entry_tx_hash, entry_verified, status, vote_count, enrolled_at, revealed_at,
	compete_deadline, refund_deadline, submitted_at, solution_url, commit_hash`

// InsertEnrollment inserta la inscripción. Con pago, registra la prueba e
// incrementa el entry pool en la misma transacción.
//
// La capacidad se comprueba después del insert: así una wallet repetida
// recibe ErrAlreadyEnrolled aunque el challenge esté lleno.
func (s *SQLiteStorage) InsertEnrollment(ctx context.Context, e domain.Enrollment, entryAmount domain.Amount, maxAgents int) error {
	const op = "storage.InsertEnrollment"
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO enrollments (id, challenge_id, agent_id, owner_wallet, agent_name,
				agent_metadata, entry_tx_hash, entry_verified, status, enrolled_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.ChallengeID, e.AgentID, e.OwnerWallet, e.AgentName,
			e.AgentMetadata, e.EntryTxHash, boolToInt(e.EntryVerified), string(e.Status),
			toMillis(e.EnrolledAt),
		)
		if msg, dup := uniqueViolation(err); dup {
			if strings.Contains(msg, "agent_id") {
				return domain.ErrAgentTaken
			}
			return domain.ErrAlreadyEnrolled
		}
		if err != nil {
			return domain.StoreErr(op+": insert", err)
		}

		if maxAgents > 0 {
			n, err := countLive(ctx, tx, e.ChallengeID)
			if err != nil {
				return domain.StoreErr(op+": count", err)
			}
			if n > maxAgents {
				return domain.ErrChallengeFull
			}
		}

		if e.EntryTxHash == "" {
			return nil
		}
		if err := insertProof(ctx, tx, op, e.EntryTxHash, e.ChallengeID, "entry", e.ID, e.EnrolledAt); err != nil {
			return err
		}
		return addToPool(ctx, tx, op, "total_entry_pool", e.ChallengeID, entryAmount)
	})
}

// GetEnrollmentByWallet devuelve la inscripción de una wallet o ErrNotEnrolled.
func (s *SQLiteStorage) GetEnrollmentByWallet(ctx context.Context, challengeID, wallet string) (domain.Enrollment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments
		WHERE challenge_id = ? AND owner_wallet = ? AND deleted = 0`, challengeID, wallet)
	e, err := scanEnrollment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Enrollment{}, domain.ErrNotEnrolled
	}
	if err != nil {
		return domain.Enrollment{}, domain.StoreErr("storage.GetEnrollmentByWallet: scan", err)
	}
	return e, nil
}

// GetEnrollmentByAgent devuelve la inscripción de un agente o ErrAgentNotFound.
func (s *SQLiteStorage) GetEnrollmentByAgent(ctx context.Context, challengeID, agentID string) (domain.Enrollment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments
		WHERE challenge_id = ? AND agent_id = ? AND deleted = 0`, challengeID, agentID)
	e, err := scanEnrollment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Enrollment{}, domain.ErrAgentNotFound
	}
	if err != nil {
		return domain.Enrollment{}, domain.StoreErr("storage.GetEnrollmentByAgent: scan", err)
	}
	return e, nil
}

// ListEnrollments devuelve las inscripciones en orden de llegada.
func (s *SQLiteStorage) ListEnrollments(ctx context.Context, challengeID string) ([]domain.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments
		WHERE challenge_id = ? AND deleted = 0
		ORDER BY enrolled_at ASC, id ASC`, challengeID)
	if err != nil {
		return nil, domain.StoreErr("storage.ListEnrollments: query", err)
	}
	defer rows.Close()

	var out []domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, domain.StoreErr("storage.ListEnrollments: scan row", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreErr("storage.ListEnrollments: rows", err)
	}
	return out, nil
}

// CountLiveEnrollments cuenta las inscripciones no retiradas.
func (s *SQLiteStorage) CountLiveEnrollments(ctx context.Context, challengeID string) (int, error) {
	n, err := countLive(ctx, s.db, challengeID)
	if err != nil {
		return 0, domain.StoreErr("storage.CountLiveEnrollments: query", err)
	}
	return n, nil
}

// MarkRevealed hace enrolled → revealed y fija los deadlines personales.
func (s *SQLiteStorage) MarkRevealed(ctx context.Context, enrollmentID string, at, competeDeadline, refundDeadline time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrollments
		SET status = 'revealed', revealed_at = ?, compete_deadline = ?, refund_deadline = ?
		WHERE id = ? AND status = 'enrolled'`,
		toMillis(at), toMillis(competeDeadline), toMillis(refundDeadline), enrollmentID,
	)
	if err != nil {
		return domain.StoreErr("storage.MarkRevealed: update", err)
	}
	return rowsAffectedOr(res, "storage.MarkRevealed", domain.ErrAlreadyRevealed)
}

// MarkSubmitted hace revealed → submitted.
func (s *SQLiteStorage) MarkSubmitted(ctx context.Context, enrollmentID string, at time.Time, solutionURL, commitHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrollments
		SET status = 'submitted', submitted_at = ?, solution_url = ?, commit_hash = ?
		WHERE id = ? AND status = 'revealed'`,
		toMillis(at), solutionURL, commitHash, enrollmentID,
	)
	if err != nil {
		return domain.StoreErr("storage.MarkSubmitted: update", err)
	}
	return rowsAffectedOr(res, "storage.MarkSubmitted", domain.ErrStatusConflict)
}

// MarkEntryVerified marca el pago de entrada como confirmado. Con el
// challenge ya completado devuelve ErrAlreadyFinalized: el plan está fijado.
func (s *SQLiteStorage) MarkEntryVerified(ctx context.Context, enrollmentID string) error {
	return s.markVerified(ctx, "storage.MarkEntryVerified", "enrollments", "entry_verified", enrollmentID, domain.ErrNotEnrolled)
}

// WithdrawEnrollment: revealed → withdrawn, entry pool − entryFee y los
// payouts del reembolso, en una transacción. Un segundo intento no toca
// filas y devuelve ErrAlreadyWithdrawn.
func (s *SQLiteStorage) WithdrawEnrollment(ctx context.Context, e domain.Enrollment, entryFee domain.Amount, payouts []domain.Payout) error {
	const op = "storage.WithdrawEnrollment"
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE enrollments SET status = 'withdrawn' WHERE id = ? AND status = 'revealed'`, e.ID)
		if err != nil {
			return domain.StoreErr(op+": update", err)
		}
		if err := rowsAffectedOr(res, op, domain.ErrAlreadyWithdrawn); err != nil {
			return err
		}
		if err := addToPool(ctx, tx, op, "total_entry_pool", e.ChallengeID, -entryFee); err != nil {
			return err
		}
		return insertPayouts(ctx, tx, op, payouts, domain.ErrAlreadyWithdrawn)
	})
}

// --- helpers ---

// markVerified pone col = 1 solo si el challenge del registro no está
// completado. El check va dentro del UPDATE para que una confirmación no
// pueda colarse después de que Finalize congele los totales.
func (s *SQLiteStorage) markVerified(ctx context.Context, op, table, col, id string, notFound error) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE `+table+` SET `+col+` = 1
		WHERE id = ? AND challenge_id IN (SELECT id FROM challenges WHERE status <> 'completed')`, id)
	if err != nil {
		return domain.StoreErr(op+": update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.StoreErr(op+": rows affected", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return domain.StoreErr(op+": lookup", err)
	}
	return domain.ErrAlreadyFinalized
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func countLive(ctx context.Context, q querier, challengeID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM enrollments
		WHERE challenge_id = ? AND deleted = 0 AND status <> 'withdrawn'`,
		challengeID,
	).Scan(&n)
	return n, err
}

// insertProof reserva un tx hash. Un hash ya usado (entrada o apuesta) es ErrDuplicatePayment.
func insertProof(ctx context.Context, tx *sql.Tx, op, txHash, challengeID, kind, refID string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payment_proofs (tx_hash, challenge_id, kind, ref_id, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		txHash, challengeID, kind, refID, toMillis(at),
	)
	if _, dup := uniqueViolation(err); dup {
		return domain.ErrDuplicatePayment
	}
	if err != nil {
		return domain.StoreErr(op+": insert proof", err)
	}
	return nil
}

func scanEnrollment(r rowScanner) (domain.Enrollment, error) {
	var (
		e          domain.Enrollment
		status     string
		verified   int
		enrolledAt int64
		dates      [4]sql.NullInt64 // revealed_at, compete_deadline, refund_deadline, submitted_at
	)
	err := r.Scan(&e.ID, &e.ChallengeID, &e.AgentID, &e.OwnerWallet, &e.AgentName, &e.AgentMetadata,
		&e.EntryTxHash, &verified, &status, &e.VoteCount, &enrolledAt, &dates[0],
		&dates[1], &dates[2], &dates[3], &e.SolutionURL, &e.CommitHash)
	if err != nil {
		return domain.Enrollment{}, err
	}
	e.Status = domain.EnrollmentStatus(status)
	e.EntryVerified = verified == 1
	e.EnrolledAt = fromMillis(enrolledAt)
	e.RevealedAt = timePtr(dates[0])
	e.CompeteDeadline = timePtr(dates[1])
	e.RefundDeadline = timePtr(dates[2])
	e.SubmittedAt = timePtr(dates[3])
	return e, nil
}
