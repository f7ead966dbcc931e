package storage

// sqlite.go — ledger de escrow sobre SQLite (pure Go, sin CGo).
//
// Estrategia:
//   - Toda unicidad la imponen índices UNIQUE (parciales donde hace falta):
//     una inscripción viva por wallet y por agente, un voto por wallet, un
//     claim por tipo, un uso por tx hash. La violación se traduce al error de
//     conflicto de domain; nunca se comprueba con read-then-write.
//   - Pools y contadores de votos: `SET x = x + ?`, dentro de la misma
//     transacción que el insert que los justifica.
//   - Tiempos en INTEGER (unix ms) para comparar deadlines sin parsear strings.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
	"github.com/alejandrodnm/arenaescrow/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS challenges (
    id               TEXT PRIMARY KEY,
    creator_wallet   TEXT    NOT NULL,
    title            TEXT    NOT NULL DEFAULT '',
    description      TEXT    NOT NULL DEFAULT '',
    entry_fee        INTEGER NOT NULL,
    enroll_end       INTEGER NOT NULL,
    compete_end      INTEGER NOT NULL,
    judge_end        INTEGER NOT NULL,
    status           TEXT    NOT NULL DEFAULT 'enrolling',
    total_entry_pool INTEGER NOT NULL DEFAULT 0,
    total_bet_pool   INTEGER NOT NULL DEFAULT 0,
    winner_agent_id  TEXT    NOT NULL DEFAULT '',
    created_at       INTEGER NOT NULL,
    finalized_at     INTEGER,
    CHECK (enroll_end < compete_end AND compete_end < judge_end),
    CHECK (total_entry_pool >= 0 AND total_bet_pool >= 0)
);

CREATE TABLE IF NOT EXISTS enrollments (
    id               TEXT PRIMARY KEY,
    challenge_id     TEXT    NOT NULL REFERENCES challenges(id),
    agent_id         TEXT    NOT NULL,
    owner_wallet     TEXT    NOT NULL,
    agent_name       TEXT    NOT NULL DEFAULT '',
    agent_metadata   TEXT    NOT NULL DEFAULT '',
    entry_tx_hash    TEXT    NOT NULL DEFAULT '',
    entry_verified   INTEGER NOT NULL DEFAULT 0,
    status           TEXT    NOT NULL DEFAULT 'enrolled',
    vote_count       INTEGER NOT NULL DEFAULT 0,
    enrolled_at      INTEGER NOT NULL,
    revealed_at      INTEGER,
    compete_deadline INTEGER,
    refund_deadline  INTEGER,
    submitted_at     INTEGER,
    solution_url     TEXT    NOT NULL DEFAULT '',
    commit_hash      TEXT    NOT NULL DEFAULT '',
    deleted          INTEGER NOT NULL DEFAULT 0
);

-- Una inscripción no borrada por (challenge, wallet) y por (challenge, agente)
CREATE UNIQUE INDEX IF NOT EXISTS ux_enroll_wallet ON enrollments(challenge_id, owner_wallet) WHERE deleted = 0;
CREATE UNIQUE INDEX IF NOT EXISTS ux_enroll_agent  ON enrollments(challenge_id, agent_id)     WHERE deleted = 0;

-- Cada prueba de pago respalda una sola inscripción o apuesta
CREATE TABLE IF NOT EXISTS payment_proofs (
    tx_hash      TEXT PRIMARY KEY,
    challenge_id TEXT    NOT NULL,
    kind         TEXT    NOT NULL, -- entry | bet
    ref_id       TEXT    NOT NULL,
    recorded_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bets (
    id            TEXT PRIMARY KEY,
    challenge_id  TEXT    NOT NULL REFERENCES challenges(id),
    bettor_wallet TEXT    NOT NULL,
    agent_id      TEXT    NOT NULL,
    amount        INTEGER NOT NULL CHECK (amount > 0),
    tx_hash       TEXT    NOT NULL,
    verified      INTEGER NOT NULL DEFAULT 0,
    placed_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bets_challenge ON bets(challenge_id, agent_id);

CREATE TABLE IF NOT EXISTS votes (
    challenge_id TEXT    NOT NULL REFERENCES challenges(id),
    voter_wallet TEXT    NOT NULL,
    agent_id     TEXT    NOT NULL,
    cast_at      INTEGER NOT NULL,
    PRIMARY KEY (challenge_id, voter_wallet)
);
CREATE INDEX IF NOT EXISTS idx_votes_agent ON votes(challenge_id, agent_id);

-- Plan materializado en Finalize
CREATE TABLE IF NOT EXISTS settlement_plan (
    challenge_id TEXT    NOT NULL REFERENCES challenges(id),
    wallet       TEXT    NOT NULL,
    payout_type  TEXT    NOT NULL,
    amount       INTEGER NOT NULL CHECK (amount > 0),
    PRIMARY KEY (challenge_id, wallet, payout_type)
);

-- Payouts: append-only
CREATE TABLE IF NOT EXISTS payouts (
    id               TEXT PRIMARY KEY,
    challenge_id     TEXT    NOT NULL REFERENCES challenges(id),
    recipient_wallet TEXT    NOT NULL,
    amount           INTEGER NOT NULL CHECK (amount >= 0),
    payout_type      TEXT    NOT NULL,
    status           TEXT    NOT NULL DEFAULT 'pending',
    created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payouts_challenge ON payouts(challenge_id, recipient_wallet);

-- Guardas de idempotencia: un claim por tipo, un reembolso por wallet, una fee de plataforma por tipo
CREATE UNIQUE INDEX IF NOT EXISTS ux_payout_claim ON payouts(challenge_id, recipient_wallet, payout_type)
    WHERE payout_type IN ('entry_prize', 'bet_winnings', 'entry_refund', 'bet_refund', 'withdrawal_refund');
CREATE UNIQUE INDEX IF NOT EXISTS ux_payout_platform ON payouts(challenge_id, payout_type)
    WHERE payout_type IN ('platform_entry_fee', 'platform_bet_fee');
`

// SQLiteStorage implementa ports.LedgerStore usando SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ ports.LedgerStore = (*SQLiteStorage)(nil)

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer; serializa las transacciones
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage.NewSQLiteStorage: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// inTx ejecuta fn en una transacción; rollback si fn devuelve error.
func (s *SQLiteStorage) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StoreErr(op+": begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.StoreErr(op+": commit", err)
	}
	return nil
}

// --- helpers internos ---

// uniqueViolation devuelve el mensaje de la constraint violada, o "" si err
// no es una violación de UNIQUE / PRIMARY KEY.
func uniqueViolation(err error) (string, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return "", false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return se.Error(), true
	}
	// Sin extended codes: código primario + texto de SQLite
	if se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE constraint failed") {
		return se.Error(), true
	}
	return "", false
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rowsAffectedOr devuelve errIfNone cuando un UPDATE condicional no tocó filas.
func rowsAffectedOr(res sql.Result, op string, errIfNone error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.StoreErr(op+": rows affected", err)
	}
	if n == 0 {
		return errIfNone
	}
	return nil
}
