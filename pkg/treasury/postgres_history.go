package treasury

import (
	"database/sql"
	"fmt"
	"time"
)

// PostgresHistory implements HistorySink backed by PostgreSQL, for
// deployments that want the movement trail to outlive the process.
type PostgresHistory struct {
	db *sql.DB
}

// NewPostgresHistory creates the sink and its table.
func NewPostgresHistory(db *sql.DB) (*PostgresHistory, error) {
	h := &PostgresHistory{db: db}
	if err := h.migrate(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *PostgresHistory) migrate() error {
	_, err := h.db.Exec(`
        CREATE TABLE IF NOT EXISTS treasury_movements (
            id BIGSERIAL PRIMARY KEY,
            kind TEXT NOT NULL,
            amount BIGINT NOT NULL,
            actor TEXT NOT NULL,
            reference TEXT,
            at TIMESTAMPTZ NOT NULL
        )`)
	if err != nil {
		return fmt.Errorf("migrate treasury_movements: %w", err)
	}
	return nil
}

// RecordMovement implements HistorySink.
func (h *PostgresHistory) RecordMovement(m Movement) error {
	_, err := h.db.Exec(
		`INSERT INTO treasury_movements (kind, amount, actor, reference, at) VALUES ($1, $2, $3, $4, $5)`,
		string(m.Kind), m.Amount, m.Actor, m.Reference, m.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record movement: %w", err)
	}
	return nil
}

// MovementsSince returns movements at or after the cutoff, oldest first.
// Backs the recent-activity reports.
func (h *PostgresHistory) MovementsSince(cutoff time.Time) ([]Movement, error) {
	rows, err := h.db.Query(
		`SELECT kind, amount, actor, COALESCE(reference, ''), at
         FROM treasury_movements WHERE at >= $1 ORDER BY at ASC`,
		cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Movement
	for rows.Next() {
		var m Movement
		var kind string
		if err := rows.Scan(&kind, &m.Amount, &m.Actor, &m.Reference, &m.At); err != nil {
			return nil, err
		}
		m.Kind = MovementKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}
