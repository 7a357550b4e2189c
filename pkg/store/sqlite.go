// Package store persists engine state between process runs. SQLite keeps
// the deployment single-binary; each row carries the entity snapshot as
// JSON next to the columns queries filter on.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/villagemutual/core/pkg/claims"
	"github.com/villagemutual/core/pkg/dao"
	"github.com/villagemutual/core/pkg/treasury"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed snapshot store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS claims (
            id INTEGER PRIMARY KEY,
            claimant TEXT NOT NULL,
            status TEXT NOT NULL,
            amount INTEGER NOT NULL,
            snapshot JSON NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS proposals (
            id INTEGER PRIMARY KEY,
            proposer TEXT NOT NULL,
            category TEXT NOT NULL,
            status TEXT NOT NULL,
            snapshot JSON NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS safety_pool (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            snapshot JSON NOT NULL
        )`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SaveClaim upserts a claim snapshot.
func (s *Store) SaveClaim(c claims.Claim) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal claim %d: %w", c.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO claims (id, claimant, status, amount, snapshot) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET claimant=excluded.claimant, status=excluded.status,
             amount=excluded.amount, snapshot=excluded.snapshot`,
		c.ID, string(c.Claimant), string(c.Status), c.Amount, string(raw),
	)
	if err != nil {
		return fmt.Errorf("save claim %d: %w", c.ID, err)
	}
	return nil
}

// Claims loads all claim snapshots ordered by id.
func (s *Store) Claims() ([]claims.Claim, error) {
	return scanSnapshots[claims.Claim](s.db, `SELECT snapshot FROM claims ORDER BY id`)
}

// ClaimsByStatus loads claim snapshots in the given status.
func (s *Store) ClaimsByStatus(status claims.Status) ([]claims.Claim, error) {
	return scanSnapshots[claims.Claim](s.db, `SELECT snapshot FROM claims WHERE status = ? ORDER BY id`, string(status))
}

// SaveProposal upserts a proposal snapshot.
func (s *Store) SaveProposal(p dao.Proposal) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proposal %d: %w", p.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO proposals (id, proposer, category, status, snapshot) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET proposer=excluded.proposer, category=excluded.category,
             status=excluded.status, snapshot=excluded.snapshot`,
		p.ID, string(p.Proposer), string(p.Category), string(p.Status), string(raw),
	)
	if err != nil {
		return fmt.Errorf("save proposal %d: %w", p.ID, err)
	}
	return nil
}

// Proposals loads all proposal snapshots ordered by id.
func (s *Store) Proposals() ([]dao.Proposal, error) {
	return scanSnapshots[dao.Proposal](s.db, `SELECT snapshot FROM proposals ORDER BY id`)
}

// SavePool stores the singleton safety-pool snapshot.
func (s *Store) SavePool(sp treasury.SafetyPool) error {
	raw, err := json.Marshal(sp)
	if err != nil {
		return fmt.Errorf("marshal pool: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO safety_pool (id, snapshot) VALUES (1, ?)
         ON CONFLICT(id) DO UPDATE SET snapshot=excluded.snapshot`,
		string(raw),
	)
	if err != nil {
		return fmt.Errorf("save pool: %w", err)
	}
	return nil
}

// LoadPool returns the safety-pool snapshot, if one was saved.
func (s *Store) LoadPool() (treasury.SafetyPool, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT snapshot FROM safety_pool WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return treasury.SafetyPool{}, false, nil
	}
	if err != nil {
		return treasury.SafetyPool{}, false, fmt.Errorf("load pool: %w", err)
	}
	var sp treasury.SafetyPool
	if err := json.Unmarshal([]byte(raw), &sp); err != nil {
		return treasury.SafetyPool{}, false, fmt.Errorf("decode pool: %w", err)
	}
	return sp, true, nil
}

func scanSnapshots[T any](db *sql.DB, query string, args ...any) ([]T, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []T
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
