package jit

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/vm"
)

// ProfileArchive persists per-function hot counts to SQLite so a
// restarted engine starts warm: a function that earned a tier in a
// previous run re-earns it after a single invocation instead of
// hundreds.
type ProfileArchive struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenProfileArchive opens (or creates) an archive at the given path.
func OpenProfileArchive(dbPath string) (*ProfileArchive, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening profile archive: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS profile_snapshots (
		function_id INTEGER PRIMARY KEY,
		execution_count INTEGER NOT NULL,
		tier INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating snapshot table: %w", err)
	}

	return &ProfileArchive{db: db}, nil
}

// Close closes the underlying database.
func (a *ProfileArchive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Snapshot writes the current hot counts and installed tiers.
func (a *ProfileArchive) Snapshot(profiles *vm.ProfileStore, mgr *Manager) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning snapshot: %w", err)
	}
	stmt, err := tx.Prepare(
		"INSERT OR REPLACE INTO profile_snapshots (function_id, execution_count, tier) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing snapshot: %w", err)
	}
	defer stmt.Close()

	profiles.Range(func(fnID int, p *vm.ProfileData) bool {
		tier := vm.TierInterpreter
		if mgr != nil {
			tier = mgr.TierOf(fnID)
		}
		_, err = stmt.Exec(fnID, p.Count(), int(tier))
		return err == nil
	})
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return tx.Commit()
}

// Warm seeds the interpreter's profiles from a previous snapshot and
// re-requests the tiers those counts already earned. Counts only move
// forward, so warming a store that already has live data is safe.
// Function IDs match across runs as long as programs are registered in
// the same order.
func (a *ProfileArchive) Warm(in *vm.Interpreter, mgr *Manager) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.Query(
		"SELECT function_id, execution_count FROM profile_snapshots")
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	defer rows.Close()

	th := in.TierThresholds()
	for rows.Next() {
		var fnID int
		var count uint64
		if err := rows.Scan(&fnID, &count); err != nil {
			return fmt.Errorf("scanning snapshot row: %w", err)
		}
		in.Profiles().Get(fnID).SeedCount(count)
		if mgr == nil {
			continue
		}
		// A seeded count sits past the threshold, so the crossing the
		// live counter would have reported is re-issued here.
		if count >= th.Baseline {
			mgr.RequestCompile(vm.CompileRequest{FunctionID: fnID, Target: vm.TierBaseline})
		}
		if count >= th.Optimizing {
			mgr.RequestCompile(vm.CompileRequest{FunctionID: fnID, Target: vm.TierOptimizing})
		}
	}
	return rows.Err()
}
