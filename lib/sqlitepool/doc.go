// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool used by
// Flotilla's embedded storage: the task ledger on single-node
// deployments and the transcript archive index everywhere.
//
// It wraps zombiezen.com/go/sqlite with the pragmas the ledger's
// access pattern needs: WAL journaling so status reads (CLI, sweeper)
// never block the dispatcher's claim writes, NORMAL synchronous
// because a claim lost to a process crash is exactly what the recovery
// sweep exists to repair, and a busy timeout so competing claim
// transactions queue instead of failing with SQLITE_BUSY.
//
// Callers [Pool.Take] a connection, run their statements, and
// [Pool.Put] it back. Connections are not safe for concurrent use;
// each goroutine holds its own for the duration of its work.
//
// # Pragmas
//
//   - journal_mode=WAL: concurrent readers alongside the single
//     writer. The sweeper's periodic scan must not stall a claim.
//   - synchronous=NORMAL: commits survive process crashes. OS-crash
//     durability is not required: any task whose claim vanishes is
//     requeued by the stale-claim sweep.
//   - busy_timeout=5000: claims race by design. Wait up to five
//     seconds for the write lock rather than surfacing SQLITE_BUSY to
//     the dispatcher.
//   - foreign_keys=OFF: ledger rows are self-contained; there is
//     nothing to cascade.
//   - temp_store=MEMORY: sort scratch for status scans stays off disk.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/flotilla/ledger.db",
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
// The package stays thin on purpose: standard pragmas, a fixed-size
// pool, and the zombiezen types exposed directly. Storage code writes
// SQL and manages its own transactions with sqlitex; there is no query
// builder between the ledger and the database.
package sqlitepool
