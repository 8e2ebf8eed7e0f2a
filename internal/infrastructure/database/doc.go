// Package database provides SQLite connectivity for the gateway.
//
// The store holds the device directory, every decoded event, derived device
// state (append-only history plus a per-device latest row), raw readings,
// a small key/value table, and the durable delay queue tables.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql (with an
// optional matching .down.sql) and embedded by the migrations package.
// Tests use databasetest.Open for a migrated in-memory store.
package database
