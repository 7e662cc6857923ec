// Package database provides SQLite connectivity for Notify Core.
//
// This package manages:
//   - The connection with WAL mode and a busy timeout
//   - Versioned, embedded schema migrations
//   - Transaction helpers for multi-statement writes
//
// Every repository in the service (users, devices, messages, deliveries,
// push registrations) shares one *DB. All queries use parameterised
// statements and the database file is created with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files live in the top-level migrations directory and are
// named YYYYMMDD_HHMMSS_description.up.sql / .down.sql.
package database
