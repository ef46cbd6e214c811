// Package history keeps an optional SQLite audit log of light state changes.
//
// Every change accepted by a light.Bridge (from the device or from a HomeKit
// controller) becomes one row holding the full state snapshot, the field that
// changed and where the change came from. The log is write-only from the
// bridge's point of view: nothing is read back into a bridge on startup.
//
// The HTTP status API reads it through GetHistory, and main prunes rows
// older than history.retention_days once an hour.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.History.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	if err := history.Migrate(ctx, db); err != nil {
//	    return err
//	}
//	store := history.NewStore(db.DB)
package history
