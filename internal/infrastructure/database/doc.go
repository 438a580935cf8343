// Package database provides the SQLite connection used by the collection
// journal, with embedded schema migrations.
//
// # Usage
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
