// Package database opens the sqlite or postgres database holding run
// history and the SQL cache index.
//
//	db := database.NewComponent(cfg, log).
//	    WithAutoMigrate(metadata.Models()...)
//	registry.Register(db)
//
// Store code reports failures through Translate, which turns missing rows,
// duplicates and transient driver errors into the matching AppError.
package database
