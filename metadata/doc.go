// Package metadata persists runs, step states and transition history in SQL
// through GORM. Store is a run.Sink, so wiring it into the scheduler's sink
// keeps the tables current while a run progresses; SaveResult writes the
// final outputs once the run ends.
//
//	db := database.NewComponent(cfg, log).WithAutoMigrate(metadata.Models()...)
//	...
//	store := metadata.New(db.DB(), log)
//	sink := run.Multi(run.NewLogSink(log), store)
package metadata
