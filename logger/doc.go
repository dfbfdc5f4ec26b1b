// Package logger is stepflow's zerolog wrapper. Components derive a tagged
// logger once and pass structured fields per event:
//
//	log := parent.WithComponent("scheduler")
//	log.Info("Step dispatched", logger.Fields(logger.FieldRun, id, logger.FieldStep, name))
package logger
