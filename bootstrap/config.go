package bootstrap

import "github.com/kbukum/stepflow/config"

// Config is what New needs from an application config. Embedding
// config.ServiceConfig provides Service; configs with more sections
// override ApplyDefaults and Validate to cover them.
type Config interface {
	Service() *config.ServiceConfig
	config.Validatable
}
