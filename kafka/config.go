package kafka

import (
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// DefaultTopic receives run events when no topic is configured.
const DefaultTopic = "stepflow.events"

var compressions = map[string]kafkago.Compression{
	"none":   0,
	"gzip":   kafkago.Gzip,
	"snappy": kafkago.Snappy,
	"lz4":    kafkago.Lz4,
	"zstd":   kafkago.Zstd,
}

// TLSConfig secures broker connections.
type TLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	SkipVerify bool   `mapstructure:"skip_verify"`
	CAFile     string `mapstructure:"ca_file"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
}

// SASLConfig authenticates to the brokers.
type SASLConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Mechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	Mechanism string `mapstructure:"mechanism"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// Config configures the run event publisher.
type Config struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`

	TLS  TLSConfig  `mapstructure:"tls"`
	SASL SASLConfig `mapstructure:"sasl"`

	Compression  string        `mapstructure:"compression"`
	Retries      int           `mapstructure:"retries"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// RequiredAcks is -1 for every in-sync replica or 1 for the leader.
	RequiredAcks int `mapstructure:"required_acks"`

	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	MetadataTTL time.Duration `mapstructure:"metadata_ttl"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.Compression == "" {
		c.Compression = "snappy"
	}
	if c.SASL.Enabled && c.SASL.Mechanism == "" {
		c.SASL.Mechanism = "PLAIN"
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = -1
	}
	for _, d := range []struct {
		field *time.Duration
		def   time.Duration
	}{
		{&c.BatchTimeout, 50 * time.Millisecond},
		{&c.WriteTimeout, 10 * time.Second},
		{&c.DialTimeout, 10 * time.Second},
		{&c.IdleTimeout, 30 * time.Second},
		{&c.MetadataTTL, 6 * time.Second},
	} {
		if *d.field <= 0 {
			*d.field = d.def
		}
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}

// Validate reports every problem of an enabled config.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	fail := func(format string, args ...any) { errs = append(errs, fmt.Errorf("kafka."+format, args...)) }

	if len(c.Brokers) == 0 {
		fail("brokers is required")
	}
	if c.Topic == "" {
		fail("topic is required")
	}
	if _, ok := compressions[c.Compression]; !ok {
		fail("compression %q is not one of none, gzip, snappy, lz4, zstd", c.Compression)
	}
	if c.SASL.Enabled {
		if _, ok := saslMechanisms[c.SASL.Mechanism]; !ok {
			fail("sasl.mechanism %q is not supported", c.SASL.Mechanism)
		}
		if c.SASL.Username == "" {
			fail("sasl.username is required")
		}
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		fail("tls.cert_file and tls.key_file must be set together")
	}
	if c.RequiredAcks != -1 && c.RequiredAcks != 1 {
		fail("required_acks must be -1 (all) or 1 (leader), got %d", c.RequiredAcks)
	}
	if c.Retries <= 0 {
		fail("retries must be positive")
	}
	if c.BatchSize <= 0 {
		fail("batch_size must be positive")
	}
	return errors.Join(errs...)
}

// Codec returns the writer compression. Unknown names mean snappy.
func (c *Config) Codec() kafkago.Compression {
	if codec, ok := compressions[c.Compression]; ok {
		return codec
	}
	return kafkago.Snappy
}
