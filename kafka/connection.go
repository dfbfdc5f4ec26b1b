package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

var saslMechanisms = map[string]func(user, pass string) (sasl.Mechanism, error){
	"PLAIN": func(user, pass string) (sasl.Mechanism, error) {
		return plain.Mechanism{Username: user, Password: pass}, nil
	},
	"SCRAM-SHA-256": func(user, pass string) (sasl.Mechanism, error) {
		return scram.Mechanism(scram.SHA256, user, pass)
	},
	"SCRAM-SHA-512": func(user, pass string) (sasl.Mechanism, error) {
		return scram.Mechanism(scram.SHA512, user, pass)
	},
}

// Build returns the client TLS settings, or nil when TLS is off.
func (t TLSConfig) Build() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}
	tc := &tls.Config{InsecureSkipVerify: t.SkipVerify, MinVersion: tls.VersionTLS12} //nolint:gosec // opt-in for test clusters
	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("kafka tls: %w", err)
		}
		tc.RootCAs = x509.NewCertPool()
		if !tc.RootCAs.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("kafka tls: no certificates in %s", t.CAFile)
		}
	}
	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("kafka tls: client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

// Build returns the SASL mechanism, or nil when SASL is off.
func (s SASLConfig) Build() (sasl.Mechanism, error) {
	if !s.Enabled {
		return nil, nil
	}
	build, ok := saslMechanisms[s.Mechanism]
	if !ok {
		return nil, fmt.Errorf("kafka sasl: unsupported mechanism %q", s.Mechanism)
	}
	m, err := build(s.Username, s.Password)
	if err != nil {
		return nil, fmt.Errorf("kafka sasl: %w", err)
	}
	return m, nil
}

// Transport builds the writer transport.
func (c *Config) Transport() (*kafkago.Transport, error) {
	tc, err := c.TLS.Build()
	if err != nil {
		return nil, err
	}
	mech, err := c.SASL.Build()
	if err != nil {
		return nil, err
	}
	return &kafkago.Transport{
		DialTimeout: c.DialTimeout,
		IdleTimeout: c.IdleTimeout,
		MetadataTTL: c.MetadataTTL,
		TLS:         tc,
		SASL:        mech,
	}, nil
}

// Dialer builds a dialer with the transport's security, for probes.
func (c *Config) Dialer() (*kafkago.Dialer, error) {
	tc, err := c.TLS.Build()
	if err != nil {
		return nil, err
	}
	mech, err := c.SASL.Build()
	if err != nil {
		return nil, err
	}
	return &kafkago.Dialer{Timeout: c.DialTimeout, DualStack: true, TLS: tc, SASLMechanism: mech}, nil
}

// Probe asks brokers in turn for cluster metadata and returns the number of
// brokers reported by the first that answers.
func Probe(ctx context.Context, cfg *Config) (int, error) {
	if len(cfg.Brokers) == 0 {
		return 0, errors.New("no brokers configured")
	}
	dialer, err := cfg.Dialer()
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, addr := range cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		brokers, err := conn.Brokers()
		_ = conn.Close()
		if err != nil {
			return 0, fmt.Errorf("broker metadata from %s: %w", addr, err)
		}
		return len(brokers), nil
	}
	return 0, fmt.Errorf("brokers unreachable: %w", errors.Join(errs...))
}
