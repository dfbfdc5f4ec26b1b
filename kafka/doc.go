// Package kafka streams run state transitions to a Kafka topic.
//
// Config carries the broker settings with nested tls and sasl sections;
// Transport and Dialer turn it into kafka-go plumbing. The producer
// subpackage holds the writer and the run.Sink that publishes events, and
// Component ties the producer into the service lifecycle.
//
//	kafka:
//	  enabled: true
//	  brokers: ["localhost:9092"]
//	  topic: stepflow.events
//	  sasl:
//	    enabled: true
//	    mechanism: SCRAM-SHA-512
//	    username: stepflow
package kafka
