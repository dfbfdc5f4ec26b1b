// Package storage defines Bucket, the key space behind the artifact store,
// and its configuration. Providers live in subpackages: storage/local keeps
// blobs under a directory and storage/s3 keeps them in Amazon S3 or an
// S3-compatible service.
//
//	artifacts:
//	  provider: "s3"
//	  bucket: "ml-artifacts"
//	  prefix: "stepflow/"
//	  region: "eu-west-1"
package storage
