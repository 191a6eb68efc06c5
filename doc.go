// Package cloudkvs holds the pieces shared by the redundant multi-cloud key-value layer:
// error codes, logging setup, the process-wide worker pool, retry rounds and orchestrator
// options. Backends live in kvs (in-memory, faulty), fs, aws_s3, gcs, redis and cassandra;
// the fan-out orchestrator in parallelio; the coding primitives in erasure and
// secretsharing; and the redundancy schemes and their registry in facade.
package cloudkvs
