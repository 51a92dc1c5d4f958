// Package metrics provides lock-free counters and a latency histogram
// for the engine's hot paths.
//
// Counters live in cache-line-padded uint64 slots incremented with
// sync/atomic, so the write path is allocation-free and contention
// between cores stays low. Export to Prometheus or OTel lives under
// metrics/export and reads [Snapshot] values; this package does no I/O.
package metrics
