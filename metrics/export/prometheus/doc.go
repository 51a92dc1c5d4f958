// Package prometheus exposes engine metrics as a
// prometheus.Collector, so hosts register it on their own registry
// alongside their other collectors.
package prometheus
