// Package otel bridges engine metrics onto an OpenTelemetry meter using
// observable instruments, so values are pulled at collection time
// instead of pushed on the hot path.
package otel
