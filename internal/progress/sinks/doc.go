// Package sinks implements progress consumers: human readable console
// lines, structured logs and an in-memory snapshot served by the ops API.
package sinks
