// Package delivery executes outbound webhook calls for queued delivery
// attempts: a signed HTTP sender, a time-ordered retry queue, and a bounded
// worker pool with an explicit start/stop lifecycle.
package delivery
