// Package api serves the device-facing HTTP surface: the sync endpoint,
// the record and history reads a resync hint points devices at, and the
// load-balancer liveness probe.
package api
