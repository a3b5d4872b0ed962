// Package coordinator is the single write path into the system. It
// takes a device's batch of operations, schedules each entity's
// sub-batch in causal order, drives the merge engine through the
// operation log with bounded optimistic retries, and fans out change
// notifications after commit. Entities are independent; there is no
// cross-entity coordination.
package coordinator
