// Package merge implements the deterministic merge engine for entity
// records. It classifies each incoming operation against the record's
// vector clock and resolves field collisions with per-field
// last-writer-wins, so any set of operations applied in any order with
// any duplication projects the same record.
package merge
