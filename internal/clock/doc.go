// Package clock provides vector clock implementation for tracking causality
// across offline edits, paired with a hybrid-logical clock source for
// total-ordering tie-breaks. Vector clocks enable conflict detection and
// resolution by maintaining per-node counters that capture happened-before
// relationships.
package clock
