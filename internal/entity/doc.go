// Package entity defines the record types the coordinator synchronizes:
// operations, field values with write provenance, current-record
// projections, and the per-type schemas that constrain mutations.
// Mutations are tagged unions over known field kinds, never open-ended
// dictionaries.
package entity
