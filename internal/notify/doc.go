// Package notify fans merged-record events out to interested parties.
// The hub serves in-process subscribers such as ward dashboards; the
// MQTT notifier bridges the same events to an external broker. Both are
// best effort and never block or fail a sync batch.
package notify
