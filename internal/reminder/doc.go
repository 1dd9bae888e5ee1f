// Package reminder decides when calendar events are announced.
//
// On every tick the Engine fetches the events inside the lookahead window,
// computes which lead-time thresholds each one has crossed, and sends at
// most one notification per event: the most imminent crossed threshold
// that has not been delivered before. Longer-lead thresholds passed over
// after a stall are recorded without being sent. Delivered (event,
// threshold) keys are kept in a Deduplicator for the life of the process.
//
// Upcoming is the read-only counterpart used by the /events command. It
// renders the same window for a single requester and never touches the
// Deduplicator, so asking for a listing cannot suppress a later alert.
package reminder
