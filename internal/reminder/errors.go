package reminder

import "errors"

var (
	// ErrFetch wraps calendar source failures. The tick that hit it sent
	// nothing.
	ErrFetch = errors.New("reminder: fetch events")
	// ErrMalformedEvent marks an event skipped for lacking an id or start.
	ErrMalformedEvent = errors.New("reminder: malformed event")
	// ErrDelivery wraps a channel failure for a single notification.
	ErrDelivery = errors.New("reminder: delivery")
)
