package session

import (
	"context"
	"errors"
	"time"
)

// Item is one point to monitor. Handle is chosen by the session and echoed
// back in every Notification for that point.
type Item struct {
	Handle  uint32
	Address Address
	Digital bool
}

// Notification is one value change reported by the controller.
type Notification struct {
	Handle    uint32
	Value     any       // nil when the controller sent no value
	Good      bool      // controller status was good
	Timestamp time.Time // zero when the controller supplied none
}

// Transport is the protocol-specific half of a session.
type Transport interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	// Read performs one synchronous read and fails unless the value is good.
	Read(ctx context.Context, item Item) error
	// Subscribe creates one subscription and returns the handles the
	// controller accepted.
	Subscribe(ctx context.Context, interval time.Duration, items []Item) ([]uint32, error)
	Unsubscribe(ctx context.Context) error
	// Poll services the transport and returns notifications queued since
	// the previous call. It must not block for long.
	Poll(ctx context.Context) ([]Notification, error)
}

// IsRetriable reports whether a transport error leaves the session usable.
func IsRetriable(err error) bool {
	if err == nil {
		return true
	}
	var r interface{ Retriable() bool }
	if errors.As(err, &r) {
		return r.Retriable()
	}
	return isRetriableStatus(err)
}
