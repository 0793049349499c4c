// Package archive keeps a raw copy of every verified provider webhook in
// object storage for audits and replays.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig      = errors.New("invalid archive configuration")
	ErrFailedToLoadConfig = errors.New("failed to load AWS config")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
	ErrOperationTimeout   = errors.New("operation timed out")
	ErrOperationCanceled  = errors.New("operation canceled")
)

// Entry is one verified webhook delivery.
type Entry struct {
	EventID    string
	EventType  string
	Payload    []byte
	ReceivedAt time.Time
}

// Key is the object key an entry is stored under.
func (e Entry) Key() string {
	return fmt.Sprintf("webhooks/%s/%s.json", e.ReceivedAt.UTC().Format("2006/01/02"), e.EventID)
}

// Archiver stores raw webhook payloads. Implementations must be safe for
// concurrent use.
type Archiver interface {
	Archive(ctx context.Context, e Entry) error
}

// Noop discards entries. It is used when no bucket is configured.
type Noop struct{}

func (Noop) Archive(context.Context, Entry) error { return nil }
