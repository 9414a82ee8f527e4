package remote

import (
	"errors"
	"fmt"
)

// ErrTransferCanceled is returned when a Progress callback stops a transfer.
var ErrTransferCanceled = errors.New("transfer canceled")

// TransferProgress is a snapshot of a running fetch or push. Objects are
// transferred whole, so the delta counters stay zero with the transports in
// this package; they are kept for callers that render a full progress line.
type TransferProgress struct {
	TotalObjects    int
	IndexedObjects  int
	ReceivedObjects int
	TotalDeltas     int
	IndexedDeltas   int
	ReceivedBytes   int64
}

// Credentials authenticate against a remote. Token wins over
// Username/Password when both are set.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// Callbacks are invoked synchronously from inside a transfer. They must not
// start another write operation on the repository that issued the transfer.
type Callbacks struct {
	// Progress receives a snapshot after each object; a non-nil error
	// aborts the transfer with ErrTransferCanceled.
	Progress func(TransferProgress) error
	// Credentials is asked once per transport for the remote URL when the
	// environment provides no credentials.
	Credentials func(url string) (Credentials, error)
	// Message receives progress text sent by the server.
	Message func(string)
}

func (cb Callbacks) message(s string) {
	if cb.Message != nil && s != "" {
		cb.Message(s)
	}
}

// progressTracker accumulates a TransferProgress and reports it.
type progressTracker struct {
	cb Callbacks
	p  TransferProgress
}

func newProgressTracker(cb Callbacks) *progressTracker {
	return &progressTracker{cb: cb}
}

func (t *progressTracker) expect(n int) error {
	t.p.TotalObjects += n
	return t.report()
}

// received records one object of size bytes. stored is false when the
// object was already present locally.
func (t *progressTracker) received(size int, stored bool) error {
	t.p.ReceivedObjects++
	t.p.ReceivedBytes += int64(size)
	if stored {
		t.p.IndexedObjects++
	}
	if t.p.TotalObjects < t.p.ReceivedObjects {
		t.p.TotalObjects = t.p.ReceivedObjects
	}
	return t.report()
}

func (t *progressTracker) report() error {
	if t.cb.Progress == nil {
		return nil
	}
	if err := t.cb.Progress(t.p); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferCanceled, err)
	}
	return nil
}

func (t *progressTracker) snapshot() TransferProgress {
	return t.p
}
