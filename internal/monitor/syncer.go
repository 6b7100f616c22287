package monitor

import (
	"context"
	"time"

	"github.com/wolethescientist/email-engine/internal/mailbox"
)

// Syncer is the slice of the mailbox engine the monitor drives. Narrowed to
// an interface so loops can be tested with fakes whose waits park until
// cancelled.
type Syncer interface {
	// SupportsWatch reports whether the provider profile advertises
	// push-style waiting.
	SupportsWatch() bool
	// Cycle runs one connect→refresh→search pass against a folder.
	Cycle(ctx context.Context, folder mailbox.Folder, opts mailbox.SearchOptions) (*mailbox.CycleResult, error)
	// OpenWatch opens the long-lived session held by the Watching state.
	OpenWatch(ctx context.Context, folder mailbox.Folder) (WatchConn, error)
}

// WatchConn is one held watch session: a re-issuable cancellable wait plus
// a search pass over the same connection.
type WatchConn interface {
	Wait(ctx context.Context, timeout time.Duration) (mailbox.WaitOutcome, error)
	Search(ctx context.Context) (*mailbox.CycleResult, error)
	Generation() uint64
	Close()
}

// engineSyncer adapts mailbox.Engine to the Syncer interface.
type engineSyncer struct {
	engine *mailbox.Engine
}

// NewEngineSyncer wraps a mailbox engine for use by the monitor.
func NewEngineSyncer(engine *mailbox.Engine) Syncer {
	return engineSyncer{engine: engine}
}

func (s engineSyncer) SupportsWatch() bool {
	return s.engine.SupportsWatch()
}

func (s engineSyncer) Cycle(ctx context.Context, folder mailbox.Folder, opts mailbox.SearchOptions) (*mailbox.CycleResult, error) {
	return s.engine.Cycle(ctx, folder, opts)
}

func (s engineSyncer) OpenWatch(ctx context.Context, folder mailbox.Folder) (WatchConn, error) {
	conn, err := s.engine.OpenWatch(ctx, folder)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
