package mailbox

import (
	"context"
	"fmt"
	"log"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"

	"github.com/wolethescientist/email-engine/internal/mailerr"
)

// CycleResult is the outcome of one connect→refresh→search pass.
type CycleResult struct {
	Refs        []Ref
	Report      *RefreshReport
	Generation  uint64
	UIDValidity uint32
}

// FolderSummary is one folder's row in a multi-folder scan.
type FolderSummary struct {
	Accessible bool
	Total      int
	Unseen     int
	Recent     int
	Err        error
}

// Engine ties the connection manager, refresh orchestrator, search
// aggregator and materializer into the operations the calling layer sees.
// Each operation opens a fresh exclusively-owned session and closes it on
// every exit path.
type Engine struct {
	opener *Opener
	window time.Duration
}

// NewEngine builds an engine for one account. folderOverrides feed the
// folder resolver; window bounds the recent-search fallback (zero: 1 hour).
func NewEngine(account Account, folderOverrides map[string][]string, window time.Duration) *Engine {
	return &Engine{
		opener: NewOpener(account, folderOverrides),
		window: window,
	}
}

// SupportsWatch reports whether the account's provider profile advertises
// push-style waiting. The server capability is still re-checked per session.
func (e *Engine) SupportsWatch() bool {
	return e.opener.Profile().PushCapable
}

// Cycle runs one full synchronization pass against a folder and returns the
// merged, ordered refs. This is the synchronous body of a polling tick.
func (e *Engine) Cycle(ctx context.Context, folder Folder, opts SearchOptions) (*CycleResult, error) {
	s, err := e.opener.Open(ctx, folder, true)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	report, err := Refresh(ctx, s)
	if err != nil {
		return nil, err
	}
	for _, step := range report.Steps {
		if step.Err != nil {
			log.Printf("mailbox: refresh step %s failed on %s: %v", step.Name, folder, step.Err)
		}
	}

	if opts.Window <= 0 {
		opts.Window = e.window
	}
	refs, err := SearchMailbox(ctx, s, opts)
	if err != nil {
		return nil, err
	}

	return &CycleResult{
		Refs:        refs,
		Report:      report,
		Generation:  s.Generation,
		UIDValidity: uidValidity(s),
	}, nil
}

// FetchMessage materializes one message by folder and UID.
func (e *Engine) FetchMessage(ctx context.Context, folder Folder, uid uint32) (*Record, error) {
	s, err := e.opener.Open(ctx, folder, true)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	return Materialize(s, Ref{UID: uid, Folder: folder})
}

// FetchAttachment retrieves one attachment's content by folder, UID and
// filename.
func (e *Engine) FetchAttachment(ctx context.Context, folder Folder, uid uint32, filename string) ([]byte, error) {
	s, err := e.opener.Open(ctx, folder, true)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	return FetchAttachment(s, uid, filename)
}

// CheckFolders scans several logical folders in one pass, one session per
// folder. An inaccessible folder is reported as such; it never fails the
// scan for the others.
func (e *Engine) CheckFolders(ctx context.Context, folders []Folder) (map[Folder]FolderSummary, error) {
	results := make(map[Folder]FolderSummary, len(folders))

	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		summary, err := e.checkFolder(ctx, folder)
		if err != nil {
			if mailerr.IsKind(err, mailerr.KindAuthentication) {
				return results, err
			}
			summary = FolderSummary{Err: err}
		}
		results[folder] = summary
	}

	return results, nil
}

func (e *Engine) checkFolder(ctx context.Context, folder Folder) (FolderSummary, error) {
	s, err := e.opener.Open(ctx, folder, true)
	if err != nil {
		return FolderSummary{}, err
	}
	defer s.Close()

	if s.FolderMissing() {
		return FolderSummary{Accessible: false}, nil
	}

	refs, err := SearchMailbox(ctx, s, SearchOptions{Window: e.window})
	if err != nil {
		return FolderSummary{}, err
	}

	summary := FolderSummary{Accessible: true, Total: len(refs)}
	for _, ref := range refs {
		if ref.Unseen {
			summary.Unseen++
		}
		if ref.Recent {
			summary.Recent++
		}
	}
	return summary, nil
}

// WaitOutcome is the result of one bounded wait on a watch session.
type WaitOutcome int

const (
	WaitNotified WaitOutcome = iota
	WaitTimedOut
	WaitCancelled
)

// WatchSession is one long-lived session serving the Watching state. It is
// owned by a single loop: Wait, Search and Close must not race.
type WatchSession struct {
	session *Session
	idle    *idle.Client
	updates chan imapclient.Update
	window  time.Duration
}

// OpenWatch opens the long-lived session the Watching state holds. It fails
// with a capability error when the profile or the server cannot serve a
// push-style wait; callers fall back to polling on that kind.
func (e *Engine) OpenWatch(ctx context.Context, folder Folder) (*WatchSession, error) {
	s, err := e.opener.Open(ctx, folder, true)
	if err != nil {
		return nil, err
	}

	if s.FolderMissing() {
		s.Close()
		// A missing folder cannot be watched, but it can still be polled:
		// cycles against it return empty results. The capability kind sends
		// the caller down that fallback instead of failing.
		return nil, mailerr.Errorf(mailerr.KindCapability, "watch", "folder %s does not exist on this provider", folder)
	}

	if !s.SupportsWait() {
		s.Close()
		return nil, mailerr.Errorf(mailerr.KindCapability, "watch", "provider %s does not support push-style waiting", s.Profile.Provider)
	}

	updates := make(chan imapclient.Update, 10)
	s.client.Updates = updates

	return &WatchSession{
		session: s,
		idle:    idle.NewClient(s.client),
		updates: updates,
		window:  e.window,
	}, nil
}

// Generation returns the generation of the held session.
func (w *WatchSession) Generation() uint64 {
	return w.session.Generation
}

// Wait blocks until the server signals a mailbox change, the timeout
// elapses, or ctx is cancelled, whichever comes first. The wait is
// re-issuable: after any outcome the session remains selected and a new
// Wait can start without reconnecting.
func (w *WatchSession) Wait(ctx context.Context, timeout time.Duration) (WaitOutcome, error) {
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- w.idle.IdleWithFallback(stop, time.Minute)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	finish := func() {
		close(stop)
		<-done
	}

	for {
		select {
		case <-ctx.Done():
			finish()
			return WaitCancelled, ctx.Err()
		case err := <-done:
			// The idle loop ended on its own; that only happens when the
			// connection broke underneath it.
			if err == nil {
				err = fmt.Errorf("idle terminated unexpectedly")
			}
			return WaitCancelled, mailerr.E(mailerr.KindConnectivity, "wait", err)
		case <-timer.C:
			finish()
			return WaitTimedOut, nil
		case update := <-w.updates:
			if !isMailboxChange(update, w.session.FolderName) {
				continue
			}
			finish()
			return WaitNotified, nil
		}
	}
}

// Search runs one aggregated search pass on the held session.
func (w *WatchSession) Search(ctx context.Context) (*CycleResult, error) {
	// Drain pending unsolicited updates so the client's reader never
	// blocks on a full channel while we issue commands.
	for {
		select {
		case <-w.updates:
			continue
		default:
		}
		break
	}

	refs, err := SearchMailbox(ctx, w.session, SearchOptions{Window: w.window})
	if err != nil {
		return nil, err
	}
	return &CycleResult{
		Refs:        refs,
		Generation:  w.session.Generation,
		UIDValidity: uidValidity(w.session),
	}, nil
}

// Close releases the held session. Idempotent.
func (w *WatchSession) Close() {
	w.session.Close()
}

// isMailboxChange reports whether an unsolicited update indicates new state
// in the watched folder.
func isMailboxChange(update imapclient.Update, folder string) bool {
	mboxUpdate, ok := update.(*imapclient.MailboxUpdate)
	if !ok || mboxUpdate.Mailbox == nil {
		return false
	}
	status := mboxUpdate.Mailbox
	return status.Name == folder && status.Messages > 0
}

func uidValidity(s *Session) uint32 {
	if s.Mailbox == nil {
		return 0
	}
	return s.Mailbox.UidValidity
}
