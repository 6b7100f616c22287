package mailbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/wolethescientist/email-engine/internal/mailerr"
)

const (
	// inboxDialTimeout is the connection budget for the primary inbox.
	inboxDialTimeout = 30 * time.Second
	// secondaryDialTimeout is the budget for every other folder; secondary
	// folders are best-effort and must not stall a cycle.
	secondaryDialTimeout = 15 * time.Second
)

// Account is the connection profile supplied by the calling layer. The
// secret arrives already decrypted; credential storage is not our concern.
type Account struct {
	Host     string
	Port     int
	UseTLS   bool
	Identity string
	Secret   string
}

// Addr returns the dial address of the account's IMAP endpoint.
func (a Account) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Opener creates sessions for one account. It owns the generation counter:
// every Open increments it, so UIDs and watermarks cached against an older
// generation are recognizably stale.
type Opener struct {
	account    Account
	profile    Profile
	resolver   *Resolver
	generation atomic.Uint64
}

// NewOpener builds an Opener. The provider profile is selected here, once,
// by hostname prefix. folderOverrides replace built-in folder candidates.
func NewOpener(account Account, folderOverrides map[string][]string) *Opener {
	return &Opener{
		account:  account,
		profile:  DetectProfile(account.Host),
		resolver: NewResolver(folderOverrides),
	}
}

// Profile returns the provider profile selected for this account.
func (o *Opener) Profile() Profile {
	return o.profile
}

// Generation returns the current generation counter value.
func (o *Opener) Generation() uint64 {
	return o.generation.Load()
}

// Session is an exclusively owned transport handle, created per sync cycle
// and destroyed at cycle end on every exit path. It is not safe for use by
// more than one goroutine; ownership belongs to the cycle that opened it.
type Session struct {
	Account    Account
	Profile    Profile
	Generation uint64
	Logical    Folder
	FolderName string
	ReadOnly   bool
	Mailbox    *imap.MailboxStatus

	client        *client.Client
	caps          map[string]bool
	folderMissing bool
	closeOnce     sync.Once
}

// Open dials a fresh transport, authenticates, negotiates capabilities and
// selects the requested folder. Connections are never reused across cycles:
// a stale long-lived selection is exactly what makes providers serve cached
// folder state.
func (o *Opener) Open(ctx context.Context, logical Folder, readonly bool) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	generation := o.generation.Add(1)

	c, err := dial(o.account, dialTimeout(logical))
	if err != nil {
		return nil, mailerr.E(classifyTransport(err), "open", err)
	}

	if err := c.Login(o.account.Identity, o.account.Secret); err != nil {
		_ = c.Logout()
		return nil, mailerr.E(mailerr.KindAuthentication, "open", err)
	}

	caps, err := c.Capability()
	if err != nil {
		_ = c.Logout()
		return nil, mailerr.E(mailerr.KindProtocol, "open", err)
	}

	s := &Session{
		Account:    o.account,
		Profile:    o.profile,
		Generation: generation,
		Logical:    logical,
		ReadOnly:   readonly,
		client:     c,
		caps:       caps,
	}

	name, err := o.resolver.Resolve(generation, logical, func() ([]string, error) {
		return listFolders(c)
	})
	if err != nil {
		if errors.Is(err, ErrFolderNotFound) {
			// The logical folder does not exist on this provider. The
			// session stays usable; operations against it return empty.
			s.folderMissing = true
			return s, nil
		}
		s.Close()
		return nil, mailerr.E(mailerr.KindConnectivity, "open", err)
	}

	s.FolderName = name
	mbox, err := c.Select(name, readonly)
	if err != nil {
		s.Close()
		return nil, mailerr.E(mailerr.KindConnectivity, "open", fmt.Errorf("failed to select folder %s: %w", name, err))
	}
	s.Mailbox = mbox

	return s, nil
}

// dial connects to the IMAP server with the given timeout budget.
// With UseTLS the handshake is implicit; otherwise the connection is
// upgraded via STARTTLS when the server offers it (plain test servers don't).
func dial(account Account, timeout time.Duration) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: timeout}

	if account.UseTLS {
		c, err := client.DialWithDialerTLS(dialer, account.Addr(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		c.Timeout = timeout
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, account.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	c.Timeout = timeout

	if ok, err := c.SupportStartTLS(); err == nil && ok {
		if err := c.StartTLS(nil); err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("failed to upgrade to TLS: %w", err)
		}
	}

	return c, nil
}

func dialTimeout(logical Folder) time.Duration {
	if logical == FolderInbox {
		return inboxDialTimeout
	}
	return secondaryDialTimeout
}

// classifyTransport maps a dial failure to a taxonomy kind.
func classifyTransport(err error) mailerr.Kind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return mailerr.KindTimeout
	}
	return mailerr.KindConnectivity
}

// FolderMissing reports whether the logical folder resolved to nothing on
// this provider. Such sessions answer every query with an empty result.
func (s *Session) FolderMissing() bool {
	return s.folderMissing
}

// Supports reports whether the server advertised the given capability.
func (s *Session) Supports(capability string) bool {
	return s.caps[capability]
}

// SupportsWait reports whether this session can serve the Watching mode:
// the profile must advertise push support and the server must speak IDLE.
func (s *Session) SupportsWait() bool {
	return s.Profile.PushCapable && s.Supports("IDLE")
}

// Close releases the transport. It is idempotent and safe to call on every
// exit path; logout is never skipped, only ever attempted once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.client == nil {
			return
		}
		if s.FolderName != "" {
			// Best effort; CLOSE fails harmlessly when nothing is selected.
			_ = s.client.Close()
		}
		_ = s.client.Logout()
	})
}

// listFolders collects the server's advertised folder names.
func listFolders(c *client.Client) ([]string, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	var folders []string
	for m := range mailboxes {
		folders = append(folders, m.Name)
	}

	if err := <-done; err != nil {
		return nil, err
	}

	return folders, nil
}
