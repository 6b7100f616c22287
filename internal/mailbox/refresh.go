package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap"

	"github.com/wolethescientist/email-engine/internal/mailerr"
)

// lagSettleDelay is how long lagging providers get to catch up between the
// first ping and the second.
const lagSettleDelay = 200 * time.Millisecond

// StepStatus records the outcome of a single refresh step.
type StepStatus struct {
	Name string
	Err  error
}

// RefreshReport lists every step a refresh executed and how it went.
// Individual failures are recorded here; only the reselect step escalates.
type RefreshReport struct {
	Steps []StepStatus
}

func (r *RefreshReport) add(name string, err error) {
	r.Steps = append(r.Steps, StepStatus{Name: name, Err: err})
}

// Summary renders the report as "name: OK" / "name: FAILED - err" lines.
func (r *RefreshReport) Summary() []string {
	lines := make([]string, 0, len(r.Steps))
	for _, step := range r.Steps {
		if step.Err == nil {
			lines = append(lines, step.Name+": OK")
		} else {
			lines = append(lines, fmt.Sprintf("%s: FAILED - %v", step.Name, step.Err))
		}
	}
	return lines
}

// refreshConn is the slice of the IMAP client the orchestrator needs.
// Narrowed so tests can drive the step sequence with a scripted fake.
type refreshConn interface {
	Noop() error
	Check() error
	Close() error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
}

// Refresh runs the provider-aware synchronization sequence against an open,
// folder-selected session: ping, checkpoint, close, reselect, provider extra.
// Every step's failure lands in the report; a reselect failure aborts the
// cycle because everything after it would read stale folder state.
func Refresh(ctx context.Context, s *Session) (*RefreshReport, error) {
	if s.FolderMissing() {
		return &RefreshReport{}, nil
	}

	report, mbox, err := runRefresh(ctx, s.client, s.Profile, s.FolderName, s.ReadOnly, sleepCtx)
	if mbox != nil {
		s.Mailbox = mbox
	}
	return report, err
}

func runRefresh(ctx context.Context, c refreshConn, profile Profile, folder string, readOnly bool, sleep func(context.Context, time.Duration) error) (*RefreshReport, *imap.MailboxStatus, error) {
	report := &RefreshReport{}

	// Step 1: ping, asking the server to flush pending state.
	report.add("noop", c.Noop())

	if err := ctx.Err(); err != nil {
		return report, nil, err
	}

	// Step 2: checkpoint. Not all servers support it; failure is non-fatal.
	report.add("checkpoint", c.Check())

	if err := ctx.Err(); err != nil {
		return report, nil, err
	}

	// Steps 3+4: drop the current selection and force the server to hand
	// back authoritative folder state.
	report.add("close", c.Close())

	mbox, err := c.Select(folder, readOnly)
	report.add("reselect", err)
	if err != nil {
		return report, nil, mailerr.E(mailerr.KindConnectivity, "refresh", fmt.Errorf("failed to re-select folder %s: %w", folder, err))
	}

	if err := ctx.Err(); err != nil {
		return report, mbox, err
	}

	// Step 5: provider-specific extra, bound to the profile at session
	// creation.
	switch profile.extra {
	case extraBroadSearch:
		report.add("broad-search", broadSearch(c))
	case extraLagSettle:
		if err := sleep(ctx, lagSettleDelay); err != nil {
			return report, mbox, err
		}
		report.add("lag-settle", c.Noop())
	}

	return report, mbox, nil
}

// broadSearch issues a match-everything UID search. Some providers only
// reconcile recently delivered mail into a folder when something queries it.
func broadSearch(c refreshConn) error {
	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(1, 0)
	_, err := c.UidSearch(criteria)
	return err
}

// sleepCtx sleeps, waking early on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
