package monitor

import (
	"context"
	"log"
	"time"

	"github.com/wolethescientist/email-engine/internal/mailbox"
	"github.com/wolethescientist/email-engine/internal/mailerr"
)

// run drives one handle until cancellation. It owns the handle's terminal
// transition and the closing of its event stream.
func (m *Monitor) run(ctx context.Context, h *Handle, mode Mode) {
	defer func() {
		h.markCancelled()
		close(h.events)
		close(h.done)
	}()

	interval := mode.interval
	if interval <= 0 {
		interval = m.opts.PollInterval
	}

	if mode.watch {
		if !m.syncer.SupportsWatch() {
			// Fallback, not failure: the caller gets a notice and the
			// loop polls instead.
			h.emit(ctx, noticeEvent(mailerr.KindCapability.String(),
				"provider does not support push-style waiting; falling back to polling"))
		} else {
			m.runWatching(ctx, h)
			return
		}
	}

	m.runPolling(ctx, h, interval)
}

// runPolling is the Polling state: one full cycle per tick, watermark
// comparison, then sleep until the next tick, early-waking on cancellation.
func (m *Monitor) runPolling(ctx context.Context, h *Handle, interval time.Duration) {
	h.setState(StatePolling)

	mark := &watermark{}
	retry := newBackoff(m.opts.BackoffInitial, m.opts.BackoffMax)

	for {
		if ctx.Err() != nil {
			return
		}

		result, err := m.cycle(ctx, h)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			m.reportFailure(ctx, h, retry, err)
			if !sleepCtx(ctx, retry.next()) {
				return
			}
			continue
		}
		retry.reset()

		news := mark.observe(result)
		m.record(ctx, CycleRecord{
			User:       h.User,
			Folder:     h.Folder,
			Generation: result.Generation,
			Steps:      reportSteps(result),
			NewMail:    len(news),
			At:         time.Now(),
		})

		if len(news) > 0 {
			h.noted()
			h.emit(ctx, newMailEvent(news))
		} else {
			h.emit(ctx, heartbeatEvent())
		}

		if !sleepCtx(ctx, interval) {
			return
		}
	}
}

// cycle runs one syncer cycle under a worker-pool slot.
func (m *Monitor) cycle(ctx context.Context, h *Handle) (*mailbox.CycleResult, error) {
	if err := m.acquireWorker(ctx); err != nil {
		return nil, err
	}
	defer m.releaseWorker()

	return m.syncer.Cycle(ctx, h.Folder, mailbox.SearchOptions{Window: m.opts.Window})
}

// runWatching is the Watching state: one long-lived session, a bounded
// re-issuable wait, one search pass per notification. A wait timeout renews
// silently; connection failures tear the session down and reopen after
// backoff, which bumps the generation and resets the watermark scope.
func (m *Monitor) runWatching(ctx context.Context, h *Handle) {
	h.setState(StateWatching)

	mark := &watermark{}
	retry := newBackoff(m.opts.BackoffInitial, m.opts.BackoffMax)

	for {
		if ctx.Err() != nil {
			return
		}

		fellBack, err := m.watchSession(ctx, h, mark, retry)
		if ctx.Err() != nil {
			return
		}
		if fellBack {
			// The server turned out not to speak IDLE despite the
			// profile. Same fallback as at start: notice, then poll.
			h.emit(ctx, noticeEvent(mailerr.KindCapability.String(),
				"server does not support push-style waiting; falling back to polling"))
			m.runPolling(ctx, h, m.opts.PollInterval)
			return
		}
		if err != nil {
			m.reportFailure(ctx, h, retry, err)
			if !sleepCtx(ctx, retry.next()) {
				return
			}
		}
	}
}

// watchSession opens one watch session and serves waits on it until it
// breaks or the watch is cancelled. Returns fellBack=true when the server
// lacks the push capability.
func (m *Monitor) watchSession(ctx context.Context, h *Handle, mark *watermark, retry *backoff) (fellBack bool, err error) {
	// A watching session holds a connection for its whole lifetime, so the
	// worker slot is held just as long.
	if err := m.acquireWorker(ctx); err != nil {
		return false, err
	}
	defer m.releaseWorker()

	conn, err := m.syncer.OpenWatch(ctx, h.Folder)
	if err != nil {
		if mailerr.IsKind(err, mailerr.KindCapability) {
			return true, nil
		}
		return false, err
	}
	defer conn.Close()

	// Prime the watermark against the session's current state before the
	// first wait, so only arrivals after this point count as new.
	result, err := conn.Search(ctx)
	if err != nil {
		return false, err
	}
	retry.reset()
	m.observeAndEmit(ctx, h, mark, result, false)

	for {
		outcome, err := conn.Wait(ctx, m.opts.IdleWaitCap)
		if ctx.Err() != nil {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		switch outcome {
		case mailbox.WaitTimedOut:
			// Silent renewal; the heartbeat tells consumers we're alive.
			h.emit(ctx, heartbeatEvent())
		case mailbox.WaitNotified:
			result, err := conn.Search(ctx)
			if err != nil {
				return false, err
			}
			m.observeAndEmit(ctx, h, mark, result, true)
		default:
			return false, nil
		}
	}
}

// observeAndEmit advances the watermark and emits the resulting events.
// heartbeatOnEmpty suppresses heartbeats for the priming pass.
func (m *Monitor) observeAndEmit(ctx context.Context, h *Handle, mark *watermark, result *mailbox.CycleResult, heartbeatOnEmpty bool) {
	news := mark.observe(result)
	m.record(ctx, CycleRecord{
		User:       h.User,
		Folder:     h.Folder,
		Generation: result.Generation,
		Steps:      reportSteps(result),
		NewMail:    len(news),
		At:         time.Now(),
	})

	if len(news) > 0 {
		h.noted()
		h.emit(ctx, newMailEvent(news))
	} else if heartbeatOnEmpty {
		h.emit(ctx, heartbeatEvent())
	}
}

// reportFailure logs and records a failed cycle. The Error event fires on
// entry to the degraded state only; later failures in the same streak are
// logged and journaled but not re-announced.
func (m *Monitor) reportFailure(ctx context.Context, h *Handle, retry *backoff, err error) {
	kind := classify(err)
	log.Printf("monitor: cycle failed for %s/%s (%s): %v", h.User, h.Folder, kind, err)

	m.record(ctx, CycleRecord{
		User:   h.User,
		Folder: h.Folder,
		Err:    err.Error(),
		At:     time.Now(),
	})

	if !retry.degraded() {
		h.emit(ctx, errorEvent(kind, err.Error()))
	}
}

func reportSteps(result *mailbox.CycleResult) []string {
	if result.Report == nil {
		return nil
	}
	return result.Report.Summary()
}

// sleepCtx sleeps for d, returning false when cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
