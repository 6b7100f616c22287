package monitor

import "github.com/wolethescientist/email-engine/internal/mailbox"

// watermark tracks the highest UID already reported as new. UIDs only mean
// anything within a (folder, UIDVALIDITY) scope, so the watermark carries
// the UIDVALIDITY it was built against and resets when it changes; after a
// reset a UID from the old scope may legitimately be reported again.
//
// The watermark is owned exclusively by one loop and mutated only between
// cycles; no locking is needed.
type watermark struct {
	primed      bool
	uidValidity uint32
	highest     uint32
}

// observe compares a cycle's refs against the watermark, advances it, and
// returns the refs that count as new mail.
//
// The very first successful cycle primes the watermark silently: a watch
// reports arrivals after it started, not the mailbox's backlog. A later
// UIDVALIDITY change resets the scope and every ref counts as first sight
// again; delivery is at-least-once across such resets.
func (w *watermark) observe(result *mailbox.CycleResult) []mailbox.Ref {
	if !w.primed {
		w.primed = true
		w.uidValidity = result.UIDValidity
		w.highest = maxUID(result.Refs)
		return nil
	}

	if result.UIDValidity != w.uidValidity {
		w.uidValidity = result.UIDValidity
		w.highest = maxUID(result.Refs)
		return result.Refs
	}

	var news []mailbox.Ref
	for _, ref := range result.Refs {
		if ref.UID > w.highest {
			news = append(news, ref)
		}
	}
	if top := maxUID(result.Refs); top > w.highest {
		w.highest = top
	}
	return news
}

func maxUID(refs []mailbox.Ref) uint32 {
	var top uint32
	for _, ref := range refs {
		if ref.UID > top {
			top = ref.UID
		}
	}
	return top
}
