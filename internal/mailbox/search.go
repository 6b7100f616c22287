package mailbox

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
)

const (
	// defaultSearchWindow is the fallback time window when the server's
	// just-arrived signal comes back empty.
	defaultSearchWindow = time.Hour
	// widenedSearchWindow is the single widening step applied when the
	// first window also finds nothing.
	widenedSearchWindow = 24 * time.Hour
)

// Ref identifies one message within a (folder, generation) scope. UIDs are
// meaningless outside that scope: a reconnect invalidates them.
type Ref struct {
	UID    uint32
	Folder Folder
	// Unseen and Recent record which strategies claimed the UID.
	Unseen bool
	Recent bool
	// ArrivalHint is the 1-based position in server arrival order, newest
	// first, when the server supports SORT. Zero means no hint.
	ArrivalHint int
}

// SearchOptions tunes one aggregated search.
type SearchOptions struct {
	// Window bounds the time-based fallback of the Recent strategy.
	// Zero means the one-hour default.
	Window time.Duration
	// Offset and Limit paginate the merged result. Pagination runs after
	// the merge, never before, so ordering is stable across pages.
	Offset int
	Limit  int
}

// searchConn is the slice of the IMAP client the aggregator needs.
type searchConn interface {
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
}

// SearchMailbox runs the three query strategies against the selected folder
// and merges them deterministically: Recent first, then Unseen, then All,
// first occurrence wins, descending UID within each strategy.
func SearchMailbox(ctx context.Context, s *Session, opts SearchOptions) ([]Ref, error) {
	if s.FolderMissing() {
		return []Ref{}, nil
	}

	refs, err := runSearch(ctx, s.client, s.Logical, opts, time.Now())
	if err != nil {
		return nil, err
	}

	// Arrival-order hint via server-side SORT, when advertised. Purely
	// advisory: failures leave the hints at zero.
	if s.Supports("SORT") {
		applyArrivalHints(s, refs)
	}

	return paginate(refs, opts.Offset, opts.Limit), nil
}

func runSearch(ctx context.Context, c searchConn, folder Folder, opts SearchOptions, now time.Time) ([]Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all, err := c.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("failed to search all: %w", err)
	}

	unseenCriteria := imap.NewSearchCriteria()
	unseenCriteria.WithoutFlags = []string{imap.SeenFlag}
	unseen, err := c.UidSearch(unseenCriteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search unseen: %w", err)
	}

	recent, err := searchRecent(c, opts.Window, now)
	if err != nil {
		return nil, fmt.Errorf("failed to search recent: %w", err)
	}

	return mergeRefs(folder, recent, unseen, all), nil
}

// searchRecent looks for just-arrived messages. The \Recent flag is
// connection-scoped on most servers, so a fresh connection commonly sees
// none; fall back to a time window, widening once to a day before giving up.
func searchRecent(c searchConn, window time.Duration, now time.Time) ([]uint32, error) {
	recentCriteria := imap.NewSearchCriteria()
	recentCriteria.WithFlags = []string{imap.RecentFlag}
	uids, err := c.UidSearch(recentCriteria)
	if err != nil {
		return nil, err
	}
	if len(uids) > 0 {
		return uids, nil
	}

	if window <= 0 {
		window = defaultSearchWindow
	}

	for _, w := range []time.Duration{window, widenedSearchWindow} {
		sinceCriteria := imap.NewSearchCriteria()
		sinceCriteria.Since = now.Add(-w)
		uids, err = c.UidSearch(sinceCriteria)
		if err != nil {
			return nil, err
		}
		if len(uids) > 0 {
			return uids, nil
		}
	}

	return nil, nil
}

// mergeRefs concatenates the strategies in priority order and deduplicates
// keeping the first occurrence: a UID claimed by Recent is never displaced
// by its later appearance in Unseen or All. Within a strategy, descending
// UID (newest first).
func mergeRefs(folder Folder, recent, unseen, all []uint32) []Ref {
	unseenSet := make(map[uint32]bool, len(unseen))
	for _, uid := range unseen {
		unseenSet[uid] = true
	}
	recentSet := make(map[uint32]bool, len(recent))
	for _, uid := range recent {
		recentSet[uid] = true
	}

	merged := make([]Ref, 0, len(all))
	seen := make(map[uint32]bool, len(all))

	appendStrategy := func(uids []uint32) {
		for _, uid := range sortUIDsDesc(uids) {
			if seen[uid] {
				continue
			}
			seen[uid] = true
			merged = append(merged, Ref{
				UID:    uid,
				Folder: folder,
				Unseen: unseenSet[uid],
				Recent: recentSet[uid],
			})
		}
	}

	appendStrategy(recent)
	appendStrategy(unseen)
	appendStrategy(all)

	return merged
}

func sortUIDsDesc(uids []uint32) []uint32 {
	sorted := make([]uint32, len(uids))
	copy(sorted, uids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	return sorted
}

func paginate(refs []Ref, offset, limit int) []Ref {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(refs) {
		return []Ref{}
	}
	refs = refs[offset:]
	if limit > 0 && limit < len(refs) {
		refs = refs[:limit]
	}
	return refs
}

// applyArrivalHints asks the server for arrival order (newest first) and
// annotates matching refs with their position.
func applyArrivalHints(s *Session, refs []Ref) {
	sortClient := sortthread.NewSortClient(s.client)
	criteria := imap.NewSearchCriteria()
	order, err := sortClient.UidSort([]sortthread.SortCriterion{
		{Field: sortthread.SortArrival, Reverse: true},
	}, criteria)
	if err != nil {
		return
	}

	position := make(map[uint32]int, len(order))
	for i, uid := range order {
		position[uid] = i + 1
	}
	for i := range refs {
		refs[i].ArrivalHint = position[refs[i].UID]
	}
}
