package mailbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap"
)

// fakeSearchConn answers UID searches from a script: one response per call,
// in order.
type fakeSearchConn struct {
	responses [][]uint32
	criteria  []*imap.SearchCriteria
	err       error
}

func (f *fakeSearchConn) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	f.criteria = append(f.criteria, criteria)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, nil
	}
	uids := f.responses[0]
	f.responses = f.responses[1:]
	return uids, nil
}

func TestMergeRefs(t *testing.T) {
	t.Run("orders strategies recent, unseen, all", func(t *testing.T) {
		refs := mergeRefs(FolderInbox,
			[]uint32{10},
			[]uint32{20},
			[]uint32{30},
		)
		want := []uint32{10, 20, 30}
		if len(refs) != len(want) {
			t.Fatalf("Expected %d refs, got %d", len(want), len(refs))
		}
		for i, uid := range want {
			if refs[i].UID != uid {
				t.Errorf("Expected position %d to be uid %d, got %d", i, uid, refs[i].UID)
			}
		}
	})

	t.Run("first occurrence wins on overlap", func(t *testing.T) {
		refs := mergeRefs(FolderInbox,
			[]uint32{5, 7},
			[]uint32{7, 3},
			[]uint32{1, 3, 5, 7},
		)
		want := []uint32{7, 5, 3, 1}
		if len(refs) != len(want) {
			t.Fatalf("Expected %d refs, got %d: %+v", len(want), len(refs), refs)
		}
		for i, uid := range want {
			if refs[i].UID != uid {
				t.Errorf("Expected position %d to be uid %d, got %d", i, uid, refs[i].UID)
			}
		}
	})

	t.Run("sorts descending UID within each strategy", func(t *testing.T) {
		refs := mergeRefs(FolderInbox,
			[]uint32{2, 9, 4},
			nil,
			[]uint32{1, 8},
		)
		want := []uint32{9, 4, 2, 8, 1}
		for i, uid := range want {
			if refs[i].UID != uid {
				t.Errorf("Expected position %d to be uid %d, got %d", i, uid, refs[i].UID)
			}
		}
	})

	t.Run("membership flags survive deduplication", func(t *testing.T) {
		refs := mergeRefs(FolderInbox,
			[]uint32{7},
			[]uint32{7, 3},
			[]uint32{3, 7},
		)

		byUID := make(map[uint32]Ref)
		for _, ref := range refs {
			byUID[ref.UID] = ref
		}
		if !byUID[7].Recent || !byUID[7].Unseen {
			t.Errorf("Expected uid 7 to keep both flags, got %+v", byUID[7])
		}
		if byUID[3].Recent || !byUID[3].Unseen {
			t.Errorf("Expected uid 3 to be unseen only, got %+v", byUID[3])
		}
	})

	t.Run("empty strategies merge to empty", func(t *testing.T) {
		refs := mergeRefs(FolderInbox, nil, nil, nil)
		if len(refs) != 0 {
			t.Errorf("Expected no refs, got %d", len(refs))
		}
	})
}

func TestSearchRecent(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("uses the recent flag result when present", func(t *testing.T) {
		conn := &fakeSearchConn{responses: [][]uint32{{4, 5}}}
		uids, err := searchRecent(conn, time.Hour, now)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(uids) != 2 {
			t.Errorf("Expected 2 uids, got %d", len(uids))
		}
		if len(conn.criteria) != 1 {
			t.Errorf("Expected no fallback searches, got %d", len(conn.criteria))
		}
	})

	t.Run("falls back to the window when the flag finds nothing", func(t *testing.T) {
		conn := &fakeSearchConn{responses: [][]uint32{nil, {8}}}
		uids, err := searchRecent(conn, time.Hour, now)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(uids) != 1 || uids[0] != 8 {
			t.Errorf("Expected uid 8, got %v", uids)
		}

		since := conn.criteria[1].Since
		if !since.Equal(now.Add(-time.Hour)) {
			t.Errorf("Expected window of 1h, got since=%v", since)
		}
	})

	t.Run("widened window finds what the first window missed", func(t *testing.T) {
		// A two-hour-old message is outside the 1h window but inside the
		// widened day.
		conn := &fakeSearchConn{responses: [][]uint32{nil, nil, {9}}}
		uids, err := searchRecent(conn, time.Hour, now)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(uids) != 1 || uids[0] != 9 {
			t.Errorf("Expected uid 9 from the widened window, got %v", uids)
		}
	})

	t.Run("widens to a day exactly once", func(t *testing.T) {
		conn := &fakeSearchConn{responses: [][]uint32{nil, nil, nil}}
		uids, err := searchRecent(conn, time.Hour, now)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(uids) != 0 {
			t.Errorf("Expected no uids, got %v", uids)
		}
		if len(conn.criteria) != 3 {
			t.Fatalf("Expected flag + window + widened window searches, got %d", len(conn.criteria))
		}
		if !conn.criteria[2].Since.Equal(now.Add(-widenedSearchWindow)) {
			t.Errorf("Expected widened window of 24h, got since=%v", conn.criteria[2].Since)
		}
	})

	t.Run("zero window means the one-hour default", func(t *testing.T) {
		conn := &fakeSearchConn{responses: [][]uint32{nil, nil, nil}}
		if _, err := searchRecent(conn, 0, now); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if !conn.criteria[1].Since.Equal(now.Add(-defaultSearchWindow)) {
			t.Errorf("Expected default window, got since=%v", conn.criteria[1].Since)
		}
	})
}

func TestRunSearch(t *testing.T) {
	now := time.Now()

	t.Run("merges the three strategies", func(t *testing.T) {
		conn := &fakeSearchConn{responses: [][]uint32{
			{1, 2, 3}, // all
			{3},       // unseen
			{3},       // recent flag
		}}
		refs, err := runSearch(context.Background(), conn, FolderInbox, SearchOptions{}, now)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(refs) != 3 {
			t.Fatalf("Expected 3 refs, got %d", len(refs))
		}
		if refs[0].UID != 3 || !refs[0].Recent || !refs[0].Unseen {
			t.Errorf("Expected uid 3 first with both flags, got %+v", refs[0])
		}
	})

	t.Run("propagates search failures", func(t *testing.T) {
		conn := &fakeSearchConn{err: errors.New("BAD search")}
		if _, err := runSearch(context.Background(), conn, FolderInbox, SearchOptions{}, now); err == nil {
			t.Fatal("Expected an error")
		}
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		conn := &fakeSearchConn{}
		if _, err := runSearch(ctx, conn, FolderInbox, SearchOptions{}, now); !errors.Is(err, context.Canceled) {
			t.Fatalf("Expected context.Canceled, got %v", err)
		}
		if len(conn.criteria) != 0 {
			t.Error("Expected no searches after cancellation")
		}
	})
}

func TestPaginate(t *testing.T) {
	refs := []Ref{{UID: 5}, {UID: 4}, {UID: 3}, {UID: 2}, {UID: 1}}

	t.Run("applies offset and limit after merge", func(t *testing.T) {
		page := paginate(refs, 1, 2)
		if len(page) != 2 || page[0].UID != 4 || page[1].UID != 3 {
			t.Errorf("Expected uids [4 3], got %+v", page)
		}
	})

	t.Run("offset past the end yields empty", func(t *testing.T) {
		if page := paginate(refs, 10, 2); len(page) != 0 {
			t.Errorf("Expected empty page, got %+v", page)
		}
	})

	t.Run("zero limit means everything", func(t *testing.T) {
		if page := paginate(refs, 0, 0); len(page) != len(refs) {
			t.Errorf("Expected all refs, got %d", len(page))
		}
	})

	t.Run("negative offset is clamped", func(t *testing.T) {
		if page := paginate(refs, -3, 0); len(page) != len(refs) {
			t.Errorf("Expected all refs, got %d", len(page))
		}
	})
}
