package mailbox

import (
	"errors"
	"testing"
)

func TestParseFolder(t *testing.T) {
	t.Run("accepts logical names case-insensitively", func(t *testing.T) {
		for input, want := range map[string]Folder{
			"Inbox":   FolderInbox,
			"inbox":   FolderInbox,
			"INBOX":   FolderInbox,
			"spam":    FolderSpam,
			"Archive": FolderArchive,
		} {
			got, err := ParseFolder(input)
			if err != nil {
				t.Fatalf("Expected no error for %q, got %v", input, err)
			}
			if got != want {
				t.Errorf("Expected %s for %q, got %s", want, input, got)
			}
		}
	})

	t.Run("rejects unknown names", func(t *testing.T) {
		if _, err := ParseFolder("Outbox"); err == nil {
			t.Error("Expected error for unknown folder")
		}
	})
}

func TestResolverResolve(t *testing.T) {
	t.Run("resolves INBOX without listing", func(t *testing.T) {
		r := NewResolver(nil)
		name, err := r.Resolve(1, FolderInbox, func() ([]string, error) {
			t.Fatal("list must not be called for INBOX")
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if name != "INBOX" {
			t.Errorf("Expected INBOX, got %s", name)
		}
	})

	t.Run("picks the first candidate present on the server", func(t *testing.T) {
		r := NewResolver(nil)
		name, err := r.Resolve(1, FolderSpam, func() ([]string, error) {
			return []string{"INBOX", "Junk", "Bulk Mail"}, nil
		})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		// "Spam" is the top candidate but absent; "Junk" comes next.
		if name != "Junk" {
			t.Errorf("Expected Junk, got %s", name)
		}
	})

	t.Run("matches advertised names case-insensitively", func(t *testing.T) {
		r := NewResolver(nil)
		name, err := r.Resolve(1, FolderTrash, func() ([]string, error) {
			return []string{"INBOX", "TRASH"}, nil
		})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if name != "TRASH" {
			t.Errorf("Expected the server's spelling TRASH, got %s", name)
		}
	})

	t.Run("returns ErrFolderNotFound when nothing matches", func(t *testing.T) {
		r := NewResolver(nil)
		_, err := r.Resolve(1, FolderSpam, func() ([]string, error) {
			return []string{"INBOX", "Sent"}, nil
		})
		if !errors.Is(err, ErrFolderNotFound) {
			t.Errorf("Expected ErrFolderNotFound, got %v", err)
		}
	})

	t.Run("lists once per generation and caches negatives", func(t *testing.T) {
		r := NewResolver(nil)
		calls := 0
		list := func() ([]string, error) {
			calls++
			return []string{"INBOX"}, nil
		}

		for i := 0; i < 3; i++ {
			if _, err := r.Resolve(7, FolderSpam, list); !errors.Is(err, ErrFolderNotFound) {
				t.Fatalf("Expected ErrFolderNotFound, got %v", err)
			}
		}
		if calls != 1 {
			t.Errorf("Expected 1 listing for generation 7, got %d", calls)
		}

		if _, err := r.Resolve(8, FolderSpam, list); !errors.Is(err, ErrFolderNotFound) {
			t.Fatalf("Expected ErrFolderNotFound, got %v", err)
		}
		if calls != 2 {
			t.Errorf("Expected a fresh listing for generation 8, got %d calls", calls)
		}
	})

	t.Run("overrides replace the built-in candidates", func(t *testing.T) {
		r := NewResolver(map[string][]string{"SPAM": {"Rubbish"}})
		_, err := r.Resolve(1, FolderSpam, func() ([]string, error) {
			return []string{"Junk"}, nil
		})
		if !errors.Is(err, ErrFolderNotFound) {
			t.Fatalf("Expected override to drop Junk from candidates, got %v", err)
		}

		r2 := NewResolver(map[string][]string{"spam": {"Rubbish"}})
		name, err := r2.Resolve(1, FolderSpam, func() ([]string, error) {
			return []string{"Rubbish"}, nil
		})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if name != "Rubbish" {
			t.Errorf("Expected Rubbish, got %s", name)
		}
	})

	t.Run("propagates listing failures", func(t *testing.T) {
		r := NewResolver(nil)
		boom := errors.New("LIST failed")
		_, err := r.Resolve(1, FolderSent, func() ([]string, error) {
			return nil, boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("Expected the listing error, got %v", err)
		}
	})
}
