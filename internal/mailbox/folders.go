package mailbox

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Folder is a logical folder name, independent of what the provider calls it.
type Folder string

const (
	FolderInbox   Folder = "Inbox"
	FolderSent    Folder = "Sent"
	FolderDrafts  Folder = "Drafts"
	FolderSpam    Folder = "Spam"
	FolderArchive Folder = "Archive"
	FolderTrash   Folder = "Trash"
)

// Folders lists every logical folder the engine knows.
func Folders() []Folder {
	return []Folder{FolderInbox, FolderSent, FolderDrafts, FolderSpam, FolderArchive, FolderTrash}
}

// ParseFolder maps a user-supplied name to a logical folder,
// case-insensitively.
func ParseFolder(name string) (Folder, error) {
	for _, folder := range Folders() {
		if strings.EqualFold(name, string(folder)) {
			return folder, nil
		}
	}
	if strings.EqualFold(name, "INBOX") {
		return FolderInbox, nil
	}
	return "", fmt.Errorf("unknown folder %q", name)
}

// ErrFolderNotFound means no candidate name for a logical folder exists on
// the server. Operations against such a folder return empty results rather
// than erroring, so a provider lacking a Spam folder cannot break the rest.
var ErrFolderNotFound = errors.New("no matching provider folder")

// Candidate provider names per logical folder, in priority order. The first
// name present in the server's advertised folder list wins. Gmail's
// namespaced variants come after the plain names so that servers exposing
// both prefer the conventional one.
var defaultCandidates = map[Folder][]string{
	FolderInbox:   {"INBOX"},
	FolderSent:    {"Sent", "Sent Items", "Sent Mail", "Sent Messages", "[Gmail]/Sent Mail", "INBOX.Sent", "INBOX/Sent"},
	FolderDrafts:  {"Drafts", "Draft", "[Gmail]/Drafts", "INBOX.Drafts"},
	FolderSpam:    {"Spam", "Junk", "Junk Email", "Bulk Mail", "[Gmail]/Spam", "INBOX.spam", "INBOX.Junk"},
	FolderArchive: {"Archive", "Archives", "All Mail", "[Gmail]/All Mail", "INBOX.Archive"},
	FolderTrash:   {"Trash", "Deleted", "Deleted Items", "Deleted Messages", "[Gmail]/Trash", "INBOX.Trash"},
}

// Resolver maps logical folder names to provider folder names. The server's
// folder list is fetched at most once per session generation; resolved names
// are cached for that generation and discarded when a newer one appears.
type Resolver struct {
	mu        sync.Mutex
	overrides map[Folder][]string

	generation uint64
	advertised []string
	resolved   map[Folder]string
}

// NewResolver builds a resolver. Overrides replace the built-in candidate
// list for a logical folder; keys are matched case-insensitively.
func NewResolver(overrides map[string][]string) *Resolver {
	r := &Resolver{overrides: make(map[Folder][]string)}
	for name, candidates := range overrides {
		for folder := range defaultCandidates {
			if strings.EqualFold(name, string(folder)) {
				r.overrides[folder] = candidates
			}
		}
	}
	return r
}

// Candidates returns the candidate provider names for a logical folder.
func (r *Resolver) Candidates(logical Folder) []string {
	if c, ok := r.overrides[logical]; ok {
		return c
	}
	return defaultCandidates[logical]
}

// Resolve maps a logical folder to a provider folder name using the server's
// advertised folder list, fetched lazily via list. Results are cached per
// generation. Returns ErrFolderNotFound (wrapped) when nothing matches.
func (r *Resolver) Resolve(generation uint64, logical Folder, list func() ([]string, error)) (string, error) {
	// INBOX is mandated by the protocol; no listing needed.
	if logical == FolderInbox {
		return "INBOX", nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.generation != generation || r.resolved == nil {
		advertised, err := list()
		if err != nil {
			return "", fmt.Errorf("failed to list folders: %w", err)
		}
		r.generation = generation
		r.advertised = advertised
		r.resolved = make(map[Folder]string)
	}

	if name, ok := r.resolved[logical]; ok {
		if name == "" {
			return "", fmt.Errorf("folder %s: %w", logical, ErrFolderNotFound)
		}
		return name, nil
	}

	for _, candidate := range r.Candidates(logical) {
		for _, name := range r.advertised {
			if strings.EqualFold(candidate, name) {
				r.resolved[logical] = name
				return name, nil
			}
		}
	}

	// Negative results are cached too, so a missing folder costs one
	// listing per generation, not one per operation.
	r.resolved[logical] = ""
	return "", fmt.Errorf("folder %s: %w", logical, ErrFolderNotFound)
}
