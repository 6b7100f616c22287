package mailbox

import "strings"

// Provider identifies a mail provider quirk profile. The set is closed:
// profiles are selected once at session creation by hostname prefix and
// dispatch through profile-bound step lists, never runtime type inspection.
type Provider int

const (
	ProviderGeneric Provider = iota
	ProviderGmail
	ProviderYahoo
	ProviderOutlook
)

func (p Provider) String() string {
	switch p {
	case ProviderGmail:
		return "gmail"
	case ProviderYahoo:
		return "yahoo"
	case ProviderOutlook:
		return "outlook"
	}
	return "generic"
}

// extraStep names the provider-specific final step of a refresh plan.
type extraStep int

const (
	// extraNone skips the provider step.
	extraNone extraStep = iota
	// extraBroadSearch issues a broad UID search as a synchronization nudge.
	extraBroadSearch
	// extraLagSettle waits briefly and pings again, for providers whose
	// folder state is known to lag behind the first ping.
	extraLagSettle
)

// Profile describes a provider's synchronization quirks.
type Profile struct {
	Provider Provider
	// PushCapable reports whether the profile advertises long-wait (IDLE)
	// support reliable enough for the Watching mode. Profiles without it
	// fall back to polling.
	PushCapable bool

	extra extraStep
}

var profiles = map[Provider]Profile{
	ProviderGeneric: {Provider: ProviderGeneric, PushCapable: true, extra: extraNone},
	ProviderGmail:   {Provider: ProviderGmail, PushCapable: true, extra: extraBroadSearch},
	// Yahoo's IDLE implementation routinely drops notifications, and its
	// folder state lags the first NOOP.
	ProviderYahoo:   {Provider: ProviderYahoo, PushCapable: false, extra: extraLagSettle},
	ProviderOutlook: {Provider: ProviderOutlook, PushCapable: true, extra: extraLagSettle},
}

var providerPrefixes = []struct {
	prefix   string
	provider Provider
}{
	{"imap.gmail.", ProviderGmail},
	{"imap.googlemail.", ProviderGmail},
	{"imap.mail.yahoo.", ProviderYahoo},
	{"imap.yahoo.", ProviderYahoo},
	{"outlook.", ProviderOutlook},
	{"imap-mail.outlook.", ProviderOutlook},
	{"imap.mail.outlook.", ProviderOutlook},
	{"imap.hotmail.", ProviderOutlook},
	{"imap.live.", ProviderOutlook},
	{"imap.office365.", ProviderOutlook},
}

// DetectProfile selects the provider profile for a hostname. Matching is by
// hostname prefix; unknown hosts get the generic profile.
func DetectProfile(host string) Profile {
	h := strings.ToLower(strings.TrimSpace(host))
	for _, entry := range providerPrefixes {
		if strings.HasPrefix(h, entry.prefix) {
			return profiles[entry.provider]
		}
	}
	return profiles[ProviderGeneric]
}
