package mailbox

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"
)

// ErrAttachmentNotFound means the named attachment does not exist on the
// message.
var ErrAttachmentNotFound = errors.New("attachment not found")

// Record is a fully materialized message. The caller owns it outright; no
// backing connection is retained.
type Record struct {
	UID      uint32
	Folder   Folder
	Subject  string
	From     string
	To       []string
	Cc       []string
	Bcc      []string
	Date     time.Time
	BodyText string
	BodyHTML string
	// Attachments lists filenames only. Content is fetched lazily through
	// FetchAttachment, keyed by (uid, filename).
	Attachments []string
	Seen        bool
	// ParseError marks a best-effort record whose body could not be
	// parsed. The envelope fields above are still populated from the
	// server's ENVELOPE response.
	ParseError bool
}

// Body returns the preferred rendering: HTML when present, plain otherwise.
func (r *Record) Body() string {
	if r.BodyHTML != "" {
		return r.BodyHTML
	}
	return r.BodyText
}

// Materialize converts the raw fetch payload for ref into a Record.
// A message whose body cannot be parsed yields a best-effort record with
// ParseError set rather than an error, so one malformed message never
// poisons a batch.
func Materialize(s *Session, ref Ref) (*Record, error) {
	if s.FolderMissing() {
		return nil, fmt.Errorf("folder %s: %w", s.Logical, ErrFolderNotFound)
	}

	msg, err := fetchFullMessage(s.client, ref.UID)
	if err != nil {
		return nil, err
	}

	return buildRecord(msg, s.Logical), nil
}

// FetchAttachment retrieves the content of one named attachment. Unknown
// names return ErrAttachmentNotFound; nothing else about the message is
// affected.
func FetchAttachment(s *Session, uid uint32, filename string) ([]byte, error) {
	if s.FolderMissing() {
		return nil, fmt.Errorf("folder %s: %w", s.Logical, ErrFolderNotFound)
	}

	msg, err := fetchFullMessage(s.client, uid)
	if err != nil {
		return nil, err
	}

	bodyReader := messageBody(msg)
	if bodyReader == nil {
		return nil, fmt.Errorf("attachment %q: %w", filename, ErrAttachmentNotFound)
	}

	envelope, err := enmime.ReadEnvelope(bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message for attachment: %w", err)
	}

	for _, part := range envelope.Attachments {
		if part.FileName == filename {
			return part.Content, nil
		}
	}
	for _, part := range envelope.Inlines {
		if part.FileName == filename {
			return part.Content, nil
		}
	}

	return nil, fmt.Errorf("attachment %q: %w", filename, ErrAttachmentNotFound)
}

// uidFetcher is the slice of the IMAP client the materializer needs.
type uidFetcher interface {
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
}

// fetchFullMessage fetches envelope, flags and body structure first, then
// the body section, in two passes over the same connection.
func fetchFullMessage(c uidFetcher, uid uint32) (*imap.Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchBodyStructure,
		imap.FetchFlags,
		imap.FetchUid,
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	msg := <-messages
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("server did not return message %d", uid)
	}

	section := &imap.BodySectionName{}
	bodyMessages := make(chan *imap.Message, 1)
	bodyDone := make(chan error, 1)

	go func() {
		bodyDone <- c.UidFetch(seqSet, []imap.FetchItem{section.FetchItem()}, bodyMessages)
	}()

	bodyMsg := <-bodyMessages
	if err := <-bodyDone; err != nil {
		return nil, fmt.Errorf("failed to fetch message body: %w", err)
	}
	if bodyMsg != nil {
		msg.Body = bodyMsg.Body
	}

	return msg, nil
}

// buildRecord assembles a Record from the fetched payload. Envelope fields
// come from the server's ENVELOPE response; body and attachments from MIME
// parsing, which may fail independently.
func buildRecord(msg *imap.Message, folder Folder) *Record {
	record := &Record{
		UID:    msg.Uid,
		Folder: folder,
	}

	for _, flag := range msg.Flags {
		if flag == imap.SeenFlag {
			record.Seen = true
		}
	}

	if env := msg.Envelope; env != nil {
		record.Subject = env.Subject
		record.Date = env.Date
		if len(env.From) > 0 {
			record.From = formatAddress(env.From[0])
		}
		record.To = formatAddressList(env.To)
		record.Cc = formatAddressList(env.Cc)
		record.Bcc = formatAddressList(env.Bcc)
	}

	// Attachment names come from the body structure, so enumerating them
	// never requires the attachment content itself.
	record.Attachments = attachmentNames(msg.BodyStructure)

	bodyReader := messageBody(msg)
	if bodyReader == nil {
		record.ParseError = true
		return record
	}

	envelope, err := enmime.ReadEnvelope(bodyReader)
	if err != nil {
		record.ParseError = true
		return record
	}

	record.BodyText = envelope.Text
	record.BodyHTML = envelope.HTML

	if len(record.Attachments) == 0 {
		for _, part := range envelope.Attachments {
			if part.FileName != "" {
				record.Attachments = append(record.Attachments, part.FileName)
			}
		}
	}

	return record
}

// messageBody returns a reader over the fetched BODY[] section, if any.
func messageBody(msg *imap.Message) io.Reader {
	for _, literal := range msg.Body {
		if literal != nil {
			return literal
		}
	}
	return nil
}

// attachmentNames walks a body structure collecting part filenames.
func attachmentNames(structure *imap.BodyStructure) []string {
	if structure == nil {
		return nil
	}

	var names []string
	var walk func(part *imap.BodyStructure)
	walk = func(part *imap.BodyStructure) {
		if part == nil {
			return
		}
		if name, err := part.Filename(); err == nil && name != "" {
			names = append(names, name)
		}
		for _, sub := range part.Parts {
			walk(sub)
		}
	}
	walk(structure)
	return names
}

// formatAddress renders an IMAP address as "Name <box@host>" or "box@host".
func formatAddress(address *imap.Address) string {
	if address == nil {
		return ""
	}

	if address.MailboxName == "" && address.HostName == "" {
		return ""
	}

	if address.PersonalName != "" {
		return fmt.Sprintf("%s <%s@%s>", address.PersonalName, address.MailboxName, address.HostName)
	}

	return fmt.Sprintf("%s@%s", address.MailboxName, address.HostName)
}

func formatAddressList(addresses []*imap.Address) []string {
	result := make([]string, 0, len(addresses))
	for _, address := range addresses {
		if formatted := formatAddress(address); formatted != "" {
			result = append(result, formatted)
		}
	}
	return result
}
