package mailbox

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
)

func rawMessage(body string) *imap.Message {
	section := &imap.BodySectionName{}
	return &imap.Message{
		Uid: 42,
		Body: map[*imap.BodySectionName]imap.Literal{
			section: bytes.NewBufferString(body),
		},
	}
}

const plainTextMessage = "From: John Doe <john@example.com>\r\n" +
	"To: jane@example.com\r\n" +
	"Subject: Hello\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Plain body.\r\n"

const multipartMessage = "From: john@example.com\r\n" +
	"To: jane@example.com\r\n" +
	"Subject: Report\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b2\"\r\n" +
	"\r\n" +
	"--b2\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Plain body.\r\n" +
	"--b2\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>HTML body.</p>\r\n" +
	"--b2--\r\n" +
	"--b1\r\n" +
	"Content-Type: application/pdf; name=\"report.pdf\"\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0=\r\n" +
	"--b1--\r\n"

func TestBuildRecord(t *testing.T) {
	t.Run("populates envelope fields", func(t *testing.T) {
		msg := rawMessage(plainTextMessage)
		msg.Flags = []string{imap.SeenFlag, imap.AnsweredFlag}
		msg.Envelope = &imap.Envelope{
			Subject: "Hello",
			Date:    time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
			From: []*imap.Address{
				{PersonalName: "John Doe", MailboxName: "john", HostName: "example.com"},
			},
			To: []*imap.Address{
				{MailboxName: "jane", HostName: "example.com"},
			},
		}

		record := buildRecord(msg, FolderInbox)
		if record.UID != 42 {
			t.Errorf("Expected uid 42, got %d", record.UID)
		}
		if record.Subject != "Hello" {
			t.Errorf("Expected subject Hello, got %s", record.Subject)
		}
		if record.From != "John Doe <john@example.com>" {
			t.Errorf("Expected formatted From, got %s", record.From)
		}
		if len(record.To) != 1 || record.To[0] != "jane@example.com" {
			t.Errorf("Expected To [jane@example.com], got %v", record.To)
		}
		if !record.Seen {
			t.Error("Expected Seen to be set from flags")
		}
		if record.ParseError {
			t.Error("Expected no parse error")
		}
	})

	t.Run("prefers HTML body over plain", func(t *testing.T) {
		record := buildRecord(rawMessage(multipartMessage), FolderInbox)
		if record.ParseError {
			t.Fatal("Expected no parse error")
		}
		if !strings.Contains(record.BodyHTML, "HTML body") {
			t.Errorf("Expected HTML body, got %q", record.BodyHTML)
		}
		if !strings.Contains(record.Body(), "HTML body") {
			t.Errorf("Expected Body() to prefer HTML, got %q", record.Body())
		}
	})

	t.Run("lists attachment filenames without content", func(t *testing.T) {
		record := buildRecord(rawMessage(multipartMessage), FolderInbox)
		if len(record.Attachments) != 1 || record.Attachments[0] != "report.pdf" {
			t.Errorf("Expected [report.pdf], got %v", record.Attachments)
		}
	})

	t.Run("marks unparseable bodies and keeps envelope fields", func(t *testing.T) {
		msg := &imap.Message{
			Uid: 7,
			Envelope: &imap.Envelope{
				Subject: "Broken",
			},
			// No body section at all.
		}

		record := buildRecord(msg, FolderInbox)
		if !record.ParseError {
			t.Error("Expected ParseError for missing body")
		}
		if record.Subject != "Broken" {
			t.Errorf("Expected envelope subject to survive, got %s", record.Subject)
		}
	})
}

func TestFormatAddress(t *testing.T) {
	t.Run("formats address with personal name", func(t *testing.T) {
		address := &imap.Address{
			PersonalName: "John Doe",
			MailboxName:  "john",
			HostName:     "example.com",
		}
		if got := formatAddress(address); got != "John Doe <john@example.com>" {
			t.Errorf("Expected John Doe <john@example.com>, got %s", got)
		}
	})

	t.Run("formats address without personal name", func(t *testing.T) {
		address := &imap.Address{MailboxName: "jane", HostName: "example.com"}
		if got := formatAddress(address); got != "jane@example.com" {
			t.Errorf("Expected jane@example.com, got %s", got)
		}
	})

	t.Run("returns empty string for nil or empty address", func(t *testing.T) {
		if got := formatAddress(nil); got != "" {
			t.Errorf("Expected empty string, got %s", got)
		}
		if got := formatAddress(&imap.Address{}); got != "" {
			t.Errorf("Expected empty string, got %s", got)
		}
	})
}

func TestFormatAddressList(t *testing.T) {
	addresses := []*imap.Address{
		{MailboxName: "user1", HostName: "example.com"},
		{},
		{PersonalName: "User Two", MailboxName: "user2", HostName: "example.com"},
	}

	result := formatAddressList(addresses)
	if len(result) != 2 {
		t.Fatalf("Expected 2 addresses, got %d", len(result))
	}
	if result[0] != "user1@example.com" {
		t.Errorf("Expected first address user1@example.com, got %s", result[0])
	}
	if result[1] != "User Two <user2@example.com>" {
		t.Errorf("Expected second address User Two <user2@example.com>, got %s", result[1])
	}
}
