// Package testutil provides an in-process IMAP server for tests.
package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is a test IMAP server with an in-memory backend. The
// backend ships a default user with username "username" and password
// "password" and a pre-seeded INBOX.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	cleanup  func()
	username string
	password string
}

// NewTestIMAPServer starts a server on a random local port and registers
// its shutdown with t.Cleanup.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := memory.New()

	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	addr := listener.Addr().String()

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("IMAP server error: %v", err)
		}
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	srv := &TestIMAPServer{
		Server:   s,
		Address:  addr,
		Backend:  be,
		cleanup:  func() { _ = s.Close() },
		username: "username",
		password: "password",
	}
	t.Cleanup(srv.Close)
	return srv
}

// Close shuts down the test IMAP server.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the default test password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// HostPort splits the server address for config-style callers.
func (s *TestIMAPServer) HostPort(t *testing.T) (string, int) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(s.Address)
	if err != nil {
		t.Fatalf("Failed to split server address: %v", err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		t.Fatalf("Failed to parse server port: %v", err)
	}
	return host, port
}

// Connect creates a logged-in IMAP client connection to the test server.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	if err := client.Login(s.username, s.password); err != nil {
		_ = client.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	cleanup := func() {
		_ = client.Logout()
	}

	return client, cleanup
}

// CreateFolder creates a folder for the default user.
func (s *TestIMAPServer) CreateFolder(t *testing.T, name string) {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if err := client.Create(name); err != nil {
		t.Fatalf("Failed to create folder %s: %v", name, err)
	}
}

// AddMessage appends a message with the given flags and internal date and
// returns its UID. Flags control which search strategies pick it up.
func (s *TestIMAPServer) AddMessage(t *testing.T, folderName, messageID, subject, from, to string, flags []string, date time.Time) uint32 {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(folderName, false); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}

	messageBody := fmt.Sprintf(`Message-ID: %s
Date: %s
From: %s
To: %s
Subject: %s
Content-Type: text/plain; charset=utf-8

Test message body.
`, messageID, date.Format(time.RFC1123Z), from, to, subject)

	if err := client.Append(folderName, flags, date, strings.NewReader(messageBody)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", messageID)
	uids, err := client.UidSearch(criteria)
	if err != nil {
		t.Fatalf("Failed to search for message: %v", err)
	}

	if len(uids) == 0 {
		t.Fatalf("Message not found after append")
	}

	return uids[0]
}

// AddRawMessage appends a full RFC 822 message body verbatim and returns
// its UID, for tests that need multipart or broken MIME.
func (s *TestIMAPServer) AddRawMessage(t *testing.T, folderName string, flags []string, date time.Time, raw string) uint32 {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(folderName, false); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}

	status, err := client.Status(folderName, []imap.StatusItem{imap.StatusUidNext})
	if err != nil {
		t.Fatalf("Failed to get folder status: %v", err)
	}
	uid := status.UidNext

	if err := client.Append(folderName, flags, date, strings.NewReader(raw)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	return uid
}
