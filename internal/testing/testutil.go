// ABOUTME: Package testing provides shared test utilities and helper functions for clawnetes.
//
// This package contains test helpers and assertion utilities that promote
// consistent testing patterns across the codebase.
//
// Key utilities:
//   - Network helpers: FreePort, NewEchoServer, NewSSHServer
//   - Test helpers: TempFile, OpenTestDB, AssertJSONEqual
//   - HTTP doubles: MockHTTPHandler
//
// The package is designed to work with github.com/stretchr/testify for
// assertions.
package testing

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// FixedTime is a fixed timestamp for deterministic tests.
var FixedTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// AssertJSONEqual asserts that two JSON values are semantically equal.
//
// Both values are marshalled and compared after decoding, ignoring
// whitespace and key order. []byte and string arguments are treated as raw
// JSON documents.
func AssertJSONEqual(t *testing.T, want, got any, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, decodeJSON(t, want), decodeJSON(t, got), msgAndArgs...)
}

func decodeJSON(t *testing.T, v any) any {
	t.Helper()
	var raw []byte
	switch typed := v.(type) {
	case []byte:
		raw = typed
	case string:
		raw = []byte(typed)
	default:
		var err error
		raw, err = json.Marshal(v)
		require.NoError(t, err, "failed to marshal value to JSON")
	}
	var out any
	require.NoError(t, json.Unmarshal(raw, &out), "failed to unmarshal JSON: %s", raw)
	return out
}

// TempFile writes content to name inside the test's temporary directory and
// returns its path.
func TempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600), "failed to write temp file")
	return path
}

// OpenTestDB opens a SQLite database in a temporary directory. The database
// is closed when the test completes.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// RequireNoRows asserts that a COUNT query returns zero.
func RequireNoRows(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	var count int
	require.NoError(t, db.QueryRow(query, args...).Scan(&count), "failed to query rows")
	require.Equal(t, 0, count, "expected no rows")
}

// FreePort returns a loopback TCP port that was free at the time of the call.
func FreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to find free port")
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// EchoServer is a loopback TCP server that writes back whatever it reads.
type EchoServer struct {
	Addr string
	Port int

	ln       net.Listener
	accepted atomic.Int64
	mu       sync.Mutex
	conns    []net.Conn
	wg       sync.WaitGroup
}

// NewEchoServer starts an echo server that is closed with the test.
func NewEchoServer(t *testing.T) *EchoServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to listen for echo server")
	s := &EchoServer{Addr: ln.Addr().String(), Port: ln.Addr().(*net.TCPAddr).Port, ln: ln}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Accepted reports how many connections the server has accepted.
func (s *EchoServer) Accepted() int {
	return int(s.accepted.Load())
}

// DropAll closes every accepted connection, simulating the far side going
// away.
func (s *EchoServer) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

// Close stops the server and drops open connections.
func (s *EchoServer) Close() {
	_ = s.ln.Close()
	s.DropAll()
	s.wg.Wait()
}

func (s *EchoServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		s.accepted.Add(1)
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_, _ = io.Copy(conn, conn)
			_ = conn.Close()
		}()
	}
}
