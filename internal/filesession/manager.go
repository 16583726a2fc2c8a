// Package filesession tracks the lifetime of transcoded audio files on
// local disk.
//
// A session is registered when the audio service finishes converting a
// recording and lives until every downstream service that needs local
// file access has reported completion, at which point the file is
// deleted exactly once. A periodic sweep reclaims sessions whose
// cleanup timeout has elapsed, so a crashed or stuck consumer can never
// strand a file forever.
//
// All exported methods are safe for concurrent use. File deletions are
// performed outside the manager's mutex.
package filesession

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultCleanupTimeout bounds how long a session may stay active
	// before the periodic sweep force-cleans it.
	DefaultCleanupTimeout = 30 * time.Minute

	// DefaultSweepInterval is how often [Manager.Run] scans for expired
	// sessions.
	DefaultSweepInterval = 5 * time.Minute
)

// ErrSessionExists is returned by [Manager.Register] when the session ID
// is already registered. Registration is monotonic; the first
// registration wins and state is not corrupted.
var ErrSessionExists = errors.New("filesession: session already registered")

// ErrFileMissing is returned by [Manager.Register] when the file to
// track does not exist.
var ErrFileMissing = errors.New("filesession: file does not exist")

// Session is the tracked state of one transcoded audio file.
type Session struct {
	SessionID        string
	FilePath         string
	CreatedAt        time.Time
	CleanupTimeout   time.Duration
	Dependencies     map[string]struct{}
	CleanupCompleted bool
}

// Info is a read-only snapshot of a [Session] for observability.
type Info struct {
	SessionID        string    `json:"session_id"`
	FilePath         string    `json:"file_path"`
	CreatedAt        time.Time `json:"created_at"`
	Dependencies     []string  `json:"dependencies"`
	CleanupCompleted bool      `json:"cleanup_completed"`
}

// Manager owns every active file session. Construct with [NewManager].
type Manager struct {
	sweepInterval time.Duration
	counter       atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option is a functional option for configuring a Manager.
type Option func(*Manager)

// WithSweepInterval overrides how often [Manager.Run] scans for expired
// sessions. Default is 5 minutes.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sweepInterval: DefaultSweepInterval,
		sessions:      make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// GenerateSessionID derives a unique session ID from the question key
// plus a monotonically increasing counter and the current timestamp, so
// that retries of the same question produce distinct sessions.
func (m *Manager) GenerateSessionID(submissionKey string, questionNumber int) string {
	h := fnv.New32a()
	h.Write([]byte(submissionKey))
	return fmt.Sprintf("session-%08x-q%d-%d-%d",
		h.Sum32(), questionNumber, time.Now().UnixMilli(), m.counter.Add(1))
}

// Register records a session for the file at filePath with the set of
// services that must report completion before cleanup. The file must
// exist. A second registration with the same session ID is rejected
// with [ErrSessionExists].
func (m *Manager) Register(sessionID, filePath string, dependencies []string, cleanupTimeout time.Duration) error {
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("%w: %s", ErrFileMissing, filePath)
	}
	if cleanupTimeout <= 0 {
		cleanupTimeout = DefaultCleanupTimeout
	}

	deps := make(map[string]struct{}, len(dependencies))
	for _, d := range dependencies {
		deps[d] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; exists {
		slog.Error("filesession: duplicate registration rejected", "session_id", sessionID)
		return fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}

	m.sessions[sessionID] = &Session{
		SessionID:      sessionID,
		FilePath:       filePath,
		CreatedAt:      time.Now(),
		CleanupTimeout: cleanupTimeout,
		Dependencies:   deps,
	}

	slog.Info("filesession: registered",
		"session_id", sessionID, "file", filePath, "dependencies", dependencies)
	return nil
}

// MarkServiceComplete removes serviceName from the session's pending
// dependency set. When the set becomes empty the file is deleted, the
// session is marked complete, and it is removed from the active index.
// Calls for unknown sessions return false and never raise; services
// that fail mid-analysis must still call this so the file is not
// stranded.
func (m *Manager) MarkServiceComplete(sessionID, serviceName string) bool {
	m.mu.Lock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		slog.Warn("filesession: completion for unknown session",
			"session_id", sessionID, "service", serviceName)
		return false
	}

	delete(sess.Dependencies, serviceName)
	remaining := len(sess.Dependencies)
	var path string
	if remaining == 0 {
		path = sess.FilePath
		sess.CleanupCompleted = true
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if remaining > 0 {
		slog.Debug("filesession: service complete",
			"session_id", sessionID, "service", serviceName, "remaining", remaining)
		return true
	}

	m.removeFile(sessionID, path)
	return true
}

// ForceCleanup immediately deletes the session's file and removes it
// from the active index, regardless of pending dependencies. Used by
// operators and as the aggregator's final safety net. Unknown sessions
// are a no-op.
func (m *Manager) ForceCleanup(sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	var path string
	if ok {
		path = sess.FilePath
		sess.CleanupCompleted = true
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	slog.Warn("filesession: forced cleanup", "session_id", sessionID, "file", path)
	m.removeFile(sessionID, path)
}

// PeriodicCleanup force-cleans every active session whose cleanup
// timeout has elapsed. Returns the number of sessions reclaimed.
func (m *Manager) PeriodicCleanup() int {
	now := time.Now()

	m.mu.Lock()
	var expired []string
	for id, sess := range m.sessions {
		if now.After(sess.CreatedAt.Add(sess.CleanupTimeout)) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		slog.Warn("filesession: session expired", "session_id", id)
		m.ForceCleanup(id)
	}
	return len(expired)
}

// Run executes the periodic sweep until ctx is done. Intended to be
// launched as a goroutine from main.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.PeriodicCleanup(); n > 0 {
				slog.Info("filesession: sweep reclaimed sessions", "count", n)
			}
		}
	}
}

// SessionInfo returns a snapshot of the session, or false when unknown.
func (m *Manager) SessionInfo(sessionID string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return Info{}, false
	}
	return infoOf(sess), true
}

// ActiveSessions returns snapshots of all sessions still awaiting
// cleanup, in unspecified order.
func (m *Manager) ActiveSessions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, infoOf(sess))
	}
	return out
}

// removeFile deletes path, tolerating a missing file. Filesystem errors
// are logged and swallowed: the session stays marked complete to
// prevent retry storms.
func (m *Manager) removeFile(sessionID, path string) {
	err := os.Remove(path)
	switch {
	case err == nil:
		slog.Info("filesession: cleaned up", "session_id", sessionID, "file", path)
	case os.IsNotExist(err):
		slog.Warn("filesession: file already gone", "session_id", sessionID, "file", path)
	default:
		slog.Error("filesession: cleanup failed", "session_id", sessionID, "file", path, "err", err)
	}
}

func infoOf(sess *Session) Info {
	deps := make([]string, 0, len(sess.Dependencies))
	for d := range sess.Dependencies {
		deps = append(deps, d)
	}
	sort.Strings(deps)
	return Info{
		SessionID:        sess.SessionID,
		FilePath:         sess.FilePath,
		CreatedAt:        sess.CreatedAt,
		Dependencies:     deps,
		CleanupCompleted: sess.CleanupCompleted,
	}
}
