// Package extern names the boundary contracts for everything the core
// treats as an external collaborator: argument parsing, self-update,
// background job management, TUI rendering, OAuth login and message
// localization. Per §1's Non-goals, only the interfaces and a minimal
// stub live here — their internals are out of scope.
package extern

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ArgParser's boundary is satisfied directly by cobra in cmd/pz; no
// separate interface is needed beyond the flag struct cobra already
// produces, so this type exists only to document the contract in the
// package-to-module map.
type ArgParser interface {
	Parse(args []string) error
}

// ConfigLoader's boundary is satisfied by internal/config.Load — also
// documented here rather than re-declared, since layered config loading
// is in scope per §1A.
type ConfigLoader interface {
	Load(cwd string) error
}

// UpdateInfo describes an available release, when one exists.
type UpdateInfo struct {
	Version string
	URL     string
}

// Updater checks for a new release. Self-upgrade (archive download,
// extraction, atomic replace) is out of core scope; the stub below always
// reports "not supported".
type Updater interface {
	CheckForUpdate(ctx context.Context) (*UpdateInfo, error)
}

// ErrUpdatesNotSupported is returned by StubUpdater, mirroring the
// teacher's unsupportedCommand guidance-over-silence pattern.
var ErrUpdatesNotSupported = errors.New("self-update is not supported; rebuild from source instead")

type StubUpdater struct{}

func (StubUpdater) CheckForUpdate(ctx context.Context) (*UpdateInfo, error) {
	return nil, ErrUpdatesNotSupported
}

// JobStatus is the state of one background shell job.
type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobExited  JobStatus = "exited"
	JobKilled  JobStatus = "killed"
)

// JobManager tracks background shell jobs started outside the tool
// dispatch envelope (e.g. a long-running server the ask tool's hook
// contract needs to reference). A full job queue with output streaming is
// out of core scope; StubJobManager only tracks status in memory.
type JobManager interface {
	Start(ctx context.Context, command string) (id string, err error)
	Status(id string) (JobStatus, error)
	Kill(id string) error
}

type StubJobManager struct {
	mu   sync.Mutex
	next int
	jobs map[string]JobStatus
}

func NewStubJobManager() *StubJobManager {
	return &StubJobManager{jobs: make(map[string]JobStatus)}
}

func (m *StubJobManager) Start(ctx context.Context, command string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := fmt.Sprintf("job-%d", m.next)
	m.jobs[id] = JobRunning
	return id, nil
}

func (m *StubJobManager) Status(id string) (JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.jobs[id]
	if !ok {
		return "", fmt.Errorf("unknown job %q", id)
	}
	return status, nil
}

func (m *StubJobManager) Kill(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("unknown job %q", id)
	}
	m.jobs[id] = JobKilled
	return nil
}

// Renderer is the TUI's screen-buffer contract (width/height reporting and
// a raw-frame write). No type in pz implements it: internal/sink/interactive's
// bubbletea Model renders through bubbletea's View instead. The full
// screen-buffer/wrapping/Unicode-width internals are out of core scope.
type Renderer interface {
	Size() (width, height int)
	WriteFrame(frame string) error
}

// Credentials is what a successful OAuthLogin resolves to.
type Credentials struct {
	APIKey     string
	OAuthToken string
	ExpiresAt  time.Time
}

// OAuthLogin is the browser-based login flow's contract. The stub returns
// only the StaticAPIKey it was built with; it reads no file or environment
// variable and never opens a browser.
type OAuthLogin interface {
	Login(ctx context.Context) (*Credentials, error)
}

var ErrNoBrowserFlow = errors.New("browser-based login is not supported; set an API key or auth.json instead")

type StubOAuthLogin struct {
	StaticAPIKey string
}

func (s StubOAuthLogin) Login(ctx context.Context) (*Credentials, error) {
	if s.StaticAPIKey == "" {
		return nil, ErrNoBrowserFlow
	}
	return &Credentials{APIKey: s.StaticAPIKey}, nil
}

// Localizer translates a message key with optional format args.
// error-message localization is out of core scope; the stub is an
// English-only passthrough.
type Localizer interface {
	T(key string, args ...any) string
}

type PassthroughLocalizer struct{}

func (PassthroughLocalizer) T(key string, args ...any) string {
	if len(args) == 0 {
		return key
	}
	return fmt.Sprintf(key, args...)
}
