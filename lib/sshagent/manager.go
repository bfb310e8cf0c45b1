// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sshagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/credboot/lib/audit"
	"github.com/bureau-foundation/credboot/lib/clock"
	"github.com/bureau-foundation/credboot/lib/command"
	"github.com/bureau-foundation/credboot/lib/fault"
	"github.com/bureau-foundation/credboot/lib/lockfile"
)

// Defaults.
const (
	DefaultLifetime       = 8 * time.Hour
	DefaultAgentBinary    = "ssh-agent"
	DefaultAddBinary      = "ssh-add"
	DefaultCommandTimeout = 15 * time.Second

	// DescriptorName is the descriptor file name inside the state
	// directory. Its lock lives beside it as DescriptorName+".lock".
	DescriptorName = "agent.env"
)

// agentProcessName is what /proc/<pid>/comm and ps report for a real
// agent.
const agentProcessName = "ssh-agent"

// Session sources.
const (
	SourceEnvironment = "environment"
	SourceDescriptor  = "descriptor"
	SourceSpawned     = "spawned"
)

// ErrNoSession is returned by key operations before EnsureSession.
var ErrNoSession = errors.New("no agent session established")

// Options configures a Manager.
type Options struct {
	// AuthSock and AgentPID are the caller's SSH_AUTH_SOCK and
	// SSH_AGENT_PID. The manager never reads the process environment.
	AuthSock string
	AgentPID int

	// DescriptorPath is where sessions are persisted. Required.
	DescriptorPath string

	Policy SocketPolicy

	Lifetime       time.Duration
	ProbeTimeout   time.Duration
	LockTimeout    time.Duration
	CommandTimeout time.Duration

	AgentBinary string
	AddBinary   string

	// BaseEnv is the environment handed to ssh-agent, ssh-add and
	// ps. Any SSH_AUTH_SOCK or SSH_AGENT_PID entries are replaced.
	BaseEnv []string

	Runner command.Runner

	// ProcessAlive and ProcessName identify the process recorded in
	// a descriptor. Nil uses kill(pid, 0) and /proc/<pid>/comm with a
	// "ps -o comm=" fallback.
	ProcessAlive func(pid int) bool
	ProcessName  func(ctx context.Context, pid int) (string, error)

	Clock  clock.Clock
	Audit  audit.Recorder
	Logger *slog.Logger
}

// Session is a usable agent.
type Session struct {
	SocketPath string
	PID        int
	Reused     bool
	Source     string
}

// Environ returns the assignments that point a child at the session.
func (s Session) Environ() []string {
	environ := []string{"SSH_AUTH_SOCK=" + s.SocketPath}
	if s.PID > 0 {
		environ = append(environ, "SSH_AGENT_PID="+strconv.Itoa(s.PID))
	}
	return environ
}

// Manager owns the agent session for one run.
type Manager struct {
	options Options

	mu      sync.Mutex
	session *Session
}

// New validates options and fills in defaults.
func New(options Options) (*Manager, error) {
	if options.DescriptorPath == "" {
		return nil, errors.New("sshagent: DescriptorPath is required")
	}
	if options.Lifetime <= 0 {
		options.Lifetime = DefaultLifetime
	}
	if options.Lifetime < time.Second {
		return nil, fmt.Errorf("sshagent: lifetime %s is shorter than one second", options.Lifetime)
	}
	if options.ProbeTimeout <= 0 {
		options.ProbeTimeout = DefaultProbeTimeout
	}
	if options.LockTimeout <= 0 {
		options.LockTimeout = DefaultLockTimeout
	}
	if options.CommandTimeout <= 0 {
		options.CommandTimeout = DefaultCommandTimeout
	}
	if options.AgentBinary == "" {
		options.AgentBinary = DefaultAgentBinary
	}
	if options.AddBinary == "" {
		options.AddBinary = DefaultAddBinary
	}
	if options.Runner == nil {
		options.Runner = command.Exec{}
	}
	if options.ProcessAlive == nil {
		options.ProcessAlive = lockfile.ProcessAlive
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Audit == nil {
		options.Audit = audit.Discard
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	manager := &Manager{options: options}
	if manager.options.ProcessName == nil {
		manager.options.ProcessName = manager.processName
	}
	return manager, nil
}

// Session returns the established session, if any.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// EnsureSession finds a live agent or starts one. The result is cached
// for the life of the Manager.
func (m *Manager) EnsureSession(ctx context.Context) (Session, error) {
	return m.resolve(ctx, true)
}

// Discover finds a running agent the way EnsureSession does but never
// spawns one; it returns ErrNoSession when neither the environment nor
// the descriptor names a live agent. Stale descriptors are still
// removed.
func (m *Manager) Discover(ctx context.Context) (Session, error) {
	return m.resolve(ctx, false)
}

func (m *Manager) resolve(ctx context.Context, spawn bool) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return *m.session, nil
	}

	session, found, err := m.fromEnvironment(ctx)
	if err != nil {
		return Session{}, err
	}
	if !found {
		unlock, err := lockDescriptor(ctx, m.options.DescriptorPath, m.options.LockTimeout, m.options.Clock)
		if err != nil {
			return Session{}, err
		}
		defer unlock()

		session, found, err = m.fromDescriptor(ctx)
		if err != nil {
			return Session{}, err
		}
		if !found {
			if !spawn {
				return Session{}, ErrNoSession
			}
			if session, err = m.spawn(ctx); err != nil {
				return Session{}, err
			}
		}
	}

	m.session = &session
	m.options.Logger.Info("agent session ready",
		"socket", session.SocketPath,
		"pid", session.PID,
		"source", session.Source,
	)
	return session, nil
}

func (m *Manager) fromEnvironment(ctx context.Context) (Session, bool, error) {
	socket := m.options.AuthSock
	if socket == "" {
		return Session{}, false, nil
	}
	if err := m.options.Policy.ValidateSocket(socket); err != nil {
		level := slog.LevelInfo
		if fault.Is(err, fault.KindSecurity) {
			level = slog.LevelWarn
		}
		m.options.Logger.Log(ctx, level, "ignoring SSH_AUTH_SOCK", "socket", socket, "error", err)
		return Session{}, false, nil
	}
	keys, err := probeWithTimeout(ctx, socket, m.options.ProbeTimeout)
	if err != nil {
		m.options.Logger.Info("agent at SSH_AUTH_SOCK did not respond", "socket", socket, "error", err)
		return Session{}, false, nil
	}

	session := Session{SocketPath: socket, PID: m.options.AgentPID, Reused: true, Source: SourceEnvironment}
	m.record(audit.EventAgentReused,
		slog.String("source", session.Source),
		slog.Int("pid", session.PID),
		slog.Int("keys", len(keys)),
	)
	return session, true, nil
}

// fromDescriptor runs with the descriptor lock held.
func (m *Manager) fromDescriptor(ctx context.Context) (Session, bool, error) {
	path := m.options.DescriptorPath
	descriptor, err := ReadDescriptor(path, m.options.Policy.UID)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Session{}, false, nil
	case fault.Is(err, fault.KindSecurity):
		return Session{}, false, err
	case err != nil:
		m.options.Logger.Warn("discarding unreadable agent descriptor", "path", path, "error", err)
		return Session{}, false, RemoveDescriptor(path)
	}

	reason, keys := m.check(ctx, descriptor)
	if reason != "" {
		m.options.Logger.Info("agent descriptor is stale", "path", path, "pid", descriptor.PID, "reason", reason)
		return Session{}, false, RemoveDescriptor(path)
	}

	session := Session{SocketPath: descriptor.SocketPath, PID: descriptor.PID, Reused: true, Source: SourceDescriptor}
	m.record(audit.EventAgentReused,
		slog.String("source", session.Source),
		slog.Int("pid", session.PID),
		slog.Int("keys", len(keys)),
	)
	return session, true, nil
}

// check returns a non-empty reason when the described agent cannot be
// reused.
func (m *Manager) check(ctx context.Context, descriptor Descriptor) (string, []*agent.Key) {
	if !m.options.ProcessAlive(descriptor.PID) {
		return "process is not running", nil
	}
	name, err := m.options.ProcessName(ctx, descriptor.PID)
	if err != nil {
		return "process name unavailable: " + err.Error(), nil
	}
	if name != agentProcessName {
		return fmt.Sprintf("process is %q, not %s", name, agentProcessName), nil
	}
	if err := m.options.Policy.ValidateSocket(descriptor.SocketPath); err != nil {
		return err.Error(), nil
	}
	keys, err := probeWithTimeout(ctx, descriptor.SocketPath, m.options.ProbeTimeout)
	if err != nil {
		return err.Error(), nil
	}
	return "", keys
}

// spawn runs with the descriptor lock held.
func (m *Manager) spawn(ctx context.Context) (Session, error) {
	lifetime := m.lifetimeSeconds()
	runCtx, cancel := context.WithTimeout(ctx, m.options.CommandTimeout)
	defer cancel()
	result, err := m.options.Runner.Run(runCtx, command.Spec{
		Path:        m.options.AgentBinary,
		Args:        []string{"-s", "-t", lifetime},
		Env:         m.childEnv(""),
		OutputLimit: MaxDescriptorBytes,
	})
	if err != nil {
		return Session{}, fault.Failure("starting %s: %w", m.options.AgentBinary, err)
	}
	descriptor, err := ParseDescriptor(result.Stdout)
	if err != nil {
		return Session{}, fault.Failure("%s printed unexpected output: %w", m.options.AgentBinary, err)
	}

	if err := m.options.Policy.ValidateSocket(descriptor.SocketPath); err != nil {
		m.terminate(ctx, descriptor.PID)
		return Session{}, err
	}
	if _, err := probeWithTimeout(ctx, descriptor.SocketPath, m.options.ProbeTimeout); err != nil {
		m.terminate(ctx, descriptor.PID)
		return Session{}, fmt.Errorf("new agent is not responding: %w", err)
	}

	// The session works without a descriptor; later runs just won't
	// find it.
	if err := WriteDescriptor(m.options.DescriptorPath, descriptor); err != nil {
		m.options.Logger.Warn("persisting agent descriptor failed", "path", m.options.DescriptorPath, "error", err)
	}

	session := Session{SocketPath: descriptor.SocketPath, PID: descriptor.PID, Source: SourceSpawned}
	m.record(audit.EventAgentSpawned,
		slog.Int("pid", session.PID),
		slog.String("lifetime", m.options.Lifetime.String()),
	)
	return session, nil
}

// terminate stops an agent this run started but rejected.
func (m *Manager) terminate(ctx context.Context, pid int) {
	if name, err := m.options.ProcessName(ctx, pid); err != nil || name != agentProcessName {
		return
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		m.options.Logger.Warn("stopping rejected agent failed", "pid", pid, "error", err)
	}
}

// AddKey adds the private key file at path. fingerprint identifies the
// key so an agent that already holds it is left untouched.
func (m *Manager) AddKey(ctx context.Context, path, fingerprint string) (AddResult, error) {
	session, ok := m.Session()
	if !ok {
		return AddFailed, ErrNoSession
	}

	keys, err := probeWithTimeout(ctx, session.SocketPath, m.options.ProbeTimeout)
	if err != nil {
		return AddFailed, err
	}
	if slices.Contains(fingerprints(keys), fingerprint) {
		m.record(audit.EventKeyPresent, slog.String("fingerprint", fingerprint))
		return AlreadyPresent, nil
	}

	result, err := m.options.Runner.Run(ctx, command.Spec{
		Path: m.options.AddBinary,
		Args: []string{"-t", m.lifetimeSeconds(), path},
		Env:  m.childEnv(session.SocketPath),
	})
	if err != nil && reportsAlreadyPresent(result.Stderr) {
		m.record(audit.EventKeyPresent, slog.String("fingerprint", fingerprint))
		return AlreadyPresent, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return AddFailed, err
		}
		return AddFailed, fault.Failure("%s rejected key %s: %s", m.options.AddBinary, fingerprint, firstLine(result.StderrText()))
	}

	m.record(audit.EventKeyAdded, slog.String("fingerprint", fingerprint))
	return Added, nil
}

// alreadyPresentPhrases are the ssh-add failures that mean the agent
// holds the key. They are matched at the start of stderr's first line
// so a key path or comment cannot trigger them.
var alreadyPresentPhrases = []string{
	"identity already added",
	"key already present",
	"already exists in agent",
}

func reportsAlreadyPresent(stderr []byte) bool {
	line := strings.ToLower(firstLine(strings.TrimSpace(string(stderr))))
	for _, phrase := range alreadyPresentPhrases {
		if strings.HasPrefix(line, phrase) {
			return true
		}
	}
	return false
}

// Fingerprints lists the SHA256 fingerprints the agent holds.
func (m *Manager) Fingerprints(ctx context.Context) ([]string, error) {
	session, ok := m.Session()
	if !ok {
		return nil, ErrNoSession
	}
	keys, err := probeWithTimeout(ctx, session.SocketPath, m.options.ProbeTimeout)
	if err != nil {
		return nil, err
	}
	return fingerprints(keys), nil
}

// KeyCount returns how many keys the agent holds.
func (m *Manager) KeyCount(ctx context.Context) (int, error) {
	list, err := m.Fingerprints(ctx)
	return len(list), err
}

func fingerprints(keys []*agent.Key) []string {
	list := make([]string, 0, len(keys))
	for _, key := range keys {
		list = append(list, ssh.FingerprintSHA256(key))
	}
	return list
}

func (m *Manager) lifetimeSeconds() string {
	return strconv.Itoa(int(m.options.Lifetime / time.Second))
}

// childEnv copies BaseEnv without agent variables and, when socket is
// set, points SSH_AUTH_SOCK at it.
func (m *Manager) childEnv(socket string) []string {
	environ := make([]string, 0, len(m.options.BaseEnv)+1)
	for _, entry := range m.options.BaseEnv {
		if strings.HasPrefix(entry, "SSH_AUTH_SOCK=") || strings.HasPrefix(entry, "SSH_AGENT_PID=") {
			continue
		}
		environ = append(environ, entry)
	}
	if socket != "" {
		environ = append(environ, "SSH_AUTH_SOCK="+socket)
	}
	return environ
}

func (m *Manager) processName(ctx context.Context, pid int) (string, error) {
	if data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/comm"); err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	runCtx, cancel := context.WithTimeout(ctx, m.options.CommandTimeout)
	defer cancel()
	result, err := m.options.Runner.Run(runCtx, command.Spec{
		Path:        "ps",
		Args:        []string{"-o", "comm=", "-p", strconv.Itoa(pid)},
		Env:         m.childEnv(""),
		OutputLimit: 4096,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(result.Stdout)), nil
}

func (m *Manager) record(event string, details ...slog.Attr) {
	if err := m.options.Audit.Record(event, details...); err != nil {
		m.options.Logger.Warn("audit record failed", "event", event, "error", err)
	}
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	if line == "" {
		return "no error output"
	}
	return line
}
