// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/bureau-foundation/credboot/lib/audit"
	"github.com/bureau-foundation/credboot/lib/cleanup"
	"github.com/bureau-foundation/credboot/lib/clock"
	"github.com/bureau-foundation/credboot/lib/command"
	"github.com/bureau-foundation/credboot/lib/config"
	"github.com/bureau-foundation/credboot/lib/credential"
	"github.com/bureau-foundation/credboot/lib/fault"
	"github.com/bureau-foundation/credboot/lib/git"
	"github.com/bureau-foundation/credboot/lib/health"
	"github.com/bureau-foundation/credboot/lib/identity"
	"github.com/bureau-foundation/credboot/lib/lifecycle"
	"github.com/bureau-foundation/credboot/lib/lockfile"
	"github.com/bureau-foundation/credboot/lib/process"
	"github.com/bureau-foundation/credboot/lib/sshagent"
	"github.com/bureau-foundation/credboot/lib/vault"
	"github.com/bureau-foundation/credboot/lib/version"
)

// DefaultLockTimeout bounds the wait for another run to finish.
const DefaultLockTimeout = 30 * time.Second

// Options tunes a run. The zero value is a normal interactive run.
type Options struct {
	// ConfigPath is an explicit config file; it must exist.
	ConfigPath string

	// DenylistPath overrides the default feed location. An explicit
	// path must exist; the default one is optional.
	DenylistPath string

	LockTimeout    time.Duration
	AgentLifetime  time.Duration
	VaultTimeout   time.Duration
	HealthTimeout  time.Duration
	MaxKeys        int
	SkipSigning    bool
	SkipHealth     bool
	GitConfigFile  string
	VaultBinary    string
	VaultAllowDirs []string

	// Runner executes op, ssh-agent, ssh-add and git. Nil runs them
	// for real.
	Runner   command.Runner
	Shredder cleanup.FileDestroyer
	Clock    clock.Clock

	// Audit overrides the audit log under the state directory.
	Audit  audit.Recorder
	Logger *slog.Logger

	// WatchSignals subscribes the run to SIGINT, SIGTERM and SIGHUP.
	WatchSignals bool

	// Exit ends the process after an interrupt has been cleaned up.
	// Nil uses os.Exit.
	Exit func(code int)
}

// Summary is the result of a run.
type Summary struct {
	Account  string
	Identity identity.Identity
	Session  sshagent.Session
	Keys     credential.Report

	// Signing is nil when signing was skipped or failed.
	Signing *identity.Signing

	// Warnings holds non-fatal failures, one line each.
	Warnings []string

	Health health.Report
}

// KeysAdded counts keys newly added to the agent.
func (s Summary) KeysAdded() int { return s.Keys.Count(sshagent.Added) }

// KeysPresent counts keys the agent already held.
func (s Summary) KeysPresent() int { return s.Keys.Count(sshagent.AlreadyPresent) }

// KeysFailed counts keys that could not be loaded.
func (s Summary) KeysFailed() int { return len(s.Keys.Failures) }

// IdentitySource is "vault", "fallback", "mixed", or "" when no
// identity was applied.
func (s Summary) IdentitySource() string { return s.Identity.Source() }

// Orchestrator runs setups for one Environment.
type Orchestrator struct {
	env     Environment
	options Options

	mu         sync.Mutex
	interrupts *lifecycle.Interrupts
}

// New validates env and fills option defaults.
func New(env Environment, options Options) (*Orchestrator, error) {
	if env.Home == "" || !filepath.IsAbs(env.Home) {
		return nil, fmt.Errorf("bootstrap: home directory %q is not absolute", env.Home)
	}
	if env.StateHome == "" || !filepath.IsAbs(env.StateHome) {
		return nil, fmt.Errorf("bootstrap: state directory %q is not absolute", env.StateHome)
	}
	if options.LockTimeout <= 0 {
		options.LockTimeout = DefaultLockTimeout
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.Exit == nil {
		options.Exit = os.Exit
	}
	return &Orchestrator{env: env, options: options}, nil
}

// Deliver feeds sig to the active run as if the OS had sent it. It is
// a no-op between runs.
func (o *Orchestrator) Deliver(sig os.Signal) {
	o.mu.Lock()
	interrupts := o.interrupts
	o.mu.Unlock()
	if interrupts != nil {
		interrupts.Deliver(sig)
	}
}

// run holds the per-invocation collaborators.
type run struct {
	*Orchestrator
	logger     *slog.Logger
	audit      audit.Recorder
	registry   *cleanup.Registry
	interrupts *lifecycle.Interrupts
	lock       *lockfile.Lock
}

// Run performs one setup. A returned error is fatal; everything the
// run could recover from is in Summary.Warnings.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	logger := o.options.Logger
	r := &run{
		Orchestrator: o,
		logger:       logger,
		audit:        audit.Discard,
		registry:     cleanup.New(o.options.Shredder, logger),
		lock: lockfile.New(lockfile.Options{
			Path:    o.env.LockPath(),
			Timeout: o.options.LockTimeout,
			Clock:   o.options.Clock,
			Logger:  logger,
		}),
	}
	if o.options.WatchSignals {
		r.interrupts = lifecycle.Watch(r.onInterrupt, logger)
	} else {
		r.interrupts = lifecycle.New(r.onInterrupt, logger)
	}
	o.mu.Lock()
	o.interrupts = r.interrupts
	o.mu.Unlock()
	defer func() {
		r.interrupts.Stop()
		o.mu.Lock()
		o.interrupts = nil
		o.mu.Unlock()
	}()

	if err := r.lock.Acquire(ctx); err != nil {
		return Summary{}, err
	}
	defer func() {
		if err := r.lock.Release(); err != nil {
			logger.Warn("releasing instance lock", "error", err)
		}
	}()

	// The audit log rotates on open, so it is opened under the lock.
	recorder, closeAudit, err := o.openAudit()
	if err != nil {
		return Summary{}, err
	}
	defer closeAudit()
	r.audit = recorder

	defer func() {
		r.registry.Run()
		r.record(audit.EventCleanupFinished)
	}()

	r.recordStart()
	summary, err := r.execute(ctx)
	outcome := "success"
	if err != nil {
		outcome = string(fault.KindOf(err))
		if outcome == "" {
			outcome = "failure"
		}
	}
	r.record(audit.EventRunFinished,
		slog.String("outcome", outcome),
		slog.Int("keys_added", summary.KeysAdded()),
		slog.Int("keys_present", summary.KeysPresent()),
		slog.Int("keys_failed", summary.KeysFailed()),
	)
	return summary, err
}

// onInterrupt runs at most once, outside every critical section.
func (r *run) onInterrupt(sig os.Signal) {
	r.logger.Warn("interrupted, cleaning up", "signal", sig.String())
	r.registry.Run()
	if err := r.lock.Release(); err != nil {
		r.logger.Warn("releasing instance lock", "error", err)
	}
	r.options.Exit(process.ExitInterrupted)
}

func (r *run) checkpoint() error {
	if r.interrupts.Interrupted() {
		return lifecycle.ErrInterrupted
	}
	return nil
}

func (r *run) execute(ctx context.Context) (Summary, error) {
	var summary Summary

	cfg, err := r.loadConfig()
	if err != nil {
		return summary, err
	}
	r.registry.TrackSecret(cfg)
	for _, warning := range cfg.Warnings() {
		if warning.Security {
			summary.Warnings = append(summary.Warnings, warning.String())
		}
	}

	denylist, err := r.loadDenylist()
	if err != nil {
		return summary, err
	}
	if err := r.checkpoint(); err != nil {
		return summary, err
	}

	client := r.vaultClient(cfg)
	if _, err := client.VerifyBinary(); err != nil {
		return summary, err
	}
	who, err := client.WhoAmI(ctx)
	if err != nil {
		return summary, fmt.Errorf("confirming vault session: %w", err)
	}
	summary.Account = who.Email
	r.logger.Info("vault session confirmed", "account", who.Email)
	if err := r.checkpoint(); err != nil {
		return summary, err
	}

	gitConfig := git.NewConfig(git.ConfigOptions{
		File:   r.options.GitConfigFile,
		Env:    r.gitEnv(),
		Runner: r.options.Runner,
	})
	identityItem, _ := cfg.Get(config.KeyIdentityItem)
	signingItem, _ := cfg.Get(config.KeySigningItem)
	if r.options.SkipSigning {
		signingItem = ""
	}
	configurator, err := identity.New(identity.Options{
		Vault:        client,
		Git:          gitConfig,
		IdentityItem: identityItem,
		SigningItem:  signingItem,
		Home:         r.env.Home,
		Local: identity.Local{
			Username: r.env.Username,
			FullName: r.env.FullName,
			Hostname: r.env.Hostname,
		},
		Audit:  r.audit,
		Logger: r.logger,
	})
	if err != nil {
		return summary, err
	}
	resolved, err := configurator.Resolve(ctx)
	if err != nil {
		return summary, err
	}
	if err := configurator.Apply(ctx, resolved); err != nil {
		r.warn(&summary, "git identity not applied", err)
	} else {
		summary.Identity = resolved
	}
	if err := r.checkpoint(); err != nil {
		return summary, err
	}

	manager, err := r.agentManager()
	if err != nil {
		return summary, err
	}
	session, err := manager.EnsureSession(ctx)
	if err != nil {
		return summary, fmt.Errorf("establishing the SSH agent: %w", err)
	}
	summary.Session = session
	if err := r.checkpoint(); err != nil {
		return summary, err
	}

	runDir, err := os.MkdirTemp(r.env.runBase(), AppName+"-run-*")
	if err != nil {
		return summary, fault.Resource("creating key directory: %w", err)
	}
	r.registry.RegisterDir(runDir)

	handler, err := credential.NewHandler(credential.Options{
		RunDir:     runDir,
		Agent:      manager,
		Registry:   r.registry,
		Interrupts: r.interrupts,
		Denylist:   denylist,
		Shredder:   r.options.Shredder,
		MaxKeys:    r.options.MaxKeys,
		Clock:      r.options.Clock,
		Audit:      r.audit,
		Logger:     r.logger,
	})
	if err != nil {
		return summary, err
	}
	items, err := client.ListItems(ctx, "")
	if err != nil {
		return summary, fmt.Errorf("listing SSH keys: %w", err)
	}
	if len(items) == 0 {
		summary.Warnings = append(summary.Warnings, "no SSH key items found in the vault")
	}
	summary.Keys, err = handler.LoadAll(ctx, client, items)
	if err != nil {
		return summary, err
	}
	for _, failure := range summary.Keys.Failures {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("SSH key %q not loaded: %v", failure.Item, failure.Err))
	}

	if signingItem != "" && summary.Identity.Email != "" {
		signing, err := configurator.ConfigureSigning(ctx, summary.Identity.Email)
		switch {
		case err == nil:
			summary.Signing = &signing
		case fault.Fatal(err):
			return summary, err
		default:
			r.warn(&summary, "commit signing not configured", err)
		}
	}
	if err := r.checkpoint(); err != nil {
		return summary, err
	}

	if !r.options.SkipHealth {
		summary.Health = health.Run(ctx, []health.Check{
			health.IdentityCheck(gitConfig),
			health.AgentCheck(manager),
			health.SigningCheck(gitConfig, r.env.Home),
		}, health.Options{Timeout: r.options.HealthTimeout})
	}
	return summary, nil
}

func (r *run) warn(summary *Summary, message string, err error) {
	r.logger.Warn(message, "error", err)
	summary.Warnings = append(summary.Warnings, message+": "+err.Error())
}

func (r *run) loadDenylist() (*credential.Denylist, error) {
	path, required := r.options.DenylistPath, true
	if path == "" {
		path, required = r.env.DenylistPath(), false
	}
	denylist, err := credential.LoadDenylist(path, required)
	if err != nil {
		return nil, err
	}
	if denylist.Len() > 0 {
		r.logger.Debug("compromised-key denylist loaded", "path", path, "entries", denylist.Len())
	}
	return denylist, nil
}

// AgentManager returns the session manager a run would use. The doctor
// command uses it to discover the agent without spawning one.
func (o *Orchestrator) AgentManager(recorder audit.Recorder) (*sshagent.Manager, error) {
	if recorder == nil {
		recorder = audit.Discard
	}
	r := &run{Orchestrator: o, logger: o.options.Logger, audit: recorder}
	return r.agentManager()
}

// VaultClient loads configuration and returns the vault client a run
// would use. Closing the returned io.Closer wipes the loaded token.
func (o *Orchestrator) VaultClient(recorder audit.Recorder) (*vault.Client, io.Closer, error) {
	if recorder == nil {
		recorder = audit.Discard
	}
	r := &run{Orchestrator: o, logger: o.options.Logger, audit: recorder}
	cfg, err := r.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return r.vaultClient(cfg), cfg, nil
}

func (r *run) loadConfig() (*config.Config, error) {
	return config.Load(config.Sources{
		Explicit:   r.options.ConfigPath,
		Environ:    r.env.Environ,
		Executable: r.env.Executable,
		WorkDir:    r.env.WorkDir,
		ConfigHome: r.env.ConfigHome,
		Home:       r.env.Home,
		UID:        r.env.UID,
	}, r.logger)
}

func (r *run) vaultClient(cfg *config.Config) *vault.Client {
	account, _ := cfg.Get(config.KeyAccount)
	vaultName, _ := cfg.Get(config.KeyVault)
	return vault.New(vault.Options{
		Binary:      r.options.VaultBinary,
		AllowedDirs: r.options.VaultAllowDirs,
		Home:        r.env.Home,
		UID:         r.env.UID,
		Environ:     r.env.Environ,
		Token:       cfg.Token(),
		Account:     account,
		Vault:       vaultName,
		Timeout:     r.options.VaultTimeout,
		Runner:      r.options.Runner,
		Clock:       r.options.Clock,
		Audit:       r.audit,
		Logger:      r.logger,
	})
}

// GitConfig returns the git configuration scope a run writes to.
func (o *Orchestrator) GitConfig() *git.Config {
	r := &run{Orchestrator: o}
	return git.NewConfig(git.ConfigOptions{
		File:   o.options.GitConfigFile,
		Env:    r.gitEnv(),
		Runner: o.options.Runner,
	})
}

func (r *run) agentManager() (*sshagent.Manager, error) {
	pid, _ := strconv.Atoi(r.env.Getenv("SSH_AGENT_PID"))
	return sshagent.New(sshagent.Options{
		AuthSock:       r.env.Getenv("SSH_AUTH_SOCK"),
		AgentPID:       pid,
		DescriptorPath: filepath.Join(r.env.StateDir(), sshagent.DescriptorName),
		Policy: sshagent.SocketPolicy{
			UID:        r.env.UID,
			Home:       r.env.Home,
			RuntimeDir: r.env.RuntimeDir,
		},
		Lifetime: r.options.AgentLifetime,
		BaseEnv:  r.env.Environ,
		Runner:   r.options.Runner,
		Clock:    r.options.Clock,
		Audit:    r.audit,
		Logger:   r.logger,
	})
}

// gitEnv passes HOME and PATH plus the XDG config home git reads its
// global file from.
func (r *run) gitEnv() []string {
	env := []string{"HOME=" + r.env.Home}
	for _, key := range []string{"PATH", "XDG_CONFIG_HOME", "LANG", "LC_ALL"} {
		if value := r.env.Getenv(key); value != "" {
			env = append(env, key+"="+value)
		}
	}
	return env
}

func (o *Orchestrator) openAudit() (audit.Recorder, func(), error) {
	if o.options.Audit != nil {
		return o.options.Audit, func() {}, nil
	}
	log, err := audit.Open(filepath.Join(o.env.StateDir(), AuditFile))
	if err != nil {
		return nil, nil, fault.Resource("%w", err)
	}
	if err := log.RotateError(); err != nil {
		o.options.Logger.Warn("audit log not rotated", "error", err)
	}
	return log, func() {
		if err := log.Close(); err != nil {
			o.options.Logger.Warn("closing audit log", "error", err)
		}
	}, nil
}

func (r *run) recordStart() {
	details := []slog.Attr{slog.String("version", version.Short())}
	if digest, path, err := version.SelfDigest(); err == nil {
		details = append(details, slog.String("binary", path), slog.String("sha256", digest.String()))
	} else {
		r.logger.Debug("hashing own binary", "error", err)
	}
	r.record(audit.EventRunStarted, details...)
}

func (r *run) record(event string, details ...slog.Attr) {
	if err := r.audit.Record(event, details...); err != nil && !errors.Is(err, os.ErrClosed) {
		r.logger.Warn("audit record failed", "event", event, "error", err)
	}
}
