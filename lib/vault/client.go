// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bureau-foundation/credboot/lib/audit"
	"github.com/bureau-foundation/credboot/lib/binhash"
	"github.com/bureau-foundation/credboot/lib/clock"
	"github.com/bureau-foundation/credboot/lib/command"
	"github.com/bureau-foundation/credboot/lib/fault"
	"github.com/bureau-foundation/credboot/lib/ratelimit"
	"github.com/bureau-foundation/credboot/lib/secret"
)

// Defaults.
const (
	DefaultBinary     = "op"
	DefaultTimeout    = 30 * time.Second
	DefaultAttempts   = 3
	DefaultRetryDelay = 2 * time.Second

	// MaxOutput caps op's stdout.
	MaxOutput = 1 << 20
)

// Rate-limited operation names.
const (
	OperationWhoAmI    = "whoami"
	OperationItemGet   = "item get"
	OperationItemList  = "item list"
	sshKeyListCategory = "SSH Key"
)

// ErrInvalidReference is wrapped by errors for item, vault, or
// account identifiers that fail validation.
var ErrInvalidReference = errors.New("invalid vault reference")

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,99}$`)

// ValidateIdentifier checks an item, vault, or account identifier.
func ValidateIdentifier(kind, value string) error {
	if !identifierPattern.MatchString(value) {
		return fault.Validation("%w: %s %q must be 1-100 letters, digits, '-' or '_'", ErrInvalidReference, kind, value)
	}
	return nil
}

// DefaultAllowedDirs returns the install locations op may live in.
func DefaultAllowedDirs(home string) []string {
	dirs := []string{
		"/usr/bin",
		"/usr/local/bin",
		"/opt/homebrew/bin",
		"/opt/1Password",
		"/usr/local/1Password",
	}
	if home != "" {
		dirs = append(dirs, filepath.Join(home, ".local", "bin"))
	}
	return dirs
}

// childEnvironment lists the parent variables passed through to op.
var childEnvironment = map[string]bool{
	"HOME":                        true,
	"PATH":                        true,
	"USER":                        true,
	"LOGNAME":                     true,
	"LANG":                        true,
	"LC_ALL":                      true,
	"TMPDIR":                      true,
	"XDG_CONFIG_HOME":             true,
	"XDG_RUNTIME_DIR":             true,
	"OP_CONFIG_DIR":               true,
	"OP_CACHE":                    true,
	"OP_BIOMETRIC_UNLOCK_ENABLED": true,
}

// Options configures a Client.
type Options struct {
	// Binary is the op program name or path.
	Binary string

	// AllowedDirs are the directories the resolved binary may live
	// under. Nil uses DefaultAllowedDirs(Home).
	AllowedDirs []string

	Home string
	UID  int

	// Environ is the parent environment; only a fixed set of
	// variables is passed to op.
	Environ []string

	// Token is the service-account token. The Client does not close
	// it.
	Token   *secret.Buffer
	Account string
	Vault   string

	Timeout    time.Duration
	Attempts   int
	RetryDelay time.Duration

	Limiter *ratelimit.Limiter
	Runner  command.Runner
	Clock   clock.Clock
	Audit   audit.Recorder
	Logger  *slog.Logger
}

// Binary describes a verified op executable.
type Binary struct {
	// Resolved is the real path after following symlinks.
	Resolved string
	Digest   string
}

// Client runs op.
type Client struct {
	options Options

	verifyOnce sync.Once
	binary     Binary
	verifyErr  error
}

// New returns a Client with defaults filled in.
func New(options Options) *Client {
	if options.Binary == "" {
		options.Binary = DefaultBinary
	}
	if options.AllowedDirs == nil {
		options.AllowedDirs = DefaultAllowedDirs(options.Home)
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if options.Attempts <= 0 {
		options.Attempts = DefaultAttempts
	}
	if options.RetryDelay <= 0 {
		options.RetryDelay = DefaultRetryDelay
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Limiter == nil {
		options.Limiter = ratelimit.New(ratelimit.DefaultLimit, ratelimit.DefaultWindow, options.Clock)
	}
	if options.Runner == nil {
		options.Runner = command.Exec{}
	}
	if options.Audit == nil {
		options.Audit = audit.Discard
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	return &Client{options: options}
}

// VerifyBinary locates op and checks where it lives and who can
// modify it. The result is cached; later calls return the first
// outcome.
func (c *Client) VerifyBinary() (Binary, error) {
	c.verifyOnce.Do(func() {
		c.binary, c.verifyErr = c.verifyBinary()
	})
	return c.binary, c.verifyErr
}

func (c *Client) verifyBinary() (Binary, error) {
	found, err := c.lookPath()
	if err != nil {
		return Binary{}, fault.Failure("vault CLI %q not found: %w", c.options.Binary, err).
			WithHint("install the 1Password CLI (op) into a standard location such as /usr/local/bin")
	}
	resolved, err := filepath.EvalSymlinks(found)
	if err != nil {
		return Binary{}, fault.Failure("resolving %s: %w", found, err)
	}
	resolved, _ = filepath.Abs(resolved)

	if !c.inAllowedDir(resolved) {
		return Binary{}, fault.Security("vault CLI resolves to %s, outside the allowed install locations", resolved).
			WithHint("reinstall op into one of: " + strings.Join(c.options.AllowedDirs, ", "))
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return Binary{}, fault.Failure("stat %s: %w", resolved, err)
	}
	if !info.Mode().IsRegular() {
		return Binary{}, fault.Security("vault CLI %s is not a regular file", resolved)
	}
	if info.Mode().Perm()&0o022 != 0 {
		return Binary{}, fault.Security("vault CLI %s is writable by other users (mode %04o)", resolved, info.Mode().Perm()).
			WithHint("run: chmod go-w " + resolved)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok && int(stat.Uid) != c.options.UID && stat.Uid != 0 {
		c.options.Logger.Warn("vault CLI is owned by another user", "path", resolved, "owner_uid", stat.Uid)
	}

	digest, err := binhash.HashFile(resolved)
	if err != nil {
		return Binary{}, fault.Failure("%w", err)
	}
	binary := Binary{Resolved: resolved, Digest: digest.String()}
	c.record(audit.EventVaultBinary, slog.String("path", resolved), slog.String("sha256", binary.Digest))
	c.options.Logger.Debug("vault CLI verified", "path", resolved, "sha256", binary.Digest)
	return binary, nil
}

// lookPath resolves the binary against the PATH of Options.Environ,
// not the parent process's PATH.
func (c *Client) lookPath() (string, error) {
	name := c.options.Binary
	if strings.Contains(name, "/") {
		return exec.LookPath(name)
	}
	for _, pair := range c.options.Environ {
		if value, ok := strings.CutPrefix(pair, "PATH="); ok {
			for _, dir := range filepath.SplitList(value) {
				if dir == "" || !filepath.IsAbs(dir) {
					continue
				}
				if path, err := exec.LookPath(filepath.Join(dir, name)); err == nil {
					return path, nil
				}
			}
			return "", exec.ErrNotFound
		}
	}
	// No PATH given: try the allowed directories directly.
	for _, dir := range c.options.AllowedDirs {
		if path, err := exec.LookPath(filepath.Join(dir, name)); err == nil {
			return path, nil
		}
	}
	return "", exec.ErrNotFound
}

func (c *Client) inAllowedDir(resolved string) bool {
	for _, dir := range c.options.AllowedDirs {
		candidates := []string{filepath.Clean(dir)}
		if real, err := filepath.EvalSymlinks(dir); err == nil && real != candidates[0] {
			candidates = append(candidates, real)
		}
		for _, candidate := range candidates {
			relative, err := filepath.Rel(candidate, resolved)
			if err == nil && relative != "." && !strings.HasPrefix(relative, "..") {
				return true
			}
		}
	}
	return false
}

// WhoAmI confirms the token is accepted.
func (c *Client) WhoAmI(ctx context.Context) (Account, error) {
	out, err := c.call(ctx, OperationWhoAmI, true, "whoami", "--format", "json")
	if err != nil {
		return Account{}, err
	}
	defer secret.Zero(out)
	var account Account
	if err := json.Unmarshal(out, &account); err != nil {
		return Account{}, fault.Validation("decoding whoami output: %w", err)
	}
	return account, nil
}

// GetItem fetches one item by id or title. The caller must Wipe it.
func (c *Client) GetItem(ctx context.Context, reference string) (*Item, error) {
	if err := ValidateIdentifier("item", reference); err != nil {
		return nil, err
	}
	out, err := c.call(ctx, OperationItemGet, true, "item", "get", reference, "--format", "json")
	if err != nil {
		return nil, err
	}
	defer secret.Zero(out)
	item := &Item{}
	if err := json.Unmarshal(out, item); err != nil {
		item.Wipe()
		return nil, fault.Validation("decoding item %q: %w", reference, err)
	}
	return item, nil
}

// ListItems lists items of category. An empty category lists SSH keys.
func (c *Client) ListItems(ctx context.Context, category string) ([]ItemSummary, error) {
	if category == "" {
		category = sshKeyListCategory
	}
	out, err := c.call(ctx, OperationItemList, true, "item", "list", "--categories", category, "--format", "json")
	if err != nil {
		return nil, err
	}
	var items []ItemSummary
	if err := json.Unmarshal(out, &items); err != nil {
		return nil, fault.Validation("decoding item list: %w", err)
	}
	return items, nil
}

// call runs op with retries for idempotent operations.
func (c *Client) call(ctx context.Context, operation string, idempotent bool, args ...string) ([]byte, error) {
	binary, err := c.VerifyBinary()
	if err != nil {
		return nil, err
	}
	args, err = c.scopedArgs(args)
	if err != nil {
		return nil, err
	}

	attempts := 1
	if idempotent {
		attempts = c.options.Attempts
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.options.Limiter.Take(operation); err != nil {
			return nil, err
		}
		out, err := c.runOnce(ctx, binary.Resolved, operation, args)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !fault.Retryable(err) || attempt == attempts {
			break
		}
		c.options.Logger.Warn("vault call failed, retrying",
			"operation", operation, "attempt", attempt, "of", attempts, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.options.Clock.After(c.options.RetryDelay):
		}
	}
	return nil, lastErr
}

func (c *Client) scopedArgs(args []string) ([]string, error) {
	scoped := append([]string(nil), args...)
	if c.options.Vault != "" && args[0] == "item" {
		if err := ValidateIdentifier("vault", c.options.Vault); err != nil {
			return nil, err
		}
		scoped = append(scoped, "--vault", c.options.Vault)
	}
	if c.options.Account != "" {
		if err := validateAccount(c.options.Account); err != nil {
			return nil, err
		}
		scoped = append(scoped, "--account", c.options.Account)
	}
	return scoped, nil
}

// Accounts may be given as a sign-in address (my-team.1password.com),
// so dots are allowed here in addition to the identifier charset.
var accountPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,99}$`)

func validateAccount(account string) error {
	if !accountPattern.MatchString(account) || strings.Contains(account, "..") {
		return fault.Validation("%w: account %q", ErrInvalidReference, account)
	}
	return nil
}

func (c *Client) runOnce(ctx context.Context, binary, operation string, args []string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.options.Timeout)
	defer cancel()

	environment := c.environment()
	defer wipeEnvironment(environment)

	result, err := c.options.Runner.Run(callCtx, command.Spec{
		Path:        binary,
		Args:        args,
		Env:         environment,
		OutputLimit: MaxOutput,
	})
	if err != nil {
		secret.Zero(result.Stdout)
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, classify(operation, c.options.Timeout, result, err)
	}
	if err := validateOutput(result.Stdout); err != nil {
		secret.Zero(result.Stdout)
		return nil, fault.Validation("vault %s output rejected: %w", operation, err)
	}
	return result.Stdout, nil
}

// environment builds the child environment. The token entry is the
// one place the token becomes a string, because os/exec takes the
// environment as strings.
func (c *Client) environment() []string {
	var environment []string
	for _, pair := range c.options.Environ {
		key, _, _ := strings.Cut(pair, "=")
		if childEnvironment[key] {
			environment = append(environment, pair)
		}
	}
	if c.options.Token != nil && c.options.Token.Len() > 0 {
		environment = append(environment, "OP_SERVICE_ACCOUNT_TOKEN="+c.options.Token.String())
	}
	return environment
}

// wipeEnvironment drops references to the token entry so it becomes
// unreachable as soon as possible. Go strings cannot be zeroed.
func wipeEnvironment(environment []string) {
	for index := range environment {
		environment[index] = ""
	}
}

func (c *Client) record(event string, attrs ...slog.Attr) {
	if err := c.options.Audit.Record(event, attrs...); err != nil {
		c.options.Logger.Warn("audit record failed", "event", event, "error", err)
	}
}
