// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bureau-foundation/credboot/lib/audit"
	"github.com/bureau-foundation/credboot/lib/fault"
	"github.com/bureau-foundation/credboot/lib/vault"
)

// Where an identity value came from.
const (
	SourceVault    = "vault"
	SourceFallback = "fallback"
)

// Git configuration keys written by Apply and ConfigureSigning.
const (
	KeyUserName           = "user.name"
	KeyUserEmail          = "user.email"
	KeyGPGFormat          = "gpg.format"
	KeySigningKey         = "user.signingkey"
	KeyAllowedSignersFile = "gpg.ssh.allowedSignersFile"
	KeyCommitGPGSign      = "commit.gpgsign"
	KeyTagGPGSign         = "tag.gpgsign"
)

// Identity is a git author identity.
type Identity struct {
	Name  string
	Email string

	// NameSource and EmailSource are SourceVault or SourceFallback.
	NameSource  string
	EmailSource string

	// Strategies name the extractor that produced each vault value.
	NameStrategy  string
	EmailStrategy string
}

// Source summarizes where the identity came from: "vault",
// "fallback", or "mixed".
func (i Identity) Source() string {
	if i.NameSource == i.EmailSource {
		return i.NameSource
	}
	return "mixed"
}

// FromItem extracts whatever identity item carries. Missing values
// are left empty.
func FromItem(item *vault.Item) Identity {
	var identity Identity
	if name, strategy, ok := candidate(item, NameExtractors, SanitizeName); ok {
		identity.Name, identity.NameSource, identity.NameStrategy = name, SourceVault, strategy
	}
	if email, strategy, ok := candidate(item, EmailExtractors, SanitizeEmail); ok {
		identity.Email, identity.EmailSource, identity.EmailStrategy = email, SourceVault, strategy
	}
	return identity
}

// Local describes the account credboot runs as.
type Local struct {
	Username string

	// FullName is the account's display name (GECOS), possibly empty.
	FullName string
	Hostname string
}

// Fallback derives an identity from the local account: the full name
// (or username) and username@hostname, with ".local" appended to a
// hostname that has no dot.
func Fallback(local Local) Identity {
	identity := Identity{NameSource: SourceFallback, EmailSource: SourceFallback}

	for _, raw := range []string{local.FullName, local.Username, "credboot user"} {
		if name, err := SanitizeName(raw); err == nil {
			identity.Name = name
			break
		}
	}

	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(local.Hostname)), ".")
	if host == "" {
		host = "localhost"
	}
	if !strings.Contains(host, ".") {
		host += ".local"
	}
	username := local.Username
	if username == "" {
		username = "user"
	}
	email, err := SanitizeEmail(username + "@" + host)
	if err != nil {
		email = "user@localhost.local"
	}
	identity.Email = email
	return identity
}

// complete fills empty values of identity from fallback.
func complete(identity, fallback Identity) Identity {
	if identity.Name == "" {
		identity.Name, identity.NameSource = fallback.Name, fallback.NameSource
	}
	if identity.Email == "" {
		identity.Email, identity.EmailSource = fallback.Email, fallback.EmailSource
	}
	return identity
}

// ItemSource fetches vault items. vault.Client satisfies it.
type ItemSource interface {
	GetItem(ctx context.Context, reference string) (*vault.Item, error)
}

// GitConfig reads and writes git settings. git.Config satisfies it.
type GitConfig interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Options configures a Configurator.
type Options struct {
	Vault ItemSource
	Git   GitConfig

	// IdentityItem and SigningItem name vault items. An empty
	// IdentityItem goes straight to the fallback; an empty
	// SigningItem disables signing.
	IdentityItem string
	SigningItem  string

	// Home is the directory under which .ssh/credboot is created.
	Home  string
	Local Local

	Audit  audit.Recorder
	Logger *slog.Logger
}

// Configurator applies identity and signing settings.
type Configurator struct {
	options Options
}

// New validates options.
func New(options Options) (*Configurator, error) {
	if options.Git == nil {
		return nil, errors.New("identity: Git is required")
	}
	if (options.IdentityItem != "" || options.SigningItem != "") && options.Vault == nil {
		return nil, errors.New("identity: Vault is required when an item is configured")
	}
	if options.Audit == nil {
		options.Audit = audit.Discard
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	return &Configurator{options: options}, nil
}

// Resolve reads the identity item and completes it from the local
// account. Only fatal vault faults are returned; anything else is
// logged and replaced by the fallback.
func (c *Configurator) Resolve(ctx context.Context) (Identity, error) {
	fallback := Fallback(c.options.Local)
	if c.options.IdentityItem == "" {
		c.options.Logger.Info("no identity item configured, using the local account")
		return fallback, nil
	}

	item, err := c.options.Vault.GetItem(ctx, c.options.IdentityItem)
	if err != nil {
		if fault.Fatal(err) {
			return Identity{}, fmt.Errorf("reading identity item: %w", err)
		}
		c.options.Logger.Warn("identity item unavailable, using the local account", "item", c.options.IdentityItem, "error", err)
		return fallback, nil
	}
	defer item.Wipe()

	identity := FromItem(item)
	if identity.Name == "" || identity.Email == "" {
		c.options.Logger.Warn("identity item is incomplete, filling from the local account",
			"item", c.options.IdentityItem,
			"name_found", identity.Name != "",
			"email_found", identity.Email != "",
		)
	}
	return complete(identity, fallback), nil
}

// Apply writes user.name and user.email.
func (c *Configurator) Apply(ctx context.Context, identity Identity) error {
	if identity.Name == "" || identity.Email == "" {
		return fault.Validation("refusing to apply an incomplete identity")
	}
	if err := c.options.Git.Set(ctx, KeyUserName, identity.Name); err != nil {
		return fault.Failure("setting %s: %w", KeyUserName, err)
	}
	if err := c.options.Git.Set(ctx, KeyUserEmail, identity.Email); err != nil {
		return fault.Failure("setting %s: %w", KeyUserEmail, err)
	}
	c.options.Logger.Info("git identity applied", "name", identity.Name, "email", identity.Email, "source", identity.Source())
	c.record(audit.EventIdentitySet,
		slog.String("source", identity.Source()),
		slog.String("name_strategy", identity.NameStrategy),
		slog.String("email_strategy", identity.EmailStrategy),
	)
	return nil
}

func (c *Configurator) record(event string, details ...slog.Attr) {
	if err := c.options.Audit.Record(event, details...); err != nil {
		c.options.Logger.Warn("audit record failed", "event", event, "error", err)
	}
}
