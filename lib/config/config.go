// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/bureau-foundation/credboot/lib/secret"
)

// Recognized keys.
const (
	KeyServiceAccountToken = "OP_SERVICE_ACCOUNT_TOKEN"
	KeyAccount             = "OP_ACCOUNT"
	KeyVault               = "OP_VAULT"
	KeyIdentityItem        = "GIT_IDENTITY_ITEM"
	KeySigningItem         = "GIT_SIGNING_ITEM"
)

// allowed maps each recognized key to whether its value is secret.
var allowed = map[string]bool{
	KeyServiceAccountToken: true,
	KeyAccount:             false,
	KeyVault:               false,
	KeyIdentityItem:        false,
	KeySigningItem:         false,
}

// Keys returns the recognized keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(allowed))
	for key := range allowed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// IsSecret reports whether key holds a secret value.
func IsSecret(key string) bool { return allowed[key] }

// Value is one loaded setting. Exactly one of text and protected is
// set, depending on whether the key is secret.
type Value struct {
	Key    string
	Source string
	Rank   int

	text      string
	protected *secret.Buffer
}

// Text returns a non-secret value. Secret values return "".
func (v *Value) Text() string {
	if v == nil {
		return ""
	}
	return v.text
}

// Secret returns the protected buffer of a secret value, or nil.
func (v *Value) Secret() *secret.Buffer {
	if v == nil {
		return nil
	}
	return v.protected
}

// String never reveals a secret value.
func (v *Value) String() string {
	if v.protected != nil {
		return v.Key + "=<redacted>"
	}
	return v.Key + "=" + v.text
}

// LogValue implements slog.LogValuer.
func (v *Value) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("key", v.Key),
		slog.String("source", v.Source),
		slog.Int("rank", v.Rank),
	)
}

// Warning is a problem found while loading. Security warnings mark
// files that were skipped because they could have been tampered with.
type Warning struct {
	Path     string
	Message  string
	Security bool
}

func (w Warning) String() string {
	if w.Security {
		return "security: " + w.Path + ": " + w.Message
	}
	return w.Path + ": " + w.Message
}

// Source is a file or the environment that contributed at least one
// winning value.
type Source struct {
	Path string
	Rank int
	Keys []string
}

// Config is the merged result of every source. Close it to release
// the protected buffers.
type Config struct {
	values   map[string]*Value
	sources  []Source
	warnings []Warning
}

// Value returns the setting for key, or nil.
func (c *Config) Value(key string) *Value { return c.values[key] }

// Get returns a non-secret value and whether it was set.
func (c *Config) Get(key string) (string, bool) {
	value, ok := c.values[key]
	if !ok || value.protected != nil {
		return "", false
	}
	return value.text, true
}

// Token returns the vault service-account token, or nil when unset.
func (c *Config) Token() *secret.Buffer {
	return c.values[KeyServiceAccountToken].Secret()
}

// Has reports whether key was set by any source.
func (c *Config) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// LoadedKeys returns the keys that were set, sorted.
func (c *Config) LoadedKeys() []string {
	keys := make([]string, 0, len(c.values))
	for key := range c.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Sources returns the contributing sources in precedence order.
func (c *Config) Sources() []Source { return slices.Clone(c.sources) }

// Warnings returns every warning raised while loading.
func (c *Config) Warnings() []Warning { return slices.Clone(c.warnings) }

// LogValue reports sources and key names only.
func (c *Config) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(c.sources)+1)
	attrs = append(attrs, slog.Any("keys", c.LoadedKeys()))
	for _, source := range c.sources {
		attrs = append(attrs, slog.Any(source.Path, source.Keys))
	}
	return slog.GroupValue(attrs...)
}

// Close zeroes and releases every secret value. Safe to call more
// than once.
func (c *Config) Close() error {
	var errs []error
	for _, value := range c.values {
		if value.protected != nil {
			errs = append(errs, value.protected.Close())
		}
	}
	return errors.Join(errs...)
}

// set records value unless a higher-precedence source already won.
// Returns false when the key was already set.
func (c *Config) set(value *Value) bool {
	if _, exists := c.values[value.Key]; exists {
		return false
	}
	c.values[value.Key] = value
	for index := range c.sources {
		if c.sources[index].Path == value.Source {
			c.sources[index].Keys = append(c.sources[index].Keys, value.Key)
			return true
		}
	}
	c.sources = append(c.sources, Source{Path: value.Source, Rank: value.Rank, Keys: []string{value.Key}})
	return true
}

func (c *Config) warn(logger *slog.Logger, warning Warning) {
	c.warnings = append(c.warnings, warning)
	if warning.Security {
		logger.Warn("config file rejected", "path", warning.Path, "reason", warning.Message)
		return
	}
	logger.Warn("config warning", "path", warning.Path, "reason", warning.Message)
}

func newValue(key, source string, rank int, raw []byte) (*Value, error) {
	value := &Value{Key: key, Source: source, Rank: rank}
	if !allowed[key] {
		value.text = string(raw)
		return value, nil
	}
	protected, err := secret.NewFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("protecting %s: %w", key, err)
	}
	value.protected = protected
	return value, nil
}
