// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/credboot/lib/atomicfile"
	"github.com/bureau-foundation/credboot/lib/audit"
	"github.com/bureau-foundation/credboot/lib/credential"
	"github.com/bureau-foundation/credboot/lib/fault"
	"github.com/bureau-foundation/credboot/lib/vault"
)

// Files written under <home>/.ssh/credboot.
const (
	SigningDirName     = "credboot"
	SigningKeyFile     = "signing_key.pub"
	AllowedSignersFile = "allowed_signers"
)

// ErrNoPublicKey is wrapped when a signing item yields no public key.
var ErrNoPublicKey = errors.New("no public key in signing item")

// Signing describes an applied signing configuration.
type Signing struct {
	KeyPath            string
	AllowedSignersPath string
	Fingerprint        string
	KeyType            string
	Strategy           string
}

// SigningDir returns <home>/.ssh/credboot.
func SigningDir(home string) string {
	return filepath.Join(home, ".ssh", SigningDirName)
}

// PublicKey finds the public key in item: a "public key" field, then
// any field holding an authorized_keys line, then the public half of
// the private key.
func PublicKey(item *vault.Item) (ssh.PublicKey, string, error) {
	if match, ok := (vault.ByLabel{Labels: []string{"public key", "public_key"}}).Extract(item); ok {
		if key, err := parseAuthorized(match.Value); err == nil {
			return key, match.Strategy, nil
		}
	}
	for index := range item.Fields {
		if key, err := parseAuthorized(item.Fields[index].Value); err == nil {
			return key, "value:authorized-key", nil
		}
	}
	if match, ok := vault.FirstMatch(item, credential.KeyExtractors...); ok {
		if key, err := publicFromPrivate(match.Value); err == nil {
			return key, "derived:" + match.Strategy, nil
		}
	}
	return nil, "", fault.Validation("%w %q", ErrNoPublicKey, item.Title)
}

func parseAuthorized(value []byte) (ssh.PublicKey, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Contains(trimmed, []byte("PRIVATE KEY")) {
		return nil, errors.New("not a public key")
	}
	key, _, _, rest, err := ssh.ParseAuthorizedKey(trimmed)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(rest)) != 0 {
		return nil, errors.New("more than one key")
	}
	return key, nil
}

func publicFromPrivate(value []byte) (ssh.PublicKey, error) {
	private, err := ssh.ParseRawPrivateKey(bytes.TrimSpace(value))
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) && missing.PublicKey != nil {
			return missing.PublicKey, nil
		}
		return nil, err
	}
	signer, err := ssh.NewSignerFromKey(private)
	if err != nil {
		return nil, err
	}
	return signer.PublicKey(), nil
}

// ConfigureSigning installs the public key of the signing item and
// enables SSH signing for commits and tags. email must already be
// sanitized; it becomes the principal in allowed_signers.
func (c *Configurator) ConfigureSigning(ctx context.Context, email string) (Signing, error) {
	if c.options.SigningItem == "" {
		return Signing{}, fault.Validation("no signing item configured")
	}
	if c.options.Home == "" || !filepath.IsAbs(c.options.Home) {
		return Signing{}, fault.Validation("home directory %q is not absolute", c.options.Home)
	}
	principal, err := SanitizeEmail(email)
	if err != nil || principal != email {
		return Signing{}, fault.Validation("signing principal %q is not a clean email", email)
	}

	item, err := c.options.Vault.GetItem(ctx, c.options.SigningItem)
	if err != nil {
		return Signing{}, fmt.Errorf("reading signing item: %w", err)
	}
	defer item.Wipe()

	key, strategy, err := PublicKey(item)
	if err != nil {
		return Signing{}, err
	}
	authorized := bytes.TrimSpace(ssh.MarshalAuthorizedKey(key))

	dir := SigningDir(c.options.Home)
	if err := ensurePrivateDir(dir); err != nil {
		return Signing{}, err
	}
	signing := Signing{
		KeyPath:            filepath.Join(dir, SigningKeyFile),
		AllowedSignersPath: filepath.Join(dir, AllowedSignersFile),
		Fingerprint:        ssh.FingerprintSHA256(key),
		KeyType:            key.Type(),
		Strategy:           strategy,
	}

	if err := atomicfile.Write(signing.KeyPath, append(authorized, '\n'), 0600); err != nil {
		return Signing{}, fault.Resource("writing signing key: %w", err)
	}
	allowed := fmt.Sprintf("%s namespaces=\"git\" %s\n", principal, authorized)
	if err := atomicfile.Write(signing.AllowedSignersPath, []byte(allowed), 0600); err != nil {
		return Signing{}, fault.Resource("writing allowed signers: %w", err)
	}

	for _, setting := range [][2]string{
		{KeyGPGFormat, "ssh"},
		{KeySigningKey, signing.KeyPath},
		{KeyAllowedSignersFile, signing.AllowedSignersPath},
		{KeyCommitGPGSign, "true"},
		{KeyTagGPGSign, "true"},
	} {
		if err := c.options.Git.Set(ctx, setting[0], setting[1]); err != nil {
			return Signing{}, fault.Failure("setting %s: %w", setting[0], err)
		}
	}

	c.options.Logger.Info("commit signing configured", "fingerprint", signing.Fingerprint, "key", signing.KeyPath)
	c.record(audit.EventSigningSet,
		slog.String("fingerprint", signing.Fingerprint),
		slog.String("key_type", signing.KeyType),
	)
	return signing, nil
}

// ensurePrivateDir creates dir with mode 0700, tightening an existing
// directory, and refuses symlinks and foreign owners.
func ensurePrivateDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fault.Resource("creating %s: %w", dir, err)
	}
	var stat unix.Stat_t
	if err := unix.Lstat(dir, &stat); err != nil {
		return fault.Resource("checking %s: %w", dir, err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFDIR {
		return fault.Security("%s is not a directory", dir)
	}
	if int(stat.Uid) != os.Getuid() {
		return fault.Security("%s is owned by uid %d", dir, stat.Uid)
	}
	if stat.Mode&0o777 != 0o700 {
		if err := os.Chmod(dir, 0700); err != nil {
			return fault.Resource("restricting %s: %w", dir, err)
		}
	}
	return nil
}
