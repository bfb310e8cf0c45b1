// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"bytes"
	"errors"

	"golang.org/x/crypto/ssh"

	"github.com/bureau-foundation/credboot/lib/fault"
	"github.com/bureau-foundation/credboot/lib/secret"
	"github.com/bureau-foundation/credboot/lib/vault"
)

// Size bounds for an encoded private key.
const (
	MinKeyBytes = 64
	MaxKeyBytes = 16 << 10
)

// ErrNoKeyMaterial is wrapped when an item has no field holding a
// private key.
var ErrNoKeyMaterial = errors.New("no private key material in item")

// privateKeyLabels are tried in order after the SSHKEY field type.
var privateKeyLabels = []string{"private key", "private_key", "ssh key", "key"}

// KeyExtractors are the strategies for finding private key bytes in an
// item, in priority order.
var KeyExtractors = []vault.FieldExtractor{
	vault.ByType{Type: vault.FieldTypeSSHKey, Format: "openssh"},
	vault.ByLabel{Labels: privateKeyLabels},
	vault.ByValue{Name: "pem", Accept: hasPrivateKeyHeader},
}

func hasPrivateKeyHeader(value []byte) bool {
	begin := bytes.Index(value, []byte("-----BEGIN "))
	if begin < 0 {
		return false
	}
	line, _, _ := bytes.Cut(value[begin:], []byte("\n"))
	return bytes.HasSuffix(bytes.TrimSpace(line), []byte("PRIVATE KEY-----"))
}

// Material is a validated private key held in protected memory.
type Material struct {
	buffer *secret.Buffer

	// KeyType is the public key algorithm, e.g. "ssh-ed25519".
	KeyType     string
	Fingerprint string
	Encrypted   bool
}

// Bytes returns the encoded key. Invalid after Close.
func (m *Material) Bytes() []byte { return m.buffer.Bytes() }

// Close zeroes and releases the key. Safe on nil and more than once.
func (m *Material) Close() error {
	if m == nil || m.buffer == nil {
		return nil
	}
	return m.buffer.Close()
}

// Extract finds, protects, and validates the private key in item. The
// matched field is moved into protected memory and zeroed in the item.
func Extract(item *vault.Item, denylist *Denylist) (*Material, error) {
	match, found := vault.FirstMatch(item, KeyExtractors...)
	if !found {
		return nil, fault.Validation("%w %q", ErrNoKeyMaterial, item.Title)
	}
	raw := bytes.TrimSpace(match.Value)
	if len(raw) < MinKeyBytes || len(raw) > MaxKeyBytes {
		secret.Zero(match.Value)
		return nil, fault.Validation("key in %q is %d bytes, outside [%d, %d]", item.Title, len(raw), MinKeyBytes, MaxKeyBytes)
	}

	// ssh-add rejects OpenSSH keys without a final newline.
	encoded := make([]byte, len(raw)+1)
	copy(encoded, raw)
	encoded[len(raw)] = '\n'
	secret.Zero(match.Value)

	buffer, err := secret.NewFromBytes(encoded)
	if err != nil {
		return nil, fault.Resource("protecting key material: %w", err)
	}
	material := &Material{buffer: buffer}
	if err := material.validate(denylist); err != nil {
		material.Close()
		return nil, err
	}
	return material, nil
}

// validate parses the key, fills in the fingerprint, and checks the
// denylist.
func (m *Material) validate(denylist *Denylist) error {
	raw := m.buffer.Bytes()
	if !hasPrivateKeyHeader(raw) {
		return fault.Validation("key material has no private key header")
	}

	var public ssh.PublicKey
	key, err := ssh.ParseRawPrivateKey(raw)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if !errors.As(err, &missing) || missing.PublicKey == nil {
			return fault.Validation("parsing private key: %w", err)
		}
		public = missing.PublicKey
		m.Encrypted = true
	} else {
		signer, err := ssh.NewSignerFromKey(key)
		if err != nil {
			return fault.Validation("unsupported private key: %w", err)
		}
		public = signer.PublicKey()
	}

	m.KeyType = public.Type()
	m.Fingerprint = ssh.FingerprintSHA256(public)
	return denylist.Check(m.Fingerprint)
}
