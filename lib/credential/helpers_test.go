// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/bureau-foundation/credboot/lib/sshagent"
	"github.com/bureau-foundation/credboot/lib/vault"
)

// newKeyPEM returns an OpenSSH encoded ed25519 private key and its
// fingerprint.
func newKeyPEM(t *testing.T) ([]byte, string) {
	t.Helper()
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(private, "test key")
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(private)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(block), ssh.FingerprintSHA256(signer.PublicKey())
}

// sshItem builds an item shaped like "op item get" output for an SSH
// Key item.
func sshItem(title string, key []byte) *vault.Item {
	return &vault.Item{
		ID:       "id-" + title,
		Title:    title,
		Category: vault.CategorySSHKey,
		Fields: []vault.Field{
			{ID: "public_key", Type: vault.FieldTypeString, Label: "public key", Value: vault.SecretValue("ssh-ed25519 AAAAC3Nza")},
			{
				ID:    "private_key",
				Type:  vault.FieldTypeSSHKey,
				Label: "private key",
				Value: vault.SecretValue(bytes.Clone(key)),
				SSHFormats: map[string]vault.SSHFormat{
					"openssh": {Value: vault.SecretValue(bytes.Clone(key))},
				},
			},
		},
	}
}

// runDir returns an owner-only directory for key files.
func runDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "run")
	if err := os.Mkdir(dir, 0700); err != nil {
		t.Fatal(err)
	}
	return dir
}

func assertRunDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		t.Errorf("run directory still holds %s", entry.Name())
	}
}

// addCall is what a fakeAdder observed while the key file existed.
type addCall struct {
	path        string
	fingerprint string
	mode        os.FileMode
	content     []byte
}

// fakeAdder is a KeyAdder that inspects the key file it is handed.
type fakeAdder struct {
	mu     sync.Mutex
	calls  []addCall
	result sshagent.AddResult
	err    error

	// during runs inside AddKey, before it returns.
	during func(ctx context.Context) error
}

func (a *fakeAdder) AddKey(ctx context.Context, path, fingerprint string) (sshagent.AddResult, error) {
	call := addCall{path: path, fingerprint: fingerprint}
	if info, err := os.Stat(path); err == nil {
		call.mode = info.Mode().Perm()
	}
	call.content, _ = os.ReadFile(path)
	a.mu.Lock()
	a.calls = append(a.calls, call)
	a.mu.Unlock()

	if a.during != nil {
		if err := a.during(ctx); err != nil {
			return sshagent.AddFailed, err
		}
	}
	if a.err != nil {
		return sshagent.AddFailed, a.err
	}
	if a.result == sshagent.AddFailed {
		return sshagent.Added, nil
	}
	return a.result, nil
}

func (a *fakeAdder) recorded() []addCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]addCall(nil), a.calls...)
}
