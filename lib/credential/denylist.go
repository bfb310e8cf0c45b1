// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/credboot/lib/fault"
)

// DenylistFileName is the feed file under the credboot config
// directory.
const DenylistFileName = "compromised-keys.yaml"

const maxDenylistSize = 4 << 20

var fingerprintPattern = regexp.MustCompile(`^SHA256:[A-Za-z0-9+/]{43}$`)

// DenylistEntry is one compromised key.
type DenylistEntry struct {
	Fingerprint string `yaml:"fingerprint"`
	Reason      string `yaml:"reason"`
}

type denylistFeed struct {
	Version int             `yaml:"version"`
	Keys    []DenylistEntry `yaml:"compromised_keys"`
}

// Denylist is a set of compromised key fingerprints. The nil Denylist
// is empty.
type Denylist struct {
	reasons map[string]string
}

// ParseDenylist decodes a YAML feed:
//
//	version: 1
//	compromised_keys:
//	  - fingerprint: SHA256:...
//	    reason: leaked in incident 2025-17
func ParseDenylist(data []byte) (*Denylist, error) {
	var feed denylistFeed
	if err := yaml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("parsing denylist: %w", err)
	}
	if feed.Version > 1 {
		return nil, fmt.Errorf("denylist version %d is newer than this credboot understands", feed.Version)
	}
	denylist := &Denylist{reasons: make(map[string]string, len(feed.Keys))}
	for index, entry := range feed.Keys {
		if !fingerprintPattern.MatchString(entry.Fingerprint) {
			return nil, fmt.Errorf("denylist entry %d: %q is not a SHA256 fingerprint", index+1, entry.Fingerprint)
		}
		reason := entry.Reason
		if reason == "" {
			reason = "listed as compromised"
		}
		denylist.reasons[entry.Fingerprint] = reason
	}
	return denylist, nil
}

// LoadDenylist reads the feed at path. A missing file yields an empty
// denylist unless required is set.
func LoadDenylist(path string, required bool) (*Denylist, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) && !required {
		return &Denylist{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading denylist: %w", err)
	}
	if info.Size() > maxDenylistSize {
		return nil, fmt.Errorf("denylist %s is %d bytes, over the %d byte limit", path, info.Size(), maxDenylistSize)
	}
	if info.Mode().Perm()&0o022 != 0 {
		return nil, fault.Security("denylist %s is writable by other users", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading denylist: %w", err)
	}
	return ParseDenylist(data)
}

// Len returns the number of entries.
func (d *Denylist) Len() int {
	if d == nil {
		return 0
	}
	return len(d.reasons)
}

// Check fails with a security fault when fingerprint is listed.
func (d *Denylist) Check(fingerprint string) error {
	if d == nil {
		return nil
	}
	if reason, listed := d.reasons[fingerprint]; listed {
		return fault.Security("key %s is on the compromised-key denylist: %s", fingerprint, reason).
			WithHint("rotate this key in the vault; it must not be loaded")
	}
	return nil
}
