// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"sync"
	"testing"

	"github.com/bureau-foundation/credboot/lib/audit"
	"github.com/bureau-foundation/credboot/lib/fault"
	"github.com/bureau-foundation/credboot/lib/vault"
)

func field(label, value string) vault.Field {
	return vault.Field{Label: label, Type: vault.FieldTypeString, Value: vault.SecretValue(value)}
}

func TestFromItem_Strategies(t *testing.T) {
	tests := []struct {
		name          string
		item          *vault.Item
		wantName      string
		nameStrategy  string
		wantEmail     string
		emailStrategy string
	}{
		{
			name: "first and last with email field",
			item: &vault.Item{Title: "Git Identity", Fields: []vault.Field{
				field("first name", "Ada"),
				field("last name", "Lovelace"),
				{Label: "work address", Type: vault.FieldTypeEmail, Value: vault.SecretValue("Ada@Example.com")},
			}},
			wantName: "Ada Lovelace", nameStrategy: "first+last",
			wantEmail: "ada@example.com", emailStrategy: "type:EMAIL",
		},
		{
			name: "labels",
			item: &vault.Item{Title: "identity", Fields: []vault.Field{
				field("Full Name", "Grace Hopper"),
				field("E-Mail", "grace@navy.example.mil"),
			}},
			wantName: "Grace Hopper", nameStrategy: "label:full name",
			wantEmail: "grace@navy.example.mil", emailStrategy: "label:e-mail",
		},
		{
			name: "title and scan",
			item: &vault.Item{Title: "Katherine Johnson", Fields: []vault.Field{
				field("notes", "reach me at kj@nasa.example.gov for reviews"),
			}},
			wantName: "Katherine Johnson", nameStrategy: "title",
			wantEmail: "kj@nasa.example.gov", emailStrategy: "scan",
		},
		{
			name: "unusable first strategy falls through",
			item: &vault.Item{Title: "Margaret Hamilton", Fields: []vault.Field{
				field("name", "$$$ ;;; 123"),
				field("email", "not an address"),
				field("website", "https://example.com/contact mh@apollo.example.com"),
			}},
			wantName: "Margaret Hamilton", nameStrategy: "title",
			wantEmail: "mh@apollo.example.com", emailStrategy: "scan",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			identity := FromItem(test.item)
			if identity.Name != test.wantName || identity.NameStrategy != test.nameStrategy {
				t.Errorf("name = %q via %q, want %q via %q", identity.Name, identity.NameStrategy, test.wantName, test.nameStrategy)
			}
			if identity.Email != test.wantEmail || identity.EmailStrategy != test.emailStrategy {
				t.Errorf("email = %q via %q, want %q via %q", identity.Email, identity.EmailStrategy, test.wantEmail, test.emailStrategy)
			}
			if identity.Source() != SourceVault {
				t.Errorf("Source = %q, want vault", identity.Source())
			}
		})
	}
}

func TestFromItem_GenericTitleIgnored(t *testing.T) {
	for _, title := range []string{"Git Identity", "SSH Key", "a b c d e", "1234", "ada@example.com"} {
		identity := FromItem(&vault.Item{Title: title})
		if identity.Name != "" {
			t.Errorf("title %q produced name %q", title, identity.Name)
		}
	}
}

func TestFallback(t *testing.T) {
	tests := []struct {
		local     Local
		wantName  string
		wantEmail string
	}{
		{Local{Username: "ada", FullName: "Ada Lovelace", Hostname: "engine"}, "Ada Lovelace", "ada@engine.local"},
		{Local{Username: "ada", Hostname: "build01.example.com"}, "ada", "ada@build01.example.com"},
		{Local{Username: "ada", FullName: ",,,", Hostname: "Laptop."}, "ada", "ada@laptop.local"},
		{Local{Username: "", Hostname: ""}, "credboot user", "user@localhost.local"},
	}
	for _, test := range tests {
		identity := Fallback(test.local)
		if identity.Name != test.wantName || identity.Email != test.wantEmail {
			t.Errorf("Fallback(%+v) = %q <%s>, want %q <%s>", test.local, identity.Name, identity.Email, test.wantName, test.wantEmail)
		}
		if identity.Source() != SourceFallback {
			t.Errorf("Fallback source = %q", identity.Source())
		}
	}
}

// fakeVault serves a fixed item or error.
type fakeVault struct {
	items map[string]*vault.Item
	err   error
}

func (v *fakeVault) GetItem(_ context.Context, reference string) (*vault.Item, error) {
	if v.err != nil {
		return nil, v.err
	}
	item, ok := v.items[reference]
	if !ok {
		return nil, fault.Failure("item %q not found", reference)
	}
	return item, nil
}

// fakeGit records settings in memory.
type fakeGit struct {
	mu       sync.Mutex
	settings map[string]string
	fail     map[string]error
}

func newFakeGit() *fakeGit { return &fakeGit{settings: map[string]string{}, fail: map[string]error{}} }

func (g *fakeGit) Get(_ context.Context, key string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	value, ok := g.settings[key]
	return value, ok, nil
}

func (g *fakeGit) Set(_ context.Context, key, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail[key]; err != nil {
		return err
	}
	g.settings[key] = value
	return nil
}

var local = Local{Username: "ada", FullName: "Ada Lovelace", Hostname: "engine"}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	identityItem := &vault.Item{Title: "Ada Byron", Fields: []vault.Field{field("email", "ada@example.com")}}

	t.Run("from vault", func(t *testing.T) {
		configurator, err := New(Options{
			Vault:        &fakeVault{items: map[string]*vault.Item{"Git Identity": identityItem}},
			Git:          newFakeGit(),
			IdentityItem: "Git Identity",
			Local:        local,
		})
		if err != nil {
			t.Fatal(err)
		}
		identity, err := configurator.Resolve(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if identity.Name != "Ada Byron" || identity.Email != "ada@example.com" || identity.Source() != SourceVault {
			t.Errorf("identity = %+v", identity)
		}
	})

	t.Run("partial item is completed", func(t *testing.T) {
		item := &vault.Item{Title: "ssh key", Fields: []vault.Field{field("email", "ada@example.com")}}
		configurator, _ := New(Options{
			Vault:        &fakeVault{items: map[string]*vault.Item{"id": item}},
			Git:          newFakeGit(),
			IdentityItem: "id",
			Local:        local,
		})
		identity, err := configurator.Resolve(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if identity.Name != "Ada Lovelace" || identity.NameSource != SourceFallback || identity.EmailSource != SourceVault {
			t.Errorf("identity = %+v", identity)
		}
		if identity.Source() != "mixed" {
			t.Errorf("Source = %q, want mixed", identity.Source())
		}
	})

	t.Run("missing item falls back", func(t *testing.T) {
		configurator, _ := New(Options{Vault: &fakeVault{}, Git: newFakeGit(), IdentityItem: "absent", Local: local})
		identity, err := configurator.Resolve(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if identity.Source() != SourceFallback || identity.Email != "ada@engine.local" {
			t.Errorf("identity = %+v", identity)
		}
	})

	t.Run("authentication failure is fatal", func(t *testing.T) {
		configurator, _ := New(Options{
			Vault:        &fakeVault{err: fault.Authentication("token rejected")},
			Git:          newFakeGit(),
			IdentityItem: "id",
			Local:        local,
		})
		if _, err := configurator.Resolve(ctx); !fault.Is(err, fault.KindAuthentication) {
			t.Fatalf("Resolve error = %v, want authentication", err)
		}
	})

	t.Run("no item configured", func(t *testing.T) {
		configurator, _ := New(Options{Git: newFakeGit(), Local: local})
		identity, err := configurator.Resolve(ctx)
		if err != nil || identity.Source() != SourceFallback {
			t.Errorf("Resolve = %+v, %v", identity, err)
		}
	})
}

func TestApply(t *testing.T) {
	git := newFakeGit()
	events := &audit.Memory{}
	configurator, err := New(Options{Git: git, Audit: events})
	if err != nil {
		t.Fatal(err)
	}
	identity := Identity{Name: "Ada Lovelace", Email: "ada@example.com", NameSource: SourceVault, EmailSource: SourceVault}
	if err := configurator.Apply(context.Background(), identity); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if git.settings[KeyUserName] != "Ada Lovelace" || git.settings[KeyUserEmail] != "ada@example.com" {
		t.Errorf("settings = %v", git.settings)
	}
	if events := events.Named(audit.EventIdentitySet); len(events) != 1 || events[0].Details["source"] != SourceVault {
		t.Errorf("identity_set events = %v", events)
	}

	if err := configurator.Apply(context.Background(), Identity{Name: "x"}); !fault.Is(err, fault.KindValidation) {
		t.Errorf("Apply(incomplete) = %v, want validation", err)
	}
}

func TestNew_RequiresVaultForItems(t *testing.T) {
	if _, err := New(Options{Git: newFakeGit(), SigningItem: "signing"}); err == nil {
		t.Error("New accepted a signing item without a vault")
	}
	if _, err := New(Options{}); err == nil {
		t.Error("New accepted options without git")
	}
}
