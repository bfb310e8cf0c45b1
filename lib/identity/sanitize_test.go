// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Ada Lovelace", "Ada Lovelace"},
		{"  O'Brien; rm -rf /  ", "O'Brien rm -rf"},
		{"Zoë\tMüller-Lüdenscheidt", "Zoë Müller-Lüdenscheidt"},
		{"José́ García", "José́ García"},
		{"Name`whoami`$(id)|cat", "Namewhoamiidcat"},
		{"Dr. Jane Q. Public, Jr.", "Dr. Jane Q. Public, Jr."},
		{"line\nbreak\x00null", "line breaknull"},
		{"李 小龍", "李 小龍"},
	}
	for _, test := range tests {
		got, err := SanitizeName(test.input)
		if err != nil {
			t.Errorf("SanitizeName(%q) error: %v", test.input, err)
			continue
		}
		if got != test.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", test.input, got, test.want)
		}
		if strings.ContainsAny(got, ";`$|<>&") {
			t.Errorf("SanitizeName(%q) = %q still holds shell-significant characters", test.input, got)
		}
	}
}

func TestSanitizeName_Rejects(t *testing.T) {
	for _, input := range []string{"", "   ", "12345", "';--", "\x01\x02"} {
		if _, err := SanitizeName(input); !errors.Is(err, ErrUnusable) {
			t.Errorf("SanitizeName(%q) = %v, want ErrUnusable", input, err)
		}
	}
}

func TestSanitizeName_Truncates(t *testing.T) {
	got, err := SanitizeName(strings.Repeat("é", MaxNameRunes+20))
	if err != nil {
		t.Fatal(err)
	}
	if runes := []rune(got); len(runes) != MaxNameRunes {
		t.Errorf("length = %d runes, want %d", len(runes), MaxNameRunes)
	}
}

func TestSanitizeEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Mailto:User@EXAMPLE.com ", "user@example.com"},
		{"ada.lovelace+git@analytical.engine.org", "ada.lovelace+git@analytical.engine.org"},
		{"<ada@example.com>", "ada@example.com"},
		{"ada@exa\x07mple.com", "ada@example.com"},
		{"  MAILTO:first_last%tag@sub-domain.example.co.uk", "first_last%tag@sub-domain.example.co.uk"},
	}
	for _, test := range tests {
		got, err := SanitizeEmail(test.input)
		if err != nil {
			t.Errorf("SanitizeEmail(%q) error: %v", test.input, err)
			continue
		}
		if got != test.want {
			t.Errorf("SanitizeEmail(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestSanitizeEmail_Rejects(t *testing.T) {
	for _, input := range []string{
		"",
		"ada",
		"ada@@example.com",
		"a@b@example.com",
		"@example.com",
		"ada@",
		"ada@localhost",
		"ada@.example.com",
		"ada@example.com.",
		"ada@example..com",
		strings.Repeat("a", MaxEmailLength) + "@example.com",
	} {
		if _, err := SanitizeEmail(input); !errors.Is(err, ErrUnusable) {
			t.Errorf("SanitizeEmail(%q) = %v, want ErrUnusable", input, err)
		}
	}
}
