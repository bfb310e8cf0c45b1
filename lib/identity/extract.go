// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/bureau-foundation/credboot/lib/vault"
)

var (
	firstNameLabels = []string{"first name", "firstname", "first_name", "given name"}
	lastNameLabels  = []string{"last name", "lastname", "last_name", "surname", "family name"}
	fullNameLabels  = []string{"full name", "name", "display name", "git name", "author"}
	emailLabels     = []string{"email", "e-mail", "git email", "mail"}
)

// genericTitles are item titles that describe the item rather than
// the person.
var genericTitles = map[string]bool{
	"identity": true, "git": true, "git identity": true, "git config": true,
	"profile": true, "account": true, "login": true, "credentials": true,
	"ssh": true, "ssh key": true, "signing key": true, "key": true,
	"user": true, "developer": true, "me": true, "personal": true,
	"work": true, "default": true,
}

var emailShape = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// NameExtractors locate a display name: first plus last name fields,
// then full-name labels, then a plausible item title.
var NameExtractors = []vault.FieldExtractor{
	vault.ExtractorFunc(firstAndLast),
	vault.ByLabel{Labels: fullNameLabels},
	vault.ExtractorFunc(plausibleTitle),
}

// EmailExtractors locate an email: an EMAIL field, then email labels,
// then any email-shaped text in any field.
var EmailExtractors = []vault.FieldExtractor{
	vault.ByType{Type: vault.FieldTypeEmail},
	vault.ByLabel{Labels: emailLabels},
	vault.ExtractorFunc(scanForEmail),
}

func firstAndLast(item *vault.Item) (vault.Match, bool) {
	first, foundFirst := vault.ByLabel{Labels: firstNameLabels}.Extract(item)
	last, foundLast := vault.ByLabel{Labels: lastNameLabels}.Extract(item)
	if !foundFirst || !foundLast {
		return vault.Match{}, false
	}
	joined := strings.TrimSpace(string(first.Value)) + " " + strings.TrimSpace(string(last.Value))
	return vault.Match{Field: first.Field, Value: []byte(joined), Strategy: "first+last"}, true
}

// plausibleTitle accepts titles of one to four words that contain a
// letter and are not a generic description.
func plausibleTitle(item *vault.Item) (vault.Match, bool) {
	title := strings.TrimSpace(item.Title)
	words := strings.Fields(title)
	if len(words) == 0 || len(words) > 4 {
		return vault.Match{}, false
	}
	if !strings.ContainsFunc(title, unicode.IsLetter) || strings.Contains(title, "@") {
		return vault.Match{}, false
	}
	if genericTitles[strings.ToLower(strings.Join(words, " "))] {
		return vault.Match{}, false
	}
	return vault.Match{Value: []byte(title), Strategy: "title"}, true
}

func scanForEmail(item *vault.Item) (vault.Match, bool) {
	for index := range item.Fields {
		field := &item.Fields[index]
		if found := emailShape.Find(field.Value); found != nil {
			return vault.Match{Field: field, Value: found, Strategy: "scan"}, true
		}
	}
	return vault.Match{}, false
}

// candidate runs each extractor in order and returns the first value
// that sanitize accepts, with the strategy that produced it.
func candidate(item *vault.Item, extractors []vault.FieldExtractor, sanitize func(string) (string, error)) (string, string, bool) {
	for _, extractor := range extractors {
		match, found := extractor.Extract(item)
		if !found {
			continue
		}
		if value, err := sanitize(string(match.Value)); err == nil {
			return value, match.Strategy, true
		}
	}
	return "", "", false
}
