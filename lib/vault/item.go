// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"errors"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/bureau-foundation/credboot/lib/secret"
)

// Field types and categories used by credboot.
const (
	FieldTypeSSHKey = "SSHKEY"
	FieldTypeEmail  = "EMAIL"
	FieldTypeString = "STRING"

	CategorySSHKey = "SSH_KEY"
)

// SecretValue is a JSON string decoded into bytes without passing
// through a Go string. Zero it with Wipe.
type SecretValue []byte

// UnmarshalJSON decodes a JSON string or null.
func (v *SecretValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = nil
		return nil
	}
	decoded, err := decodeJSONString(data)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// Wipe zeroes the value in place.
func (v SecretValue) Wipe() { secret.Zero(v) }

// SSHFormat is one rendering of a key in an SSHKEY field.
type SSHFormat struct {
	Value SecretValue `json:"value"`
}

// Field is one item field.
type Field struct {
	ID         string               `json:"id"`
	Type       string               `json:"type"`
	Purpose    string               `json:"purpose"`
	Label      string               `json:"label"`
	Value      SecretValue          `json:"value"`
	SSHFormats map[string]SSHFormat `json:"ssh_formats"`
}

// HasLabel reports whether the field label equals one of labels,
// ignoring case and surrounding space.
func (f *Field) HasLabel(labels ...string) bool {
	label := strings.TrimSpace(f.Label)
	for _, candidate := range labels {
		if strings.EqualFold(label, candidate) {
			return true
		}
	}
	return false
}

// Item is a vault record from "op item get --format json".
type Item struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Category string  `json:"category"`
	Fields   []Field `json:"fields"`
}

// Wipe zeroes every field value.
func (i *Item) Wipe() {
	if i == nil {
		return
	}
	for index := range i.Fields {
		i.Fields[index].Value.Wipe()
		for _, format := range i.Fields[index].SSHFormats {
			format.Value.Wipe()
		}
	}
}

// ItemSummary is one entry of "op item list --format json".
type ItemSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

// Account is the result of "op whoami --format json".
type Account struct {
	URL         string `json:"url"`
	Email       string `json:"email"`
	UserUUID    string `json:"user_uuid"`
	AccountUUID string `json:"account_uuid"`
	UserType    string `json:"user_type"`
}

var errBadString = errors.New("vault: malformed JSON string")

// decodeJSONString unescapes a quoted JSON string literal into a new
// byte slice. The input has already been validated by the JSON
// decoder, so only the escapes need care.
func decodeJSONString(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return nil, errBadString
	}
	body := data[1 : len(data)-1]
	out := make([]byte, 0, len(body))
	for index := 0; index < len(body); {
		c := body[index]
		if c != '\\' {
			out = append(out, c)
			index++
			continue
		}
		if index+1 >= len(body) {
			return nil, errBadString
		}
		escape := body[index+1]
		index += 2
		switch escape {
		case '"', '\\', '/':
			out = append(out, escape)
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'u':
			r, ok := hexRune(body, index)
			if !ok {
				return nil, errBadString
			}
			index += 4
			if utf16.IsSurrogate(r) {
				low, ok := rune(-1), false
				if index+6 <= len(body) && body[index] == '\\' && body[index+1] == 'u' {
					low, ok = hexRune(body, index+2)
				}
				if decoded := utf16.DecodeRune(r, low); ok && decoded != utf8.RuneError {
					r = decoded
					index += 6
				} else {
					r = utf8.RuneError
				}
			}
			out = utf8.AppendRune(out, r)
		default:
			return nil, errBadString
		}
	}
	return out, nil
}

func hexRune(body []byte, at int) (rune, bool) {
	if at+4 > len(body) {
		return 0, false
	}
	var r rune
	for _, c := range body[at : at+4] {
		r <<= 4
		switch {
		case '0' <= c && c <= '9':
			r |= rune(c - '0')
		case 'a' <= c && c <= 'f':
			r |= rune(c - 'a' + 10)
		case 'A' <= c && c <= 'F':
			r |= rune(c - 'A' + 10)
		default:
			return 0, false
		}
	}
	return r, true
}
