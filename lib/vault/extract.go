// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import "strings"

// Match is a value found in an item. Value aliases the item's memory:
// it is zeroed by Item.Wipe and must not be retained past it.
type Match struct {
	Field    *Field
	Value    []byte
	Strategy string
}

// FieldExtractor is one strategy for locating a value in an item.
type FieldExtractor interface {
	Extract(item *Item) (Match, bool)
}

// FirstMatch tries extractors in order and returns the first match.
func FirstMatch(item *Item, extractors ...FieldExtractor) (Match, bool) {
	if item == nil {
		return Match{}, false
	}
	for _, extractor := range extractors {
		if match, ok := extractor.Extract(item); ok {
			return match, true
		}
	}
	return Match{}, false
}

// ByType matches the first non-empty field of Type. When Format is set
// and the field carries that SSH format, the formatted value wins.
type ByType struct {
	Type   string
	Format string
}

func (e ByType) Extract(item *Item) (Match, bool) {
	for index := range item.Fields {
		field := &item.Fields[index]
		if !strings.EqualFold(field.Type, e.Type) {
			continue
		}
		if e.Format != "" {
			if format, ok := field.SSHFormats[e.Format]; ok && len(format.Value) > 0 {
				return Match{Field: field, Value: format.Value, Strategy: "type:" + e.Type + "/" + e.Format}, true
			}
		}
		if len(field.Value) > 0 {
			return Match{Field: field, Value: field.Value, Strategy: "type:" + e.Type}, true
		}
	}
	return Match{}, false
}

// ByLabel matches the first non-empty field whose label is one of
// Labels, trying labels in order.
type ByLabel struct {
	Labels []string
}

func (e ByLabel) Extract(item *Item) (Match, bool) {
	for _, label := range e.Labels {
		for index := range item.Fields {
			field := &item.Fields[index]
			if field.HasLabel(label) && len(field.Value) > 0 {
				return Match{Field: field, Value: field.Value, Strategy: "label:" + label}, true
			}
		}
	}
	return Match{}, false
}

// ByValue matches the first field whose value satisfies Accept.
type ByValue struct {
	Name   string
	Accept func(value []byte) bool
}

func (e ByValue) Extract(item *Item) (Match, bool) {
	for index := range item.Fields {
		field := &item.Fields[index]
		if len(field.Value) > 0 && e.Accept(field.Value) {
			return Match{Field: field, Value: field.Value, Strategy: "value:" + e.Name}, true
		}
	}
	return Match{}, false
}

// ExtractorFunc adapts a function to FieldExtractor.
type ExtractorFunc func(item *Item) (Match, bool)

func (f ExtractorFunc) Extract(item *Item) (Match, bool) { return f(item) }
