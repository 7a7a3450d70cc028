// Package model defines the core domain types shared across the unification
// engine: raw staging rows, canonical clients, lead events, and sync runs.
package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Source identifies one of the independent contact feeds.
type Source string

const (
	SourceCRM   Source = "crm"
	SourceChat  Source = "chat"
	SourceSheet Source = "sheet"
)

// AllSources lists every feed in canonical processing order.
var AllSources = []Source{SourceCRM, SourceChat, SourceSheet}

// ParseSource converts a string into a Source.
func ParseSource(s string) (Source, error) {
	switch s {
	case "crm":
		return SourceCRM, nil
	case "chat":
		return SourceChat, nil
	case "sheet", "spreadsheet":
		return SourceSheet, nil
	default:
		return "", eris.Errorf("unknown source: %q (valid: crm, chat, sheet)", s)
	}
}

// ParseSources converts a list of source names, defaulting to all sources
// when the list is empty.
func ParseSources(names []string) ([]Source, error) {
	if len(names) == 0 {
		return AllSources, nil
	}
	out := make([]Source, 0, len(names))
	for _, n := range names {
		s, err := ParseSource(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// RawRecord is one unprocessed staging row, source-agnostic. ExternalID is
// the source's own identifier for the contact; Payload is the raw key/value
// bag as ingested. Rows are immutable except for the processed marker.
type RawRecord struct {
	ID         int64
	Source     Source
	ExternalID string
	Payload    map[string]any
	ArrivedAt  time.Time
}
