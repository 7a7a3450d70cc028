package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource(t *testing.T) {
	tests := []struct {
		in      string
		want    Source
		wantErr bool
	}{
		{"crm", SourceCRM, false},
		{"chat", SourceChat, false},
		{"sheet", SourceSheet, false},
		{"spreadsheet", SourceSheet, false},
		{"salesforce", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSource(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseSources_DefaultsToAll(t *testing.T) {
	got, err := ParseSources(nil)
	require.NoError(t, err)
	assert.Equal(t, AllSources, got)
}

func TestParseSources_Invalid(t *testing.T) {
	_, err := ParseSources([]string{"crm", "fax"})
	assert.Error(t, err)
}
