package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/client-sync/internal/model"
)

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("123456789abcdef"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	updated := started.Add(90 * time.Second)
	runs := []model.SyncRun{
		{
			ID:      "aaaabbbb-cccc-dddd-eeee-ffff00001111",
			Status:  model.RunCompleted,
			Chunk:   2,
			Sources: model.AllSources,
			Counts: map[model.Source]model.SourceCounts{
				model.SourceCRM:  {Processed: 100, Created: 10, Updated: 5},
				model.SourceChat: {Processed: 50, Errors: 1},
			},
			StartedAt: started,
			UpdatedAt: updated,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "aaaabbbb")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "150") // total processed
	assert.Contains(t, out, "15")  // created + updated
	assert.Contains(t, out, "1m30s")
}
