package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatus_Terminal(t *testing.T) {
	assert.True(t, RunCompleted.Terminal())
	assert.True(t, RunCancelled.Terminal())
	assert.True(t, RunFailed.Terminal())
	assert.True(t, RunPaused.Terminal())

	assert.False(t, RunRunning.Terminal())
	assert.False(t, RunContinuing.Terminal())
	assert.False(t, RunCompleting.Terminal())
}

func TestRunStatus_Active(t *testing.T) {
	assert.True(t, RunRunning.Active())
	assert.True(t, RunContinuing.Active())
	assert.True(t, RunCompleting.Active())

	assert.False(t, RunCompleted.Active())
	assert.False(t, RunPaused.Active())
	assert.False(t, RunCancelled.Active())
}

func TestCursor_Clone(t *testing.T) {
	c := Cursor{SourceCRM: 10, SourceChat: 20}
	clone := c.Clone()
	clone[SourceCRM] = 99

	assert.Equal(t, int64(10), c[SourceCRM])
	assert.Equal(t, int64(99), clone[SourceCRM])
	assert.Equal(t, int64(20), clone[SourceChat])
}

func TestSourceCounts_Add(t *testing.T) {
	c := SourceCounts{Processed: 1, Created: 1}
	c.Add(SourceCounts{Processed: 4, Updated: 2, Errors: 1})

	assert.Equal(t, int64(5), c.Processed)
	assert.Equal(t, int64(1), c.Created)
	assert.Equal(t, int64(2), c.Updated)
	assert.Equal(t, int64(1), c.Errors)
	assert.Equal(t, int64(3), c.Merged())
}

func TestSyncRun_Totals(t *testing.T) {
	run := SyncRun{
		Counts: map[Source]SourceCounts{
			SourceCRM:  {Processed: 10, Errors: 2},
			SourceChat: {Processed: 5, Errors: 1},
		},
	}
	assert.Equal(t, int64(15), run.TotalProcessed())
	assert.Equal(t, int64(3), run.TotalErrors())
}
