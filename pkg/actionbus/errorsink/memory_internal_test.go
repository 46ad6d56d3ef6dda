package errorsink

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryJournalEvictionReleasesEntries(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal(3)

	for i := range 10 {
		j.Report(ctx, fmt.Errorf("failure-%d", i))
	}

	require.Len(t, j.entries, 3)
	assert.LessOrEqual(t, cap(j.entries), 4)
	assert.Equal(t, int64(7), j.Evicted())

	// Slots past len must not pin evicted failures.
	for _, fd := range j.entries[len(j.entries):cap(j.entries)] {
		assert.Nil(t, fd)
	}

	all, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "failure-7", all[0].ErrorMessage)
	assert.Equal(t, "failure-9", all[2].ErrorMessage)
}
