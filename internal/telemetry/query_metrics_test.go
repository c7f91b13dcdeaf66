package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(op Operation, query string, results int) QueryEvent {
	return QueryEvent{
		Operation:   op,
		Query:       query,
		Confidence:  "medium",
		ResultCount: results,
		Attempts:    1,
		Latency:     5 * time.Millisecond,
		Timestamp:   time.Now(),
	}
}

func TestQueryMetrics_Record(t *testing.T) {
	m := NewQueryMetrics()
	defer m.Close()

	m.Record(event(OpUnified, "sleep spindles", 5))
	m.Record(event(OpUnified, "sleep stages", 3))
	m.Record(event(OpDecompose, "memory AND aging", 0))

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalQueries)
	assert.Equal(t, int64(2), snap.OperationCounts[OpUnified])
	assert.Equal(t, int64(1), snap.OperationCounts[OpDecompose])
	assert.Equal(t, int64(3), snap.ConfidenceCounts["medium"])
	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, []string{"memory AND aging"}, snap.ZeroResultQueries)
	assert.Equal(t, int64(3), snap.LatencyDistribution[BucketP10])
}

func TestQueryMetrics_TopTerms(t *testing.T) {
	m := NewQueryMetrics()
	defer m.Close()

	m.Record(event(OpUnified, "sleep spindles", 5))
	m.Record(event(OpUnified, "sleep stages", 5))
	m.Record(event(OpUnified, "REM sleep", 5))

	snap := m.Snapshot()
	require.NotEmpty(t, snap.TopTerms)
	assert.Equal(t, "sleep", snap.TopTerms[0].Term)
	assert.Equal(t, int64(3), snap.TopTerms[0].Count)
}

func TestQueryMetrics_EscalationAndRepeats(t *testing.T) {
	m := NewQueryMetrics()
	defer m.Close()

	e := event(OpRefine, "working memory", 4)
	e.Attempts = 3
	m.Record(e)
	m.Record(event(OpUnified, "Working Memory", 4)) // case-insensitive repeat
	m.Record(event(OpUnified, "something else", 4))

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.EscalatedCount)
	assert.Equal(t, int64(1), snap.ExactRepeatCount)
	assert.Equal(t, int64(2), snap.UniqueQueryCount)
	assert.InDelta(t, 5.0/3.0, snap.MeanAttempts(), 1e-9)
}

func TestQueryMetrics_ZeroResultPercentage(t *testing.T) {
	m := NewQueryMetrics()
	defer m.Close()

	m.Record(event(OpUnified, "hit", 1))
	m.Record(event(OpUnified, "miss", 0))

	snap := m.Snapshot()
	assert.InDelta(t, 50.0, snap.ZeroResultPercentage(), 1e-9)

	empty := &Snapshot{}
	assert.Zero(t, empty.ZeroResultPercentage())
	assert.Zero(t, empty.MeanAttempts())
}

func TestQueryMetrics_ClosedDropsEvents(t *testing.T) {
	m := NewQueryMetrics()
	require.NoError(t, m.Close())

	m.Record(event(OpUnified, "after close", 1))
	assert.Zero(t, m.Snapshot().TotalQueries)
}

func TestQueryMetrics_ConcurrentRecord(t *testing.T) {
	m := NewQueryMetrics()
	defer m.Close()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				m.Record(event(OpUnified, fmt.Sprintf("query %d %d", i, j), j%3))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(500), m.Snapshot().TotalQueries)
}

func TestCircularBuffer(t *testing.T) {
	b := NewCircularBuffer[int](3)
	assert.Zero(t, b.Size())
	assert.Empty(t, b.Items())

	b.Add(1)
	b.Add(2)
	assert.Equal(t, []int{1, 2}, b.Items())

	b.Add(3)
	b.Add(4) // evicts 1
	assert.Equal(t, 3, b.Size())
	assert.Equal(t, []int{2, 3, 4}, b.Items())

	b.Clear()
	assert.Zero(t, b.Size())
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{20 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{250 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d), tt.d.String())
	}
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"sleep", "spindles"}, ExtractTerms("Sleep Spindles"))
	assert.Equal(t, []string{"rem"}, ExtractTerms("to REM or"))
	assert.Nil(t, ExtractTerms("  "))
	assert.Nil(t, ExtractTerms("a b"))
}
