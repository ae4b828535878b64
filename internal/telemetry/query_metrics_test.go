package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBuffer_Add(t *testing.T) {
	buf := NewCircularBuffer[string](10)

	buf.Add("query1")
	buf.Add("query2")

	assert.Equal(t, []string{"query1", "query2"}, buf.Items())
	assert.Equal(t, 2, buf.Size())
}

func TestCircularBuffer_MaintainsCapacity(t *testing.T) {
	buf := NewCircularBuffer[string](3)

	for _, q := range []string{"query1", "query2", "query3", "query4", "query5"} {
		buf.Add(q)
	}

	assert.Equal(t, []string{"query3", "query4", "query5"}, buf.Items())
	assert.Equal(t, 3, buf.Size())
}

func TestCircularBuffer_EmptyAndDefaultCapacity(t *testing.T) {
	buf := NewCircularBuffer[int](0)
	assert.Empty(t, buf.Items())
	for i := 0; i < 150; i++ {
		buf.Add(i)
	}
	assert.Equal(t, 100, buf.Size())
	assert.Equal(t, 50, buf.Items()[0])
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{499 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d), tt.d.String())
	}
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"kernel", "scheduler", "linux", "exact"},
		ExtractTerms(`Kernel +scheduler tags:linux "exact`))
	assert.Equal(t, []string{"kern"}, ExtractTerms("kern* go -a"))
	assert.Nil(t, ExtractTerms("   "))
}

func TestQueryMetrics_Record(t *testing.T) {
	// Given: a collector
	m := New(Config{})

	// When: recording a mix of events
	m.Record(QueryEvent{Query: "kernel scheduler", Kind: KindSearch, ResultCount: 3, Latency: time.Millisecond})
	m.Record(QueryEvent{Query: "Kernel Scheduler", Kind: KindSearch, ResultCount: 3, Latency: 20 * time.Millisecond})
	m.Record(QueryEvent{Query: "kernel", Kind: KindNgram, ResultCount: 0, Latency: time.Millisecond})
	m.Record(QueryEvent{Query: "broken", Kind: KindSuggest, Failed: true, Latency: time.Second})

	// Then: the snapshot aggregates them
	s := m.Snapshot()
	require.NotNil(t, s)
	assert.Equal(t, int64(4), s.TotalQueries)
	assert.Equal(t, int64(1), s.FailedQueries)
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, []string{"kernel"}, s.ZeroResultQueries)
	assert.Equal(t, int64(2), s.KindCounts[KindSearch])
	assert.Equal(t, int64(1), s.KindCounts[KindNgram])
	assert.Equal(t, int64(1), s.KindCounts[KindSuggest])
	assert.Equal(t, int64(2), s.LatencyDistribution[BucketP10])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP50])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP1000])
	assert.Equal(t, int64(1), s.ExactRepeatCount, "same query modulo case repeats")
	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, TermCount{Term: "kernel", Count: 3}, s.TopTerms[0])
	assert.Equal(t, TermCount{Term: "scheduler", Count: 2}, s.TopTerms[1])
	assert.InDelta(t, 25.0, s.ZeroResultPercentage(), 0.001)
}

func TestQueryMetrics_RepeatIsPerKind(t *testing.T) {
	m := New(Config{})
	m.Record(QueryEvent{Query: "kern", Kind: KindSearch, ResultCount: 1})
	m.Record(QueryEvent{Query: "kern", Kind: KindSuggest, ResultCount: 1})

	assert.Equal(t, int64(0), m.Snapshot().ExactRepeatCount)
}

func TestQueryMetrics_TopTermsReportedLimit(t *testing.T) {
	m := New(Config{TopTermsReported: 2})
	m.Record(QueryEvent{Query: "aaa bbb ccc", Kind: KindSearch, ResultCount: 1})
	m.Record(QueryEvent{Query: "ccc", Kind: KindSearch, ResultCount: 1})

	s := m.Snapshot()
	require.Len(t, s.TopTerms, 2)
	assert.Equal(t, "ccc", s.TopTerms[0].Term)
	assert.Equal(t, "aaa", s.TopTerms[1].Term)
}

func TestQueryMetrics_Nil(t *testing.T) {
	var m *QueryMetrics
	assert.NotPanics(t, func() { m.Record(QueryEvent{Query: "x"}) })
	assert.Nil(t, m.Snapshot())
}

func TestQueryMetrics_EmptySnapshot(t *testing.T) {
	s := New(Config{}).Snapshot()
	assert.Zero(t, s.TotalQueries)
	assert.Zero(t, s.ZeroResultPercentage())
	assert.Empty(t, s.ZeroResultQueries)
	assert.False(t, s.Since.IsZero())
}

func TestQueryMetrics_ConcurrentRecord(t *testing.T) {
	m := New(Config{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Record(QueryEvent{Query: "kernel", Kind: KindSearch, ResultCount: j % 2})
			}
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	assert.Equal(t, int64(800), s.TotalQueries)
	assert.Equal(t, int64(400), s.ZeroResultCount)
	assert.Equal(t, int64(799), s.ExactRepeatCount)
}
