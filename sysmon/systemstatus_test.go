package sysmon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCurrentStatus_FalseWithNoSamples(t *testing.T) {
	s := NewSystemStatus(StatusConfig{})
	assert.False(t, s.CurrentStatus())
	assert.False(t, s.HistoricalStatus())
}

func TestCurrentStatus_OverloadedAboveRatio(t *testing.T) {
	s := NewSystemStatus(StatusConfig{CurrentWindow: time.Minute, HistoricalWindow: time.Hour, MaxOverloadedRatio: 0.5})
	base := time.Now()

	s.record(Sample{Overloaded: true, At: base})
	s.record(Sample{Overloaded: true, At: base.Add(time.Second)})
	s.record(Sample{Overloaded: false, At: base.Add(2 * time.Second)})

	assert.True(t, s.CurrentStatus(), "2/3 overloaded samples should exceed a 0.5 ratio")
}

func TestCurrentStatus_NotOverloadedBelowRatio(t *testing.T) {
	s := NewSystemStatus(StatusConfig{CurrentWindow: time.Minute, HistoricalWindow: time.Hour, MaxOverloadedRatio: 0.5})
	base := time.Now()

	s.record(Sample{Overloaded: true, At: base})
	s.record(Sample{Overloaded: false, At: base.Add(time.Second)})
	s.record(Sample{Overloaded: false, At: base.Add(2 * time.Second)})

	assert.False(t, s.CurrentStatus(), "1/3 overloaded samples should stay under a 0.5 ratio")
}

func TestRecord_PrunesSamplesOlderThanHistoricalWindow(t *testing.T) {
	s := NewSystemStatus(StatusConfig{CurrentWindow: time.Second, HistoricalWindow: 5 * time.Second, MaxOverloadedRatio: 0.1})
	base := time.Now()

	s.record(Sample{Overloaded: true, At: base})
	s.record(Sample{Overloaded: false, At: base.Add(10 * time.Second)})

	s.mu.Lock()
	n := len(s.samples)
	s.mu.Unlock()
	assert.Equal(t, 1, n, "the stale sample outside the historical window must be pruned")
}

func TestCurrentStatus_ShortWindowIgnoresOlderSamples(t *testing.T) {
	s := NewSystemStatus(StatusConfig{CurrentWindow: time.Second, HistoricalWindow: time.Hour, MaxOverloadedRatio: 0.1})
	base := time.Now()

	s.record(Sample{Overloaded: true, At: base})
	s.record(Sample{Overloaded: false, At: base.Add(10 * time.Second)})

	assert.False(t, s.CurrentStatus(), "the overloaded sample is outside the 1s current window")
	assert.True(t, s.HistoricalStatus(), "the 1-hour historical window still sees the overloaded sample")
}
