package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestDisabledNoIncrement(t *testing.T) {
	m := New(Config{Enabled: false})
	m.Inc(RefreshSuccess)

	if got := m.Value(RefreshSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(LoginSuccess)
	m.Observe(AuthenticateLatency, time.Millisecond)
	if m.Enabled() || m.LatencyEnabled() {
		t.Fatal("nil metrics must report disabled")
	}
	if got := m.Value(LoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestConcurrentIncrement(t *testing.T) {
	m := New(Config{Enabled: true})

	const goroutines = 32
	const perG = 2000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(RefreshMismatch)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(RefreshMismatch); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestOutOfRangeIgnored(t *testing.T) {
	m := New(Config{Enabled: true})
	m.Inc(IDCount)
	m.Inc(IDCount + 7)
	if got := m.Value(IDCount); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestHistogramBuckets(t *testing.T) {
	m := New(Config{Enabled: true, EnableLatencyHistograms: true})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		2 * time.Second,
	}
	for _, d := range observations {
		m.Observe(AuthenticateLatency, d)
	}
	// counters never carry histograms
	m.Observe(RefreshSuccess, time.Millisecond)

	buckets := m.Snapshot().Histograms[AuthenticateLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d: expected 1, got %d", i, v)
		}
	}
	if _, ok := m.Snapshot().Histograms[RefreshSuccess]; ok {
		t.Fatal("unexpected histogram for counter metric")
	}
}

func TestLatencyRequiresFlag(t *testing.T) {
	m := New(Config{Enabled: true})
	m.Observe(AuthenticateLatency, time.Millisecond)

	snap := m.Snapshot()
	if _, ok := snap.Histograms[AuthenticateLatency]; ok {
		t.Fatal("histogram must be absent when latency is disabled")
	}
	if _, ok := snap.Counters[AuthenticateLatency]; ok {
		t.Fatal("latency id must not appear as a counter")
	}
}
