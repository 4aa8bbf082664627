// internal/telemetry/telemetry_test.go
package telemetry

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/solatis/uploadwaf/internal/policy"
	"github.com/solatis/uploadwaf/internal/rules"
	"github.com/solatis/uploadwaf/internal/types"
)

func TestCounters_Concurrent(t *testing.T) {
	var c Counters
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Record("a", j%2 == 0)
			}
		}()
	}
	wg.Wait()

	got := c.Get("a")
	if got.Evaluated != 800 || got.Matched != 400 {
		t.Errorf("Get(a) = %+v, want {Evaluated:800 Matched:400}", got)
	}
	if got := c.Get("missing"); got.Evaluated != 0 {
		t.Errorf("Get(missing).Evaluated = %d, want 0", got.Evaluated)
	}
}

func TestCounters_EngineRecordsEveryRuleAndDefault(t *testing.T) {
	compiled, err := policy.Build(policy.Intent{AllowedPaths: []string{"/upload"}, ManagedGroups: []string{"CommonRuleSet"}})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	var c Counters
	engine := rules.NewEngine(rules.WithRecorder(&c))

	engine.Decide(compiled, types.RequestAttributes{Method: "GET", URIPath: "/"})

	snap := c.Snapshot()
	want := []RuleCount{
		{Rule: policy.BlockRuleName, Evaluated: 1, Matched: 0},
		{Rule: "CommonRuleSet", Evaluated: 1, Matched: 0},
		{Rule: types.DefaultRuleName, Evaluated: 1, Matched: 1},
	}
	if len(snap) != len(want) {
		t.Fatalf("Snapshot() = %+v, want %d entries", snap, len(want))
	}
	byRule := make(map[string]RuleCount, len(snap))
	for _, rc := range snap {
		byRule[rc.Rule] = rc
	}
	for _, w := range want {
		if got := byRule[w.Rule]; got != w {
			t.Errorf("Snapshot()[%s] = %+v, want %+v", w.Rule, got, w)
		}
	}
}

func TestMetrics_RecordAndServe(t *testing.T) {
	m := NewMetrics("test")
	m.Record("BlockMultipartOutsideAllowedPaths", true)
	m.Record("BlockMultipartOutsideAllowedPaths", false)
	m.Record("BlockMultipartOutsideAllowedPaths", true)
	m.ObserveDecision(types.Decision{Action: types.ActionBlock}, time.Microsecond)

	if got := testutil.ToFloat64(m.evaluations.WithLabelValues("BlockMultipartOutsideAllowedPaths", "true")); got != 2 {
		t.Errorf("matched counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.decisions.WithLabelValues("BLOCK")); got != 1 {
		t.Errorf("decisions{BLOCK} = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "test_rule_evaluations_total") {
		t.Errorf("metrics output missing test_rule_evaluations_total")
	}
}

// blockingStore holds every insert until release is closed.
type blockingStore struct {
	*MemoryStore
	release chan struct{}
}

func (b *blockingStore) InsertSample(ctx context.Context, s types.SampledRequest) error {
	<-b.release
	return b.MemoryStore.InsertSample(ctx, s)
}

type failingStore struct{ *MemoryStore }

func (failingStore) InsertSample(context.Context, types.SampledRequest) error {
	return errors.New("disk full")
}

func TestSampleBuffer_WritesAndAssignsIDs(t *testing.T) {
	store := NewMemoryStore(10)
	buf := NewSampleBuffer(store, BufferConfig{Size: 4}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if err := buf.Sample(types.SampledRequest{PolicyID: "p", Rule: "r", Action: types.ActionAllow}); err != nil {
			t.Fatalf("Sample() error = %v, want nil", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := buf.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v, want nil", err)
	}

	got, _ := store.ListSamples(context.Background(), SampleFilter{})
	if len(got) != 3 {
		t.Fatalf("ListSamples() returned %d, want 3", len(got))
	}
	for _, s := range got {
		if s.SampleID == "" {
			t.Errorf("sample stored without ID")
		}
	}
	if buf.Written() != 3 {
		t.Errorf("Written() = %d, want 3", buf.Written())
	}
	if err := buf.Sample(types.SampledRequest{}); !errors.Is(err, ErrBufferClosed) {
		t.Errorf("Sample() after Close error = %v, want ErrBufferClosed", err)
	}
}

func TestSampleBuffer_DropsWhenFull(t *testing.T) {
	store := &blockingStore{MemoryStore: NewMemoryStore(100), release: make(chan struct{})}
	buf := NewSampleBuffer(store, BufferConfig{Size: 2}, zerolog.Nop())

	// One sample may be held by the worker, two fit in the channel; the rest drop.
	for i := 0; i < 10; i++ {
		if err := buf.Sample(types.SampledRequest{Rule: "r"}); err != nil {
			t.Fatalf("Sample() error = %v, want nil (drops are silent)", err)
		}
	}
	if d := buf.Dropped(); d < 7 {
		t.Errorf("Dropped() = %d, want at least 7", d)
	}

	close(store.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := buf.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if buf.Written()+buf.Dropped() != 10 {
		t.Errorf("Written()+Dropped() = %d, want 10", buf.Written()+buf.Dropped())
	}
}

func TestSampleBuffer_StoreFailureIsLogged(t *testing.T) {
	buf := NewSampleBuffer(failingStore{NewMemoryStore(1)}, BufferConfig{}, zerolog.Nop())
	if err := buf.Sample(types.SampledRequest{Rule: "r"}); err != nil {
		t.Fatalf("Sample() error = %v, want nil", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := buf.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if buf.Written() != 0 {
		t.Errorf("Written() = %d, want 0", buf.Written())
	}
}

func TestMemoryStore_RingAndFilter(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()
	for _, rule := range []string{"a", "b", "a", "b"} {
		store.InsertSample(ctx, types.SampledRequest{PolicyID: "p", Rule: rule})
	}

	all, _ := store.ListSamples(ctx, SampleFilter{})
	if len(all) != 3 {
		t.Fatalf("ListSamples() returned %d, want 3 (ring capacity)", len(all))
	}
	if all[0].Rule != "b" {
		t.Errorf("newest sample rule = %q, want b", all[0].Rule)
	}

	onlyA, _ := store.ListSamples(ctx, SampleFilter{Rule: "a"})
	if len(onlyA) != 1 {
		t.Errorf("ListSamples(rule=a) returned %d, want 1", len(onlyA))
	}

	limited, _ := store.ListSamples(ctx, SampleFilter{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("ListSamples(limit=2) returned %d, want 2", len(limited))
	}

	none, _ := store.ListSamples(ctx, SampleFilter{PolicyID: "other"})
	if len(none) != 0 {
		t.Errorf("ListSamples(policy=other) returned %d, want 0", len(none))
	}
}
