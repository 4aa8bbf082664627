// internal/rules/engine_test.go
package rules

import (
	"errors"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/uploadwaf/internal/types"
)

type recordedSignal struct {
	rule    string
	matched bool
}

type captureRecorder struct {
	mu      sync.Mutex
	signals []recordedSignal
}

func (c *captureRecorder) Record(rule string, matched bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, recordedSignal{rule, matched})
}

type captureSampler struct {
	mu      sync.Mutex
	samples []types.SampledRequest
	err     error
}

func (c *captureSampler) Sample(s types.SampledRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
	return c.err
}

func mustCompile(t *testing.T, policy types.Policy) *CompiledPolicy {
	t.Helper()
	compiled, err := Compile(&policy)
	if err != nil {
		t.Fatalf("Compile() error = %v, want nil", err)
	}
	return compiled
}

func TestDecide_FirstTerminalMatchWins(t *testing.T) {
	policy := mustCompile(t, types.Policy{
		DefaultAction: types.ActionAllow,
		Rules: []types.Rule{
			{Name: "allow-post", Priority: 5, Action: types.ActionAllow, Statement: methodIs("POST")},
			{Name: "block-post", Priority: 9, Action: types.ActionBlock, Statement: methodIs("POST")},
		},
	})

	got := NewEngine().Decide(policy, types.RequestAttributes{Method: "POST"})
	if got.Action != types.ActionAllow {
		t.Errorf("Action = %v, want ALLOW", got.Action)
	}
	if got.MatchedRule != "allow-post" {
		t.Errorf("MatchedRule = %q, want allow-post", got.MatchedRule)
	}
	if got.PolicyID != policy.ID {
		t.Errorf("PolicyID = %q, want %q", got.PolicyID, policy.ID)
	}
}

func TestDecide_DefaultAction(t *testing.T) {
	for _, def := range []types.Action{types.ActionAllow, types.ActionBlock} {
		t.Run(def.String(), func(t *testing.T) {
			policy := mustCompile(t, types.Policy{
				DefaultAction: def,
				Rules: []types.Rule{
					{Name: "block-put", Priority: 0, Action: types.ActionBlock, Statement: methodIs("PUT")},
				},
			})
			got := NewEngine().Decide(policy, types.RequestAttributes{Method: "GET"})
			if got.Action != def {
				t.Errorf("Action = %v, want %v", got.Action, def)
			}
			if got.Matched() {
				t.Errorf("MatchedRule = %q, want none", got.MatchedRule)
			}
		})
	}
}

func TestDecide_OverridesDoNotTerminate(t *testing.T) {
	always := types.AllOf()
	policy := mustCompile(t, types.Policy{
		DefaultAction: types.ActionAllow,
		Rules: []types.Rule{
			{Name: "count-all", Priority: 1, Action: types.ActionCount, Statement: always},
			{Name: "none-all", Priority: 2, Action: types.ActionNone, Statement: always},
			{Name: "block-delete", Priority: 3, Action: types.ActionBlock, Statement: methodIs("DELETE")},
		},
	})
	engine := NewEngine()

	got := engine.Decide(policy, types.RequestAttributes{Method: "GET"})
	if got.Action != types.ActionAllow || got.Matched() {
		t.Errorf("Decide(GET) = %+v, want default ALLOW with no matched rule", got)
	}
	if len(got.Overrides) != 2 || got.Overrides[0] != "count-all" || got.Overrides[1] != "none-all" {
		t.Errorf("Overrides = %v, want [count-all none-all]", got.Overrides)
	}

	got = engine.Decide(policy, types.RequestAttributes{Method: "DELETE"})
	if got.Action != types.ActionBlock || got.MatchedRule != "block-delete" {
		t.Errorf("Decide(DELETE) = %+v, want BLOCK by block-delete after overrides", got)
	}
}

func TestDecide_ManagedGroupMatchNeverBlocks(t *testing.T) {
	oracle := OracleFunc(func(string, string, types.RequestAttributes) (bool, error) { return true, nil })
	policy := mustCompile(t, types.Policy{
		DefaultAction: types.ActionAllow,
		Rules: []types.Rule{
			{Name: "CommonRuleSet", Priority: 10, Action: types.ActionNone, Statement: types.ManagedGroup{Vendor: "external", Name: "CommonRuleSet"}},
		},
	})

	got := NewEngine(WithOracle(oracle)).Decide(policy, types.RequestAttributes{Method: "GET", URIPath: "/health"})
	if got.Action != types.ActionAllow || got.Matched() {
		t.Errorf("Decide() = %+v, want default ALLOW", got)
	}
	if len(got.Overrides) != 1 || got.Overrides[0] != "CommonRuleSet" {
		t.Errorf("Overrides = %v, want [CommonRuleSet]", got.Overrides)
	}
}

func TestDecide_InsertingBlockAheadChangesOutcome(t *testing.T) {
	base := types.Policy{
		DefaultAction: types.ActionAllow,
		Rules: []types.Rule{
			{Name: "allow-post", Priority: 10, Action: types.ActionAllow, Statement: methodIs("POST")},
		},
	}
	attrs := types.RequestAttributes{Method: "POST"}
	engine := NewEngine()

	if got := engine.Decide(mustCompile(t, base), attrs); got.Action != types.ActionAllow {
		t.Fatalf("base Action = %v, want ALLOW", got.Action)
	}

	withBlock := base
	withBlock.Rules = append([]types.Rule{
		{Name: "block-post", Priority: 1, Action: types.ActionBlock, Statement: methodIs("POST")},
	}, base.Rules...)

	got := engine.Decide(mustCompile(t, withBlock), attrs)
	if got.Action != types.ActionBlock || got.MatchedRule != "block-post" {
		t.Errorf("Decide() = %+v, want BLOCK by block-post", got)
	}
}

func TestDecide_Telemetry(t *testing.T) {
	recorder := &captureRecorder{}
	sampler := &captureSampler{}
	engine := NewEngine(WithRecorder(recorder), WithSampler(sampler))

	policy := mustCompile(t, types.Policy{
		DefaultAction: types.ActionAllow,
		Rules: []types.Rule{
			{Name: "count-get", Priority: 1, Action: types.ActionCount, Statement: methodIs("GET")},
			{Name: "block-put", Priority: 2, Action: types.ActionBlock, Statement: methodIs("PUT")},
		},
	})

	engine.Decide(policy, types.RequestAttributes{Method: "GET", URIPath: "/a"})

	want := []recordedSignal{{"count-get", true}, {"block-put", false}, {types.DefaultRuleName, true}}
	if len(recorder.signals) != len(want) {
		t.Fatalf("signals = %v, want %v", recorder.signals, want)
	}
	for i := range want {
		if recorder.signals[i] != want[i] {
			t.Errorf("signals[%d] = %v, want %v", i, recorder.signals[i], want[i])
		}
	}

	if len(sampler.samples) != 2 {
		t.Fatalf("len(samples) = %d, want 2", len(sampler.samples))
	}
	if sampler.samples[0].Rule != "count-get" || sampler.samples[0].Action != types.ActionCount {
		t.Errorf("samples[0] = %+v, want count-get/COUNT", sampler.samples[0])
	}
	if sampler.samples[1].Rule != types.DefaultRuleName || sampler.samples[1].Action != types.ActionAllow {
		t.Errorf("samples[1] = %+v, want DEFAULT/ALLOW", sampler.samples[1])
	}
	if sampler.samples[1].URIPath != "/a" || sampler.samples[1].PolicyID != policy.ID {
		t.Errorf("samples[1] = %+v, want path /a and policy %s", sampler.samples[1], policy.ID)
	}
}

func TestDecide_TelemetryFailuresAreSwallowed(t *testing.T) {
	panicky := RecorderFunc(func(string, bool) { panic("sink exploded") })
	failing := &captureSampler{err: errors.New("store unavailable")}
	engine := NewEngine(WithRecorder(panicky), WithSampler(failing))

	policy := mustCompile(t, types.Policy{
		DefaultAction: types.ActionAllow,
		Rules: []types.Rule{
			{Name: "block-put", Priority: 0, Action: types.ActionBlock, Statement: methodIs("PUT")},
		},
	})

	got := engine.Decide(policy, types.RequestAttributes{Method: "PUT"})
	if got.Action != types.ActionBlock || got.MatchedRule != "block-put" {
		t.Errorf("Decide() = %+v, want BLOCK by block-put despite telemetry failures", got)
	}
}

func TestDecide_ConcurrentUse(t *testing.T) {
	recorder := &captureRecorder{}
	engine := NewEngine(WithRecorder(recorder))
	policy := mustCompile(t, types.Policy{
		DefaultAction: types.ActionAllow,
		Rules: []types.Rule{
			{Name: "block-put", Priority: 0, Action: types.ActionBlock, Statement: methodIs("PUT")},
		},
	})

	const workers = 16
	const perWorker = 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			method := "GET"
			if w%2 == 0 {
				method = "PUT"
			}
			for i := 0; i < perWorker; i++ {
				got := engine.Decide(policy, types.RequestAttributes{Method: method})
				if (method == "PUT") != got.Blocked() {
					t.Errorf("Decide(%s) = %+v", method, got)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	// PUT: one signal each; GET: rule miss + DEFAULT.
	want := workers/2*perWorker + workers/2*perWorker*2
	if len(recorder.signals) != want {
		t.Errorf("len(signals) = %d, want %d", len(recorder.signals), want)
	}
}

// Property-based test: reordering non-matching rules never changes the outcome.
func TestDecide_PropertyNonMatchingReorderNeutral(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("swapping priorities of non-matching rules is neutral", prop.ForAll(
		func(p1, p2 int, blockDefault bool) bool {
			if p1 == p2 {
				return true
			}
			def := types.ActionAllow
			if blockDefault {
				def = types.ActionBlock
			}
			build := func(a, b int) *CompiledPolicy {
				compiled, err := Compile(&types.Policy{
					DefaultAction: def,
					Rules: []types.Rule{
						{Name: "never-a", Priority: a, Action: types.ActionBlock, Statement: methodIs("TRACE")},
						{Name: "never-b", Priority: b, Action: types.ActionAllow, Statement: methodIs("CONNECT")},
						{Name: "hit", Priority: 1000, Action: types.ActionCount, Statement: types.AllOf()},
					},
				})
				if err != nil {
					t.Fatalf("Compile() error = %v", err)
				}
				return compiled
			}

			engine := NewEngine()
			attrs := types.RequestAttributes{Method: "GET"}
			first := engine.Decide(build(p1, p2), attrs)
			second := engine.Decide(build(p2, p1), attrs)
			return first.Action == second.Action && first.MatchedRule == second.MatchedRule
		},
		gen.IntRange(0, 999),
		gen.IntRange(0, 999),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property-based test: override rules never decide, whatever their statements.
func TestDecide_PropertyOverridesNeverDecide(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("policy of only overrides returns default", prop.ForAll(
		func(method, path string, count int, blockDefault bool) bool {
			def := types.ActionAllow
			if blockDefault {
				def = types.ActionBlock
			}
			policy := types.Policy{DefaultAction: def}
			for i := 0; i < count; i++ {
				action := types.ActionCount
				if i%2 == 1 {
					action = types.ActionNone
				}
				policy.Rules = append(policy.Rules, types.Rule{
					Name:      "override-" + string(rune('a'+i)),
					Priority:  i,
					Action:    action,
					Statement: types.AllOf(),
				})
			}
			compiled, err := Compile(&policy)
			if err != nil {
				return false
			}
			got := NewEngine().Decide(compiled, types.RequestAttributes{Method: method, URIPath: path})
			return got.Action == def && !got.Matched() && len(got.Overrides) == count
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(0, 20),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property-based test: LOWERCASE makes CONTAINS case-insensitive.
func TestMatch_PropertyLowercaseCaseInsensitive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	insensitive, err := CompileStatement(types.NewByteMatch(
		types.Header("content-type"), types.PositionContains, "multipart/form-data", types.TransformLowercase))
	if err != nil {
		t.Fatalf("CompileStatement() error = %v", err)
	}
	engine := NewEngine()

	properties.Property("any casing of the media type matches", prop.ForAll(
		func(mask []bool, boundary string) bool {
			base := []rune("multipart/form-data")
			for i := range base {
				if i < len(mask) && mask[i] && base[i] >= 'a' && base[i] <= 'z' {
					base[i] = base[i] - 'a' + 'A'
				}
			}
			attrs := types.RequestAttributes{Headers: map[string]string{
				"content-type": string(base) + "; boundary=" + boundary,
			}}
			return engine.Match(insensitive, attrs)
		},
		gen.SliceOfN(19, gen.Bool()),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
