// Package telemetry implements the rules engine's recorder and sampler
// collaborators: in-process counters, Prometheus metrics and an asynchronous
// sampled-request buffer.
package telemetry

import (
	"sort"
	"sync"
	"sync/atomic"
)

// RuleCount is the per-rule evaluation tally.
type RuleCount struct {
	Rule      string `json:"rule"`
	Evaluated int64  `json:"evaluated"`
	Matched   int64  `json:"matched"`
}

type ruleCounter struct {
	evaluated atomic.Int64
	matched   atomic.Int64
}

// Counters is a lock-free per-rule Recorder. The zero value is ready to use.
type Counters struct {
	rules sync.Map // string -> *ruleCounter
}

// Record implements rules.Recorder.
func (c *Counters) Record(rule string, matched bool) {
	v, ok := c.rules.Load(rule)
	if !ok {
		v, _ = c.rules.LoadOrStore(rule, &ruleCounter{})
	}
	rc := v.(*ruleCounter)
	rc.evaluated.Add(1)
	if matched {
		rc.matched.Add(1)
	}
}

// Get returns the tally for rule.
func (c *Counters) Get(rule string) RuleCount {
	out := RuleCount{Rule: rule}
	if v, ok := c.rules.Load(rule); ok {
		rc := v.(*ruleCounter)
		out.Evaluated = rc.evaluated.Load()
		out.Matched = rc.matched.Load()
	}
	return out
}

// Snapshot returns every tally, sorted by rule name.
func (c *Counters) Snapshot() []RuleCount {
	var out []RuleCount
	c.rules.Range(func(k, v any) bool {
		rc := v.(*ruleCounter)
		out = append(out, RuleCount{
			Rule:      k.(string),
			Evaluated: rc.evaluated.Load(),
			Matched:   rc.matched.Load(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Rule < out[j].Rule })
	return out
}
