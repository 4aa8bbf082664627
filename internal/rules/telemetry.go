// internal/rules/telemetry.go
package rules

import "github.com/solatis/uploadwaf/internal/types"

// Recorder receives one match/no-match signal per evaluated rule, plus a
// types.DefaultRuleName signal when the default action applies.
// Implementations must be safe for concurrent use and must not block.
type Recorder interface {
	Record(rule string, matched bool)
}

// Sampler receives one record per matched rule (or the default action).
// Errors are logged by the engine and never affect the decision.
type Sampler interface {
	Sample(sample types.SampledRequest) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(rule string, matched bool)

// Record calls f.
func (f RecorderFunc) Record(rule string, matched bool) { f(rule, matched) }

// MultiRecorder fans a signal out to several recorders in order.
type MultiRecorder []Recorder

// Record forwards to every recorder.
func (m MultiRecorder) Record(rule string, matched bool) {
	for _, r := range m {
		r.Record(rule, matched)
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(string, bool) {}

type nopSampler struct{}

func (nopSampler) Sample(types.SampledRequest) error { return nil }
