package api

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/uploadwaf/internal/types"
)

// attributesFromStruct reads {method, uri_path, headers{name: value}}.
func attributesFromStruct(s *structpb.Struct) (types.RequestAttributes, error) {
	fields := s.GetFields()

	method, err := stringField(fields, "method", true)
	if err != nil {
		return types.RequestAttributes{}, err
	}
	uriPath, err := stringField(fields, "uri_path", true)
	if err != nil {
		return types.RequestAttributes{}, err
	}

	attrs := types.RequestAttributes{Method: method, URIPath: uriPath}

	hv, ok := fields["headers"]
	if !ok {
		return attrs, nil
	}
	hs := hv.GetStructValue()
	if hs == nil {
		return types.RequestAttributes{}, fmt.Errorf("headers must be an object")
	}
	attrs.Headers = make(map[string]string, len(hs.GetFields()))
	for name, v := range hs.GetFields() {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return types.RequestAttributes{}, fmt.Errorf("header %q must be a string", name)
		}
		attrs.Headers[strings.ToLower(name)] = sv.StringValue
	}
	return attrs, nil
}

func stringField(fields map[string]*structpb.Value, name string, required bool) (string, error) {
	v, ok := fields[name]
	if !ok {
		if required {
			return "", fmt.Errorf("%s required", name)
		}
		return "", nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%s must be a string", name)
	}
	if required && sv.StringValue == "" {
		return "", fmt.Errorf("%s required", name)
	}
	return sv.StringValue, nil
}

func numberField(fields map[string]*structpb.Value, name string) (int, error) {
	v, ok := fields[name]
	if !ok {
		return 0, nil
	}
	nv, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || nv.NumberValue < 0 || nv.NumberValue != float64(int(nv.NumberValue)) {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return int(nv.NumberValue), nil
}

func decisionValue(d types.Decision) map[string]interface{} {
	overrides := make([]interface{}, len(d.Overrides))
	for i, o := range d.Overrides {
		overrides[i] = o
	}
	return map[string]interface{}{
		"action":       d.Action.String(),
		"matched_rule": d.MatchedRule,
		"overrides":    overrides,
		"policy_id":    string(d.PolicyID),
	}
}

func sampleValue(s types.SampledRequest) map[string]interface{} {
	return map[string]interface{}{
		"sample_id":   string(s.SampleID),
		"policy_id":   string(s.PolicyID),
		"rule":        s.Rule,
		"action":      s.Action.String(),
		"method":      s.Method,
		"uri_path":    s.URIPath,
		"recorded_at": s.RecordedAt.UTC().Format(time.RFC3339Nano),
	}
}

// DecisionFromStruct decodes a Decide response. Used by remote callers.
func DecisionFromStruct(s *structpb.Struct) (types.Decision, error) {
	fields := s.GetFields()
	action, err := stringField(fields, "action", true)
	if err != nil {
		return types.Decision{}, err
	}
	d := types.Decision{
		Action:      types.ParseAction(action),
		MatchedRule: fields["matched_rule"].GetStringValue(),
		PolicyID:    types.PolicyID(fields["policy_id"].GetStringValue()),
	}
	if d.Action == types.ActionUnspecified {
		return types.Decision{}, fmt.Errorf("unknown action %q", action)
	}
	for _, o := range fields["overrides"].GetListValue().GetValues() {
		d.Overrides = append(d.Overrides, o.GetStringValue())
	}
	return d, nil
}

// AttributesStruct encodes attrs as a Decide request.
func AttributesStruct(attrs types.RequestAttributes) (*structpb.Struct, error) {
	headers := make(map[string]interface{}, len(attrs.Headers))
	for k, v := range attrs.Headers {
		headers[k] = v
	}
	return structpb.NewStruct(map[string]interface{}{
		"method":   attrs.Method,
		"uri_path": attrs.URIPath,
		"headers":  headers,
	})
}
