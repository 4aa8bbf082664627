package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/solatis/uploadwaf/internal/core/config"
	"github.com/solatis/uploadwaf/internal/core/reload"
	"github.com/solatis/uploadwaf/internal/policy"
	"github.com/solatis/uploadwaf/internal/types"
)

func TestParseHeaders(t *testing.T) {
	got, err := parseHeaders([]string{"Content-Type: multipart/form-data; boundary=x", "X-Empty:"})
	if err != nil {
		t.Fatalf("parseHeaders() error = %v, want nil", err)
	}
	want := map[string]string{"content-type": "multipart/form-data; boundary=x", "x-empty": ""}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseHeaders() = %v, want %v", got, want)
	}

	for _, bad := range []string{"no-colon", ": value"} {
		if _, err := parseHeaders([]string{bad}); err == nil {
			t.Errorf("parseHeaders(%q) error = nil, want error", bad)
		}
	}
}

func TestReadRequests(t *testing.T) {
	in := `{"method":"POST","uri_path":"/upload","headers":{"Content-Type":"multipart/form-data"}}

{"method":"GET","uri_path":"/health"}
`
	got, err := readRequests(strings.NewReader(in))
	if err != nil {
		t.Fatalf("readRequests() error = %v, want nil", err)
	}
	if len(got) != 2 {
		t.Fatalf("readRequests() returned %d requests, want 2", len(got))
	}
	if got[0].HeaderValue("content-type") != "multipart/form-data" {
		t.Errorf("header names not lowercased: %v", got[0].Headers)
	}

	tests := []string{
		`{"method":"GET"}`,
		`not json`,
	}
	for _, tt := range tests {
		if _, err := readRequests(strings.NewReader(tt)); err == nil {
			t.Errorf("readRequests(%q) error = nil, want error", tt)
		}
	}
}

func TestSimulate_KeepsInputOrder(t *testing.T) {
	snap, err := (&reload.Builder{Logger: zerolog.Nop()}).Build(config.DefaultConfig().Policy)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	multipart := map[string]string{"content-type": "multipart/form-data"}
	var requests []types.RequestAttributes
	for i := 0; i < 50; i++ {
		path := "/upload"
		if i%3 == 0 {
			path = "/profile"
		}
		requests = append(requests, types.RequestAttributes{Method: "POST", URIPath: path, Headers: multipart})
	}

	decisions, err := simulate(context.Background(), snap, requests, 4)
	if err != nil {
		t.Fatalf("simulate() error = %v, want nil", err)
	}
	for i, d := range decisions {
		wantBlock := i%3 == 0
		if d.Blocked() != wantBlock {
			t.Errorf("decisions[%d] = %+v, want blocked=%v", i, d, wantBlock)
		}
	}
}

func TestSelectSecret(t *testing.T) {
	secrets := map[string][]byte{"bb": []byte("2"), "aa": []byte("1")}

	id, secret, err := selectSecret(secrets, "")
	if err != nil || id != "aa" || string(secret) != "1" {
		t.Errorf("selectSecret(default) = (%s, %s, %v), want lowest id aa", id, secret, err)
	}
	if id, _, err := selectSecret(secrets, "bb"); err != nil || id != "bb" {
		t.Errorf("selectSecret(bb) = (%s, %v), want bb", id, err)
	}
	if _, _, err := selectSecret(secrets, "cc"); err == nil {
		t.Error("selectSecret(unknown) error = nil, want error")
	}
	if _, _, err := selectSecret(nil, ""); err == nil {
		t.Error("selectSecret(none) error = nil, want error")
	}
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("uploadwaf %v error = %v", args, err)
	}
	return out.String()
}

func TestRenderCommand(t *testing.T) {
	doc := execute(t, "render", "--format", "document")
	parsed, err := policy.ParseDocument([]byte(doc))
	if err != nil {
		t.Fatalf("rendered document does not parse: %v\n%s", err, doc)
	}
	if len(parsed.Rules) != 4 || parsed.Rules[0].Name != policy.BlockRuleName {
		t.Errorf("rendered document rules = %+v, want block rule plus 3 managed groups", parsed.Rules)
	}

	out := execute(t, "render", "--format", "wafv2", "--name", "UploadAcl")
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(out), &input); err != nil {
		t.Fatalf("rendered web ACL is not JSON: %v", err)
	}
	if input["Name"] != "UploadAcl" || input["Scope"] != "REGIONAL" {
		t.Errorf("web ACL name/scope = %v/%v, want UploadAcl/REGIONAL", input["Name"], input["Scope"])
	}
	if !strings.Contains(out, "AWSManagedRulesCommonRuleSet-Scoped") {
		t.Errorf("web ACL lacks scoped managed group metric:\n%s", out)
	}
}

func TestDecideCommand(t *testing.T) {
	out := execute(t, "decide", "--method", "post", "--path", "/profile", "-H", "Content-Type: multipart/form-data; boundary=x")

	var got decisionOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decide output is not JSON: %v\n%s", err, out)
	}
	if got.Action != "BLOCK" || got.MatchedRule != policy.BlockRuleName || got.Request.Method != "POST" {
		t.Errorf("decide = %+v, want POST blocked by %s", got, policy.BlockRuleName)
	}
}
