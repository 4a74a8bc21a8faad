package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-support-backend/internal/llm"
	"github.com/tbourn/go-support-backend/internal/permissions"
)

type gatewayCall struct {
	Stage  string
	System string
	User   string
}

// stubGateway scripts the model boundary. fn decides the response per call;
// every call is recorded for assertion.
type stubGateway struct {
	calls []gatewayCall
	fn    func(stage, system, user string) (*llm.Completion, error)
}

func (g *stubGateway) Call(_ context.Context, stage, system, user string) (*llm.Completion, error) {
	g.calls = append(g.calls, gatewayCall{Stage: stage, System: system, User: user})
	return g.fn(stage, system, user)
}

func textGateway(text string) *stubGateway {
	return &stubGateway{fn: func(_, _, _ string) (*llm.Completion, error) {
		return &llm.Completion{Text: text}, nil
	}}
}

func errGateway(err error) *stubGateway {
	return &stubGateway{fn: func(_, _, _ string) (*llm.Completion, error) {
		return nil, err
	}}
}

func TestClassify_ValidResponse(t *testing.T) {
	gw := textGateway(`{"primary_action": "device_power", "all_actions": ["device_power", "song_changes"], "ambiguous": false, "out_of_scope": false}`)
	ic := &IntentClassifier{Gateway: gw}

	got, err := ic.Classify(context.Background(), "turn it off and skip this song")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.PrimaryAction != permissions.ActionDevicePower {
		t.Fatalf("primary = %s", got.PrimaryAction)
	}
	if len(got.AllActions) != 2 || got.AllActions[1] != permissions.ActionSongChanges {
		t.Fatalf("all actions = %v", got.AllActions)
	}
	if got.Ambiguous || got.OutOfScope || got.Degraded() {
		t.Fatalf("unexpected flags: %+v", got)
	}
	if len(gw.calls) != 1 || gw.calls[0].Stage != StageClassification {
		t.Fatalf("calls = %+v", gw.calls)
	}
	if gw.calls[0].User != "turn it off and skip this song" {
		t.Fatalf("user content = %q", gw.calls[0].User)
	}
}

func TestClassify_BackfillsAllActionsFromPrimary(t *testing.T) {
	gw := textGateway(`{"primary_action": "device_status", "all_actions": [], "ambiguous": false, "out_of_scope": false}`)
	ic := &IntentClassifier{Gateway: gw}

	got, err := ic.Classify(context.Background(), "is my speaker on?")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got.AllActions) != 1 || got.AllActions[0] != permissions.ActionDeviceStatus {
		t.Fatalf("all actions = %v", got.AllActions)
	}
}

func TestClassify_StripsCodeFence(t *testing.T) {
	gw := textGateway("```json\n{\"primary_action\": \"volume_control\", \"all_actions\": [\"volume_control\"], \"ambiguous\": false, \"out_of_scope\": false}\n```")
	ic := &IntentClassifier{Gateway: gw}

	got, err := ic.Classify(context.Background(), "louder please")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.PrimaryAction != permissions.ActionVolumeControl {
		t.Fatalf("primary = %s", got.PrimaryAction)
	}
}

func TestClassify_NullPrimaryOutOfScope(t *testing.T) {
	gw := textGateway(`{"primary_action": null, "all_actions": [], "ambiguous": false, "out_of_scope": true}`)
	ic := &IntentClassifier{Gateway: gw}

	got, err := ic.Classify(context.Background(), "what's the weather?")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !got.OutOfScope || got.PrimaryAction != "" {
		t.Fatalf("got %+v", got)
	}
}

func TestClassify_UnknownVocabularyDegrades(t *testing.T) {
	gw := textGateway(`{"primary_action": "make_coffee", "all_actions": ["make_coffee"], "ambiguous": false, "out_of_scope": false}`)
	ic := &IntentClassifier{Gateway: gw}

	got, err := ic.Classify(context.Background(), "brew me a coffee")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !got.Degraded() {
		t.Fatalf("expected degraded result, got %+v", got)
	}
}

func TestClassify_BadJSONDegrades(t *testing.T) {
	gw := textGateway("I think they want to turn the lights on.")
	ic := &IntentClassifier{Gateway: gw}

	got, err := ic.Classify(context.Background(), "lights on")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !got.Degraded() {
		t.Fatalf("expected degraded result, got %+v", got)
	}
}

func TestClassify_MalformedUpstreamDegrades(t *testing.T) {
	gw := errGateway(llm.ErrUpstreamMalformed)
	ic := &IntentClassifier{Gateway: gw}

	got, err := ic.Classify(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !got.Degraded() {
		t.Fatalf("expected degraded result, got %+v", got)
	}
}

func TestClassify_UnavailableUpstreamPropagates(t *testing.T) {
	for _, upstream := range []error{llm.ErrUpstreamUnavailable, llm.ErrUpstreamRateLimited} {
		ic := &IntentClassifier{Gateway: errGateway(upstream)}
		if _, err := ic.Classify(context.Background(), "hello"); !errors.Is(err, upstream) {
			t.Fatalf("expected %v, got %v", upstream, err)
		}
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, c := range cases {
		if got := stripCodeFence(c.in); got != c.want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
