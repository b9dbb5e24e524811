package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
	"github.com/aidea-studio/aidea-backend/internal/turn"
)

type fakeJSONClient struct {
	raw     string
	err     error
	lastUsr string
	lastSys string
}

func (f *fakeJSONClient) Generate(ctx context.Context, req turn.GenerateRequest) (turn.Generation, error) {
	return turn.Generation{}, fmt.Errorf("not used")
}

func (f *fakeJSONClient) GenerateJSON(ctx context.Context, model, system, user string) (json.RawMessage, error) {
	f.lastSys = system
	f.lastUsr = user
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.raw), nil
}

func newDirector(t *testing.T, client GenerationClient) DirectorService {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	d, err := NewDirectorService(log, client)
	if err != nil {
		t.Fatalf("director: %v", err)
	}
	return d
}

func TestClassifyParsesVerdict(t *testing.T) {
	fake := &fakeJSONClient{raw: `{
		"action": "edit_existing",
		"refined_prompt": "make the bicycle blue",
		"target_id": "asset-7",
		"want_modality": "image"
	}`}
	d := newDirector(t, fake)

	got, err := d.Classify(context.Background(), turn.ClassifyInput{
		Prompt:          "make it blue",
		SelectionID:     "asset-7",
		LastGeneratedID: "asset-7",
		Model:           turn.ModelBanana,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Action != turn.ActionEdit {
		t.Errorf("action = %v", got.Action)
	}
	if got.TargetID != "asset-7" || got.RefinedPrompt != "make the bicycle blue" {
		t.Errorf("verdict = %+v", got)
	}
	if !strings.Contains(fake.lastUsr, "make it blue") {
		t.Errorf("prompt missing from call: %q", fake.lastUsr)
	}
	if !strings.Contains(fake.lastUsr, "asset-7") {
		t.Errorf("selection missing from call: %q", fake.lastUsr)
	}
}

func TestClassifyRejectsUnknownAction(t *testing.T) {
	d := newDirector(t, &fakeJSONClient{raw: `{"action": "summon"}`})
	_, err := d.Classify(context.Background(), turn.ClassifyInput{Prompt: "x", Model: turn.ModelBanana})
	var ce *turn.ClassifierError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ClassifierError", err)
	}
}

func TestClassifyWrapsTransportError(t *testing.T) {
	d := newDirector(t, &fakeJSONClient{err: fmt.Errorf("boom")})
	_, err := d.Classify(context.Background(), turn.ClassifyInput{Prompt: "x", Model: turn.ModelBanana})
	var ce *turn.ClassifierError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ClassifierError", err)
	}
}

func TestRefinePromptCapsAtThree(t *testing.T) {
	d := newDirector(t, &fakeJSONClient{raw: `{"options": ["a", "  b ", "", "c", "d"]}`})
	got, err := d.RefinePrompt(context.Background(), "a cat")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("option %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDesignPlansSkipsEmptyPrompts(t *testing.T) {
	d := newDirector(t, &fakeJSONClient{raw: `{"plans": [
		{"title": "Minimal", "description": "clean lines", "prompt": "a minimal poster"},
		{"title": "Empty", "description": "no prompt", "prompt": "  "},
		{"title": "Retro", "prompt": "a retro poster"}
	]}`})
	got, err := d.DesignPlans(context.Background(), "poster")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("plans = %+v", got)
	}
	if got[0].Title != "Minimal" || got[1].Prompt != "a retro poster" {
		t.Errorf("plans = %+v", got)
	}
}

func TestDesignPlansEmptyIsError(t *testing.T) {
	d := newDirector(t, &fakeJSONClient{raw: `{"plans": []}`})
	if _, err := d.DesignPlans(context.Background(), "poster"); err == nil {
		t.Fatal("want error for empty plans")
	}
}
