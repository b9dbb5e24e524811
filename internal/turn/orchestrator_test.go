package turn

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"testing"

	"github.com/aidea-studio/aidea-backend/internal/canvas"
	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
)

type fakeDirector struct {
	mu        sync.Mutex
	cls       Classification
	clsErr    error
	options   []string
	refineErr error
	plans     []DesignPlan
	plansErr  error
	gotInput  ClassifyInput
}

func (d *fakeDirector) Classify(_ context.Context, in ClassifyInput) (Classification, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gotInput = in
	return d.cls, d.clsErr
}

func (d *fakeDirector) RefinePrompt(context.Context, string) ([]string, error) {
	return d.options, d.refineErr
}

func (d *fakeDirector) DesignPlans(context.Context, string) ([]DesignPlan, error) {
	return d.plans, d.plansErr
}

type fakeGenerator struct {
	mu     sync.Mutex
	reqs   []GenerateRequest
	result Generation
	err    error
	block  chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return Generation{}, &GenerationError{Class: GenTimeout, Model: req.Model, Err: ctx.Err()}
		}
	}
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()
	if g.err != nil {
		return Generation{}, g.err
	}
	return g.result, nil
}

func (g *fakeGenerator) calls() []GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]GenerateRequest(nil), g.reqs...)
}

type fakeGallery struct {
	mu   sync.Mutex
	recs []GalleryRecord
	url  string
	err  error
}

func (g *fakeGallery) Save(_ context.Context, rec GalleryRecord) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.recs = append(g.recs, rec)
	return g.url, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	balance  int
	deducted int
	balErr   error
	dedErr   error
}

func (l *fakeLedger) Balance(context.Context, string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance, l.balErr
}

func (l *fakeLedger) Deduct(_ context.Context, _ string, amount int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dedErr != nil {
		return l.dedErr
	}
	l.balance -= amount
	l.deducted += amount
	return nil
}

type fixture struct {
	o        *Orchestrator
	session  *canvas.Session
	director *fakeDirector
	gen      *fakeGenerator
	gallery  *fakeGallery
	ledger   *fakeLedger
}

func newFixture(t *testing.T, flow canvas.Flow, model Model) *fixture {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	d := &fakeDirector{cls: Classification{Action: ActionNew}}
	g := &fakeGenerator{result: Generation{Src: "data:image/png;base64,xyz", Width: 512, Height: 512}}
	gal := &fakeGallery{url: "https://cdn.example.com/item.png"}
	led := &fakeLedger{balance: 1000}

	session := canvas.NewSession(canvas.Size{Width: 1280, Height: 720})
	o := NewOrchestrator(log, d, g, gal, led, session, Config{UserID: "u1", Flow: flow, Model: model})

	var seq int
	o.suffix = func() string {
		seq++
		return fmt.Sprintf("s%d", seq)
	}
	return &fixture{o: o, session: session, director: d, gen: g, gallery: gal, ledger: led}
}

func submit(t *testing.T, f *fixture, prompt string) {
	t.Helper()
	if err := f.o.Submit(context.Background(), SubmitInput{Prompt: prompt}); err != nil {
		t.Fatalf("submit %q: %v", prompt, err)
	}
}

func TestSubmitRejectsEmptyPrompt(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBanana)
	err := f.o.Submit(context.Background(), SubmitInput{Prompt: "   "})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(f.o.Transcript()) != 0 {
		t.Error("transcript grew on rejected input")
	}
}

func TestSubmitUploadOverridesClassifier(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBanana)
	// Seed a target the classifier will point at.
	submit(t, f, "a red bicycle")
	target := f.o.LastGeneratedID()

	f.director.cls = Classification{Action: ActionEdit, TargetID: target}
	if err := f.o.Submit(context.Background(), SubmitInput{
		Prompt:  "combine with this",
		Uploads: []Upload{{Name: "ref.png", Src: "data:image/png;base64,abc"}},
	}); err != nil {
		t.Fatal(err)
	}

	snap := f.session.Snapshot()
	latest := snap.Assets[len(snap.Assets)-1]
	if latest.SourceID != "" {
		t.Errorf("asset has source %q, want a fresh creation despite EDIT verdict", latest.SourceID)
	}
	reqs := f.gen.calls()
	last := reqs[len(reqs)-1]
	if len(last.References) != 1 || last.References[0] != "data:image/png;base64,abc" {
		t.Errorf("references = %v, want only the upload", last.References)
	}
}

func TestSubmitEditTargetFallbackChain(t *testing.T) {
	t.Run("no target anywhere degrades to creation", func(t *testing.T) {
		f := newFixture(t, canvas.FlowVertical, ModelBanana)
		f.director.cls = Classification{Action: ActionEdit}
		submit(t, f, "make it blue")
		snap := f.session.Snapshot()
		if len(snap.Assets) != 1 {
			t.Fatalf("assets = %d, want 1", len(snap.Assets))
		}
		if snap.Assets[0].SourceID != "" {
			t.Errorf("got lineage %q, want root", snap.Assets[0].SourceID)
		}
	})

	t.Run("falls back to last generated", func(t *testing.T) {
		f := newFixture(t, canvas.FlowVertical, ModelBanana)
		submit(t, f, "a red bicycle")
		first := f.o.LastGeneratedID()

		f.director.cls = Classification{Action: ActionEdit}
		submit(t, f, "make it blue")
		snap := f.session.Snapshot()
		latest := snap.Assets[len(snap.Assets)-1]
		if latest.SourceID != first {
			t.Errorf("source = %q, want last generated %q", latest.SourceID, first)
		}
	})

	t.Run("explicit selection beats last generated", func(t *testing.T) {
		f := newFixture(t, canvas.FlowVertical, ModelBanana)
		submit(t, f, "a red bicycle")
		first := f.o.LastGeneratedID()
		submit(t, f, "a lighthouse")

		if err := f.session.Dispatch(canvas.Select{ID: first}); err != nil {
			t.Fatal(err)
		}
		f.director.cls = Classification{Action: ActionEdit}
		submit(t, f, "make it blue")
		snap := f.session.Snapshot()
		latest := snap.Assets[len(snap.Assets)-1]
		if latest.SourceID != first {
			t.Errorf("source = %q, want selected %q", latest.SourceID, first)
		}
	})
}

func TestSubmitBusyIsNoop(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBanana)
	f.gen.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- f.o.Submit(context.Background(), SubmitInput{Prompt: "a red bicycle"})
	}()

	// Wait for the first turn to claim the machine.
	for f.o.State() == StateIdle {
		runtime.Gosched()
	}
	before := len(f.o.Transcript())

	err := f.o.Submit(context.Background(), SubmitInput{Prompt: "second"})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if got := len(f.o.Transcript()); got != before {
		t.Errorf("transcript grew from %d to %d on rejected submit", before, got)
	}

	close(f.gen.block)
	if err := <-done; err != nil {
		t.Fatalf("first turn: %v", err)
	}
	f.o.Flush()
}

func TestSubmitClassifierFailureDegradesToCreation(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBanana)
	f.director.clsErr = errors.New("model unavailable")
	submit(t, f, "a red bicycle")

	snap := f.session.Snapshot()
	if len(snap.Assets) != 1 || snap.Assets[0].SourceID != "" {
		t.Errorf("want one root asset despite classifier failure, got %+v", snap.Assets)
	}
}

func TestSubmitGenerationFailureLeavesBoardUntouched(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"rate limited", &GenerationError{Class: GenRateLimited, Model: ModelBanana, Err: errors.New("429")}, msgRateLimited},
		{"safety blocked", &GenerationError{Class: GenSafetyBlock, Model: ModelBanana, Err: errors.New("blocked")}, msgSafetyBlocked},
		{"timeout", &GenerationError{Class: GenTimeout, Model: ModelBanana, Err: errors.New("deadline")}, msgTimeout},
		{"unknown", errors.New("boom"), msgGenerationFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, canvas.FlowVertical, ModelBanana)
			f.gen.err = tc.err
			submit(t, f, "a red bicycle")

			if n := len(f.session.Snapshot().Assets); n != 0 {
				t.Errorf("assets = %d, want 0 on failure", n)
			}
			msgs := f.o.Transcript()
			last, ok := msgs[len(msgs)-1].(TextMessage)
			if !ok || last.Text != tc.wantMsg {
				t.Errorf("last message = %+v, want %q", msgs[len(msgs)-1], tc.wantMsg)
			}
			if f.o.State() != StateIdle {
				t.Errorf("state = %v, want idle", f.o.State())
			}
		})
	}
}

func TestSubmitInsufficientCredits(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBanana)
	f.ledger.balance = 5 // below the 10-credit image price
	submit(t, f, "a red bicycle")

	if n := len(f.gen.calls()); n != 0 {
		t.Errorf("generator called %d times, want 0", n)
	}
	msgs := f.o.Transcript()
	last, ok := msgs[len(msgs)-1].(TextMessage)
	if !ok || last.Text != msgInsufficientCredits {
		t.Errorf("last message = %+v", msgs[len(msgs)-1])
	}
}

func TestSubmitAnswerOnly(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBanana)
	f.director.cls = Classification{Action: ActionAnswer, Answer: "It is a fixed-gear frame."}
	submit(t, f, "what kind of bicycle is that?")

	if n := len(f.session.Snapshot().Assets); n != 0 {
		t.Errorf("assets = %d, want 0 for answer-only", n)
	}
	msgs := f.o.Transcript()
	if len(msgs) != 2 {
		t.Fatalf("transcript = %d entries, want user + answer", len(msgs))
	}
	ans, ok := msgs[1].(TextMessage)
	if !ok || ans.Role != RoleAssistant || ans.Text != "It is a fixed-gear frame." {
		t.Errorf("answer = %+v", msgs[1])
	}
}

func TestSubmitPersistFailureSurfacesFollowUp(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBanana)
	f.gallery.err = errors.New("bucket unavailable")
	submit(t, f, "a red bicycle")
	f.o.Flush()

	if n := len(f.session.Snapshot().Assets); n != 1 {
		t.Fatalf("assets = %d, the board keeps the asset even if persistence fails", n)
	}
	msgs := f.o.Transcript()
	last, ok := msgs[len(msgs)-1].(TextMessage)
	if !ok || last.Text != msgPersistFailed {
		t.Errorf("last message = %+v, want persist follow-up", msgs[len(msgs)-1])
	}
	if f.ledger.deducted != 0 {
		t.Errorf("deducted %d credits despite failed persist", f.ledger.deducted)
	}
}

func TestSubmitDeductsExactlyOnce(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBananaPro)
	submit(t, f, "a red bicycle")
	f.o.Flush()
	if f.ledger.deducted != ModelBananaPro.Cost() {
		t.Errorf("deducted = %d, want %d", f.ledger.deducted, ModelBananaPro.Cost())
	}
	if len(f.gallery.recs) != 1 {
		t.Errorf("gallery saves = %d, want 1", len(f.gallery.recs))
	}
}

func TestSubmitModalityMismatchAndSwitch(t *testing.T) {
	f := newFixture(t, canvas.FlowHorizontal, ModelBanana)
	f.director.cls = Classification{
		Action:       ActionMismatch,
		WantModality: ModalityVideo,
		Reasoning:    "the prompt asks for motion",
	}
	f.gen.result = Generation{Src: "op://video/123", Width: 1280, Height: 720}
	submit(t, f, "a bicycle riding through rain")

	msgs := f.o.Transcript()
	sug, ok := msgs[len(msgs)-1].(ModelSuggestionMessage)
	if !ok {
		t.Fatalf("last message = %+v, want model suggestion", msgs[len(msgs)-1])
	}
	if sug.Suggested != ModelVeoFast || sug.OriginalPrompt != "a bicycle riding through rain" {
		t.Errorf("suggestion = %+v", sug)
	}
	if n := len(f.session.Snapshot().Assets); n != 0 {
		t.Fatalf("generated %d assets before confirmation", n)
	}

	if err := f.o.ConfirmModelSwitch(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if f.o.Model() != ModelVeoFast {
		t.Errorf("model = %v after accepting switch", f.o.Model())
	}
	snap := f.session.Snapshot()
	if len(snap.Assets) != 1 || snap.Assets[0].Kind != canvas.KindVideo {
		t.Fatalf("assets = %+v, want one video", snap.Assets)
	}
	// Videos land while their content is still being persisted.
	if snap.Assets[0].Status != canvas.StatusSaving {
		t.Errorf("status = %v, want saving before persist completes", snap.Assets[0].Status)
	}
	f.o.Flush()
	a, _ := f.session.Asset(snap.Assets[0].ID)
	if a.Status != canvas.StatusDone || a.Src != f.gallery.url {
		t.Errorf("after persist: status %v src %q", a.Status, a.Src)
	}
}

func TestSubmitModalityMismatchDeclined(t *testing.T) {
	f := newFixture(t, canvas.FlowHorizontal, ModelBanana)
	f.director.cls = Classification{Action: ActionMismatch, WantModality: ModalityVideo}
	submit(t, f, "a bicycle riding through rain")

	if err := f.o.ConfirmModelSwitch(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if f.o.Model() != ModelBanana {
		t.Errorf("model changed to %v after declining", f.o.Model())
	}
	if n := len(f.session.Snapshot().Assets); n != 0 {
		t.Errorf("assets = %d after declining", n)
	}
}

func TestSubmitEnhanceFlow(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBanana)
	f.director.options = []string{
		"a crimson track bicycle, studio lighting",
		"a red city bicycle at golden hour",
		"a vintage red racer on cobblestones",
	}
	if err := f.o.Submit(context.Background(), SubmitInput{Prompt: "a red bicycle", Enhance: true}); err != nil {
		t.Fatal(err)
	}

	msgs := f.o.Transcript()
	opts, ok := msgs[len(msgs)-1].(PromptOptionsMessage)
	if !ok || len(opts.Options) != 3 {
		t.Fatalf("last message = %+v, want 3 prompt options", msgs[len(msgs)-1])
	}
	if n := len(f.session.Snapshot().Assets); n != 0 {
		t.Fatalf("generated before a choice was made")
	}

	if err := f.o.UseSuggestion(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	reqs := f.gen.calls()
	if len(reqs) != 1 || reqs[0].Prompt != f.director.options[1] {
		t.Errorf("generated with %+v, want chosen option", reqs)
	}
	f.o.Flush()
}

func TestUseSuggestionWithoutPending(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBanana)
	err := f.o.UseSuggestion(context.Background(), 0)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestSubmitDesignPlansGenerateReferenceImages(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBanana)
	f.director.plans = []DesignPlan{
		{Title: "Minimal", Description: "clean lines", Prompt: "minimal red bicycle poster"},
		{Title: "Retro", Description: "70s palette", Prompt: "retro red bicycle poster"},
	}
	if err := f.o.Submit(context.Background(), SubmitInput{Prompt: "bicycle poster", Inspiration: true}); err != nil {
		t.Fatal(err)
	}

	msgs := f.o.Transcript()
	plansMsg, ok := msgs[len(msgs)-1].(DesignPlansMessage)
	if !ok {
		t.Fatalf("last message = %+v, want design plans", msgs[len(msgs)-1])
	}
	for _, p := range plansMsg.Plans {
		if p.ReferenceSrc == "" {
			t.Errorf("plan %q missing reference image", p.Title)
		}
	}
	// One reference generation per plan, none billed as a turn.
	if n := len(f.gen.calls()); n != 2 {
		t.Errorf("generator calls = %d, want 2 reference images", n)
	}
	if n := len(f.session.Snapshot().Assets); n != 0 {
		t.Errorf("reference images leaked onto the board: %d assets", n)
	}

	if err := f.o.UseDesignPlan(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if n := len(f.session.Snapshot().Assets); n != 1 {
		t.Errorf("assets = %d after choosing a plan", n)
	}
	f.o.Flush()
}

func TestEndToEndRedBicycleThenMakeItBlue(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBanana)

	submit(t, f, "a red bicycle")
	snap := f.session.Snapshot()
	if len(snap.Assets) != 1 {
		t.Fatalf("assets = %d", len(snap.Assets))
	}
	first := snap.Assets[0]
	if first.X != 0 || first.Y != 0 {
		t.Errorf("first root at (%v,%v), want (0,0)", first.X, first.Y)
	}
	if f.o.LastGeneratedID() != first.ID {
		t.Errorf("lastGenerated = %q", f.o.LastGeneratedID())
	}
	if got := len(f.o.Transcript()); got != 2 {
		t.Errorf("transcript = %d entries, want user + asset", got)
	}

	f.director.cls = Classification{Action: ActionEdit}
	submit(t, f, "make it blue")
	snap = f.session.Snapshot()
	if len(snap.Assets) != 2 {
		t.Fatalf("assets = %d", len(snap.Assets))
	}
	second := snap.Assets[1]
	if second.SourceID != first.ID {
		t.Errorf("lineage = %q, want %q", second.SourceID, first.ID)
	}
	if second.X != first.X || second.Y != first.Height+24 {
		t.Errorf("placed at (%v,%v), want beneath the first", second.X, second.Y)
	}
	// The edit carries the source content as reference material.
	reqs := f.gen.calls()
	last := reqs[len(reqs)-1]
	if len(last.References) != 1 || last.References[0] != first.Src {
		t.Errorf("references = %v, want the source asset", last.References)
	}
	if got := len(f.o.Transcript()); got != 4 {
		t.Errorf("transcript = %d entries, want 4", got)
	}
	f.o.Flush()
}

func TestUpscaleSkipsAtMaxResolution(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBanana)
	f.gen.result = Generation{Src: "data:image/png;base64,big", Width: 3200, Height: 1800}
	submit(t, f, "a huge mural")
	f.o.Flush()
	id := f.o.LastGeneratedID()

	if err := f.o.Upscale(context.Background(), id, 2); err != nil {
		t.Fatal(err)
	}
	if n := len(f.session.Snapshot().Assets); n != 1 {
		t.Errorf("assets = %d, upscale of oversized content must not generate", n)
	}
	msgs := f.o.Transcript()
	tool, ok := msgs[len(msgs)-1].(ToolUsageMessage)
	if !ok || tool.Tool != "upscale" || tool.Detail == "" {
		t.Errorf("last message = %+v, want skip notice", msgs[len(msgs)-1])
	}
}

func TestUpscaleProducesLineageChild(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBanana)
	submit(t, f, "a red bicycle")
	f.o.Flush()
	id := f.o.LastGeneratedID()

	if err := f.o.Upscale(context.Background(), id, 4); err != nil {
		t.Fatal(err)
	}
	f.o.Flush()
	snap := f.session.Snapshot()
	if len(snap.Assets) != 2 {
		t.Fatalf("assets = %d", len(snap.Assets))
	}
	if snap.Assets[1].SourceID != id {
		t.Errorf("upscale lineage = %q, want %q", snap.Assets[1].SourceID, id)
	}
}

func TestRegenerateUsesSourcePromptWithoutReferences(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBanana)
	submit(t, f, "a red bicycle")
	f.o.Flush()
	id := f.o.LastGeneratedID()

	if err := f.o.Regenerate(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	f.o.Flush()
	reqs := f.gen.calls()
	last := reqs[len(reqs)-1]
	if last.Prompt != "a red bicycle" {
		t.Errorf("prompt = %q", last.Prompt)
	}
	if len(last.References) != 0 {
		t.Errorf("references = %v, want none for regenerate", last.References)
	}
}

func TestImportGalleryItemLandsAtImportOrigin(t *testing.T) {
	f := newFixture(t, canvas.FlowVertical, ModelBanana)
	err := f.o.ImportGalleryItem(GalleryRecord{
		Kind:   canvas.KindImage,
		Src:    "https://cdn.example.com/old.png",
		Prompt: "an old favorite",
		Width:  512,
		Height: 512,
	})
	if err != nil {
		t.Fatal(err)
	}
	snap := f.session.Snapshot()
	if len(snap.Assets) != 1 {
		t.Fatalf("assets = %d", len(snap.Assets))
	}
	a := snap.Assets[0]
	if a.X != 50 || a.Y != 50 || a.SourceID != "" || a.Status != canvas.StatusDone {
		t.Errorf("imported asset = %+v", a)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msgs := []Message{
		TextMessage{Role: RoleUser, Text: "a red bicycle"},
		PromptOptionsMessage{Original: "x", Options: []string{"a", "b"}},
		GeneratedAssetMessage{AssetID: "1-a", Kind: "image", Src: "s", Prompt: "p"},
		ModelSuggestionMessage{Current: ModelBanana, Suggested: ModelVeoFast, OriginalPrompt: "go"},
	}
	for _, m := range msgs {
		b, err := MarshalMessage(m)
		if err != nil {
			t.Fatalf("marshal %T: %v", m, err)
		}
		back, err := UnmarshalMessage(b)
		if err != nil {
			t.Fatalf("unmarshal %T: %v", m, err)
		}
		// Decoded variants must come back as the same value types the
		// transcript stores, or downstream type assertions on replayed
		// history silently miss.
		if !reflect.DeepEqual(back, m) {
			t.Errorf("round trip = %#v, want %#v", back, m)
		}
	}
}

func TestUnmarshalMessageYieldsValueVariants(t *testing.T) {
	b, err := MarshalMessage(TextMessage{Role: RoleAssistant, Text: "done"})
	if err != nil {
		t.Fatal(err)
	}
	back, err := UnmarshalMessage(b)
	if err != nil {
		t.Fatal(err)
	}
	tm, ok := back.(TextMessage)
	if !ok {
		t.Fatalf("decoded as %T, want TextMessage value", back)
	}
	if tm.Role != RoleAssistant || tm.Text != "done" {
		t.Errorf("decoded = %+v", tm)
	}
}
