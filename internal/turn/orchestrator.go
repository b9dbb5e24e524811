package turn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aidea-studio/aidea-backend/internal/canvas"
	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
)

// Action is the director's classification of a submitted prompt.
type Action string

const (
	ActionEdit     Action = "EDIT_EXISTING"
	ActionNew      Action = "NEW_CREATION"
	ActionAnswer   Action = "ANSWER_ONLY"
	ActionMismatch Action = "MODALITY_MISMATCH"
)

// State of the turn machine. Exactly one pass per submitted prompt; any
// non-idle state rejects further submissions.
type State string

const (
	StateIdle           State = "idle"
	StateClassifying    State = "classifying"
	StateGenerating     State = "generating"
	StateAwaitingChoice State = "awaiting_choice"
	StateAnswering      State = "answering"
)

// ClassifyInput is the context the director classifies against.
type ClassifyInput struct {
	Prompt          string
	SelectionID     string
	LastGeneratedID string
	Model           Model
	History         []Message
}

// Classification is the director's verdict. TargetID and Answer are only
// meaningful for their respective actions. The director is treated as a pure
// but occasionally wrong function; the orchestrator compensates (upload
// override, target fallback) rather than trusting it blindly.
type Classification struct {
	Action        Action
	RefinedPrompt string
	Reasoning     string
	TargetID      string
	Answer        string
	WantModality  Modality
}

// Director classifies prompts and produces refinements and design plans.
type Director interface {
	Classify(ctx context.Context, in ClassifyInput) (Classification, error)
	RefinePrompt(ctx context.Context, prompt string) ([]string, error)
	DesignPlans(ctx context.Context, prompt string) ([]DesignPlan, error)
}

// GenerateRequest is one call to the generation backend.
type GenerateRequest struct {
	Prompt      string
	Model       Model
	AspectRatio string
	References  []string
}

// Generation is a successful generation result.
type Generation struct {
	Src    string
	Width  float64
	Height float64
}

// Generator produces media. Transient network failures are retried inside
// the implementation; errors returned here are final for the turn and carry
// a GenerationError class.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
}

// GalleryRecord is the persisted form of a board asset.
type GalleryRecord struct {
	AssetID  string
	UserID   string
	Kind     canvas.Kind
	Src      string
	Prompt   string
	Model    Model
	SourceID string
	Width    float64
	Height   float64
}

// GallerySaver uploads content and records metadata, returning the durable
// URL.
type GallerySaver interface {
	Save(ctx context.Context, rec GalleryRecord) (string, error)
}

// CreditLedger reads and deducts a user's balance.
type CreditLedger interface {
	Balance(ctx context.Context, userID string) (int, error)
	Deduct(ctx context.Context, userID string, amount int) error
}

// Upload is user-provided input material attached to a submission.
type Upload struct {
	Name string `json:"name"`
	Src  string `json:"src"`
}

// SubmitInput is one user turn.
type SubmitInput struct {
	Prompt      string   `json:"prompt"`
	Uploads     []Upload `json:"uploads,omitempty"`
	Enhance     bool     `json:"enhance,omitempty"`
	Inspiration bool     `json:"inspiration,omitempty"`
}

// User-facing failure copy. One sentence per failure class; rate limiting is
// deliberately distinct from the generic message.
const (
	msgRateLimited         = "Generation is rate limited right now. Give it a moment and try again."
	msgSafetyBlocked       = "That prompt was blocked by the safety filter. Try rephrasing it."
	msgTimeout             = "Generation timed out. Please try again."
	msgGenerationFailed    = "Generation failed. Please try again."
	msgInsufficientCredits = "You do not have enough credits for this generation."
	msgPersistFailed       = "Your latest creation is on the board but could not be saved to your gallery."
	msgDeductFailed        = "Your latest creation was saved, but billing could not be recorded."
	msgKeepModel           = "Okay, keeping the current model. Adjust the prompt if you want a different medium."
)

type pendingKind int

const (
	pendingSuggestion pendingKind = iota
	pendingDesignPlan
	pendingModelSwitch
)

// pendingChoice parks a turn that stopped in AwaitingChoice until the user
// resolves it.
type pendingChoice struct {
	kind      pendingKind
	action    Action
	targetID  string
	uploads   []Upload
	options   []string
	plans     []DesignPlan
	prompt    string
	suggested Model
}

// genSpec is one fully resolved generation: prompt, model, lineage parent and
// reference material, after classification and all overrides.
type genSpec struct {
	prompt   string
	model    Model
	sourceID string
	refs     []string
	tool     string
}

// Orchestrator drives the turn state machine for one board session. All
// external collaborators are injected; the orchestrator itself never
// retries, never blocks the return to Idle on persistence, and converts
// every failure into transcript copy instead of surfacing errors mid-turn.
type Orchestrator struct {
	log       *logger.Logger
	director  Director
	generator Generator
	gallery   GallerySaver
	credits   CreditLedger

	session *canvas.Session
	flow    canvas.Flow
	userID  string

	mu              sync.Mutex
	model           Model
	state           State
	transcript      []Message
	lastGeneratedID string
	pending         *pendingChoice

	now       func() time.Time
	suffix    func() string
	persistWG sync.WaitGroup
}

// Config carries the per-session constants.
type Config struct {
	UserID string
	Flow   canvas.Flow
	Model  Model
}

func NewOrchestrator(log *logger.Logger, d Director, g Generator, gal GallerySaver, c CreditLedger, session *canvas.Session, cfg Config) *Orchestrator {
	return &Orchestrator{
		log:       log.With("service", "TurnOrchestrator"),
		director:  d,
		generator: g,
		gallery:   gal,
		credits:   c,
		session:   session,
		flow:      cfg.Flow,
		userID:    cfg.UserID,
		model:     cfg.Model,
		state:     StateIdle,
		now:       time.Now,
		suffix:    randomSuffix,
	}
}

// begin claims the machine for one pass; ErrBusy while any pass is active.
func (o *Orchestrator) begin(next State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return ErrBusy
	}
	o.state = next
	return nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) finish() { o.setState(StateIdle) }

func (o *Orchestrator) append(msgs ...Message) {
	o.mu.Lock()
	o.transcript = append(o.transcript, msgs...)
	o.mu.Unlock()
}

// Submit runs one full turn for a user prompt. The returned error is only
// ever a ValidationError or ErrBusy; everything past validation is reported
// through the transcript.
func (o *Orchestrator) Submit(ctx context.Context, in SubmitInput) error {
	if strings.TrimSpace(in.Prompt) == "" && len(in.Uploads) == 0 {
		return &ValidationError{Reason: "empty prompt with no uploads"}
	}
	if err := o.begin(StateClassifying); err != nil {
		return err
	}
	defer o.finish()

	o.append(TextMessage{Role: RoleUser, Text: in.Prompt})

	cls := o.classify(ctx, in)
	prompt := cls.RefinedPrompt
	if prompt == "" {
		prompt = in.Prompt
	}
	action := cls.Action

	// An explicit upload is a stronger signal than any inferred
	// classification: the uploads become input material for a fresh
	// creation and the classifier's verdict is discarded.
	if len(in.Uploads) > 0 {
		action = ActionNew
	}

	switch action {
	case ActionAnswer:
		o.setState(StateAnswering)
		text := cls.Answer
		if text == "" {
			text = cls.Reasoning
		}
		if text == "" {
			text = "I could not come up with an answer for that."
		}
		o.append(TextMessage{Role: RoleAssistant, Text: text})
		return nil

	case ActionMismatch:
		o.setState(StateAwaitingChoice)
		suggested := SuggestFor(cls.WantModality)
		o.append(ModelSuggestionMessage{
			Current:        o.Model(),
			Suggested:      suggested,
			OriginalPrompt: in.Prompt,
			Reason:         cls.Reasoning,
		})
		o.setPending(&pendingChoice{
			kind:      pendingModelSwitch,
			prompt:    prompt,
			suggested: suggested,
			uploads:   in.Uploads,
		})
		return nil
	}

	targetID := ""
	if action == ActionEdit {
		targetID = o.resolveTarget(cls.TargetID)
		if targetID == "" {
			// Nothing to edit anywhere in the fallback chain; an edit of
			// nothing is a creation.
			action = ActionNew
		}
	}

	if in.Enhance {
		if done := o.offerSuggestions(ctx, prompt, action, targetID, in.Uploads); done {
			return nil
		}
	} else if in.Inspiration {
		if done := o.offerDesignPlans(ctx, prompt, action, targetID, in.Uploads); done {
			return nil
		}
	}

	o.setState(StateGenerating)
	o.generate(ctx, o.buildSpec(prompt, o.Model(), action, targetID, in.Uploads))
	return nil
}

// classify calls the director, degrading any failure to a fresh creation
// with the raw prompt. Classifier trouble must never block the user.
func (o *Orchestrator) classify(ctx context.Context, in SubmitInput) Classification {
	o.mu.Lock()
	history := append([]Message(nil), o.transcript...)
	lastID := o.lastGeneratedID
	model := o.model
	o.mu.Unlock()

	cls, err := o.director.Classify(ctx, ClassifyInput{
		Prompt:          in.Prompt,
		SelectionID:     o.session.SelectedID(),
		LastGeneratedID: lastID,
		Model:           model,
		History:         history,
	})
	if err != nil {
		cerr := &ClassifierError{Err: err}
		o.log.Warn("classification failed, treating as new creation", "error", cerr)
		return Classification{Action: ActionNew}
	}
	return cls
}

// resolveTarget walks the edit-target fallback chain: classifier verdict,
// explicit selection, on-board chat target, then the last generation.
func (o *Orchestrator) resolveTarget(classifierTarget string) string {
	if classifierTarget != "" {
		if _, ok := o.session.Asset(classifierTarget); ok {
			return classifierTarget
		}
	}
	if sel := o.session.SelectedID(); sel != "" {
		return sel
	}
	if chat := o.session.ChattingID(); chat != "" {
		return chat
	}
	o.mu.Lock()
	last := o.lastGeneratedID
	o.mu.Unlock()
	if last != "" {
		if _, ok := o.session.Asset(last); ok {
			return last
		}
	}
	return ""
}

// offerSuggestions pauses the turn with refined prompt options. Returns
// false when the director fails, in which case the caller generates
// directly with the original prompt.
func (o *Orchestrator) offerSuggestions(ctx context.Context, prompt string, action Action, targetID string, uploads []Upload) bool {
	options, err := o.director.RefinePrompt(ctx, prompt)
	if err != nil || len(options) == 0 {
		o.log.Warn("prompt refinement unavailable, generating directly", "error", err)
		return false
	}
	o.setState(StateAwaitingChoice)
	o.append(PromptOptionsMessage{Original: prompt, Options: options})
	o.setPending(&pendingChoice{
		kind:     pendingSuggestion,
		action:   action,
		targetID: targetID,
		uploads:  uploads,
		options:  options,
	})
	return true
}

// offerDesignPlans pauses the turn with design directions, generating their
// reference images concurrently. A failed reference image degrades that
// plan to text-only rather than failing the batch.
func (o *Orchestrator) offerDesignPlans(ctx context.Context, prompt string, action Action, targetID string, uploads []Upload) bool {
	plans, err := o.director.DesignPlans(ctx, prompt)
	if err != nil || len(plans) == 0 {
		o.log.Warn("design plans unavailable, generating directly", "error", err)
		return false
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range plans {
		i := i
		g.Go(func() error {
			gen, genErr := o.generator.Generate(gctx, GenerateRequest{
				Prompt:      plans[i].Prompt,
				Model:       ModelBanana,
				AspectRatio: DefaultAspectRatio,
			})
			if genErr != nil {
				o.log.Warn("design plan reference image failed", "plan", plans[i].Title, "error", genErr)
				return nil
			}
			plans[i].ReferenceSrc = gen.Src
			return nil
		})
	}
	_ = g.Wait()

	o.setState(StateAwaitingChoice)
	o.append(DesignPlansMessage{Original: prompt, Plans: plans})
	o.setPending(&pendingChoice{
		kind:     pendingDesignPlan,
		action:   action,
		targetID: targetID,
		uploads:  uploads,
		plans:    plans,
	})
	return true
}

func (o *Orchestrator) setPending(p *pendingChoice) {
	o.mu.Lock()
	o.pending = p
	o.mu.Unlock()
}

// takePending atomically claims the machine and consumes the parked choice.
func (o *Orchestrator) takePending(kind pendingKind) (*pendingChoice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return nil, ErrBusy
	}
	if o.pending == nil || o.pending.kind != kind {
		return nil, &ValidationError{Reason: "no pending choice to resolve"}
	}
	p := o.pending
	o.pending = nil
	o.state = StateGenerating
	return p, nil
}

// UseSuggestion resumes a paused turn with the chosen refined prompt.
func (o *Orchestrator) UseSuggestion(ctx context.Context, index int) error {
	p, err := o.takePending(pendingSuggestion)
	if err != nil {
		return err
	}
	defer o.finish()
	if index < 0 || index >= len(p.options) {
		o.setPendingBack(p)
		return &ValidationError{Reason: "suggestion index out of range"}
	}
	chosen := p.options[index]
	o.append(TextMessage{Role: RoleUser, Text: chosen})
	o.generate(ctx, o.buildSpec(chosen, o.Model(), p.action, p.targetID, p.uploads))
	return nil
}

// UseDesignPlan resumes a paused turn with the chosen design direction; its
// reference image, when present, rides along as input material.
func (o *Orchestrator) UseDesignPlan(ctx context.Context, index int) error {
	p, err := o.takePending(pendingDesignPlan)
	if err != nil {
		return err
	}
	defer o.finish()
	if index < 0 || index >= len(p.plans) {
		o.setPendingBack(p)
		return &ValidationError{Reason: "design plan index out of range"}
	}
	plan := p.plans[index]
	o.append(TextMessage{Role: RoleUser, Text: plan.Title})

	spec := o.buildSpec(plan.Prompt, o.Model(), p.action, p.targetID, p.uploads)
	if plan.ReferenceSrc != "" {
		spec.refs = append(spec.refs, plan.ReferenceSrc)
	}
	o.generate(ctx, spec)
	return nil
}

// ConfirmModelSwitch resolves a modality-mismatch pause. Accepting switches
// the session model and generates with it; declining keeps the model and
// closes the turn with a note.
func (o *Orchestrator) ConfirmModelSwitch(ctx context.Context, accept bool) error {
	p, err := o.takePending(pendingModelSwitch)
	if err != nil {
		return err
	}
	defer o.finish()
	if !accept {
		o.append(TextMessage{Role: RoleAssistant, Text: msgKeepModel})
		return nil
	}
	o.mu.Lock()
	o.model = p.suggested
	o.mu.Unlock()
	o.generate(ctx, o.buildSpec(p.prompt, p.suggested, ActionNew, "", p.uploads))
	return nil
}

// setPendingBack restores a choice consumed by a call that then failed
// validation, so the user can retry with a valid index.
func (o *Orchestrator) setPendingBack(p *pendingChoice) {
	o.mu.Lock()
	o.pending = p
	o.mu.Unlock()
}

// buildSpec resolves the reference material for a generation: the edit
// target's content first, then any uploads.
func (o *Orchestrator) buildSpec(prompt string, model Model, action Action, targetID string, uploads []Upload) genSpec {
	spec := genSpec{prompt: prompt, model: model}
	if action == ActionEdit && targetID != "" {
		spec.sourceID = targetID
		if a, ok := o.session.Asset(targetID); ok {
			spec.refs = append(spec.refs, a.Src)
		}
	}
	for _, u := range uploads {
		spec.refs = append(spec.refs, u.Src)
	}
	return spec
}

// generate runs one billing-checked generation and lands the result on the
// board. All failures become transcript copy; the registry is untouched on
// any failure path.
func (o *Orchestrator) generate(ctx context.Context, spec genSpec) {
	cost := spec.model.Cost()
	balance, err := o.credits.Balance(ctx, o.userID)
	if err != nil {
		o.log.Error("credit balance lookup failed", "user", o.userID, "error", err)
		o.append(TextMessage{Role: RoleAssistant, Text: msgGenerationFailed})
		return
	}
	if balance < cost {
		o.append(TextMessage{Role: RoleAssistant, Text: msgInsufficientCredits})
		return
	}

	aspect := ParseAspectRatio(spec.prompt)
	if aspect == "" && spec.sourceID != "" {
		if a, ok := o.session.Asset(spec.sourceID); ok {
			aspect = ClosestAspectRatio(a.Width, a.Height)
		}
	}
	if aspect == "" {
		aspect = DefaultAspectRatio
	}

	gctx, cancel := context.WithTimeout(ctx, spec.model.Timeout())
	defer cancel()
	gen, err := o.generator.Generate(gctx, GenerateRequest{
		Prompt:      spec.prompt,
		Model:       spec.model,
		AspectRatio: aspect,
		References:  spec.refs,
	})
	if err != nil {
		o.log.Error("generation failed", "model", spec.model, "class", ClassOf(err), "error", err)
		o.append(TextMessage{Role: RoleAssistant, Text: failureCopy(err)})
		return
	}

	id := fmt.Sprintf("%d-%s", o.now().UnixMilli(), o.suffix())
	kind := canvas.KindImage
	status := canvas.StatusDone
	if spec.model.Modality() == ModalityVideo {
		kind = canvas.KindVideo
		status = canvas.StatusSaving
	}
	asset, err := o.session.InsertGenerated(canvas.Asset{
		ID:       id,
		Kind:     kind,
		Src:      gen.Src,
		Prompt:   spec.prompt,
		Width:    gen.Width,
		Height:   gen.Height,
		SourceID: spec.sourceID,
		Status:   status,
	}, o.flow, false)
	if err != nil {
		o.log.Error("board insert failed", "asset", id, "error", err)
		o.append(TextMessage{Role: RoleAssistant, Text: msgGenerationFailed})
		return
	}

	o.mu.Lock()
	o.lastGeneratedID = id
	o.mu.Unlock()

	if spec.tool != "" {
		o.append(ToolUsageMessage{Tool: spec.tool, AssetID: id})
	} else {
		o.append(GeneratedAssetMessage{AssetID: id, Kind: string(kind), Src: gen.Src, Prompt: spec.prompt})
	}

	// Persist and bill off the turn's critical path. The user can submit
	// again immediately; a failure here surfaces as its own transcript
	// message once known.
	rec := GalleryRecord{
		AssetID:  id,
		UserID:   o.userID,
		Kind:     kind,
		Src:      gen.Src,
		Prompt:   spec.prompt,
		Model:    spec.model,
		SourceID: spec.sourceID,
		Width:    asset.Width,
		Height:   asset.Height,
	}
	o.persistWG.Add(1)
	go o.persist(rec, cost)
}

func (o *Orchestrator) persist(rec GalleryRecord, cost int) {
	defer o.persistWG.Done()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	url, err := o.gallery.Save(ctx, rec)
	if err != nil {
		perr := &PersistenceError{Op: "gallery save", Err: err}
		o.log.Error("gallery persist failed", "asset", rec.AssetID, "error", perr)
		if rec.Kind == canvas.KindVideo {
			o.session.SetAssetError(rec.AssetID, msgPersistFailed)
		}
		o.append(TextMessage{Role: RoleAssistant, Text: msgPersistFailed})
		return
	}
	if rec.Kind == canvas.KindVideo {
		// The board's src flips from the ephemeral operation URI to the
		// durable URL once the upload lands.
		o.session.SetAssetStatus(rec.AssetID, canvas.StatusDone, url)
	}
	if err := o.credits.Deduct(ctx, rec.UserID, cost); err != nil {
		perr := &PersistenceError{Op: "credit deduction", Err: err}
		o.log.Error("credit deduction failed", "user", rec.UserID, "error", perr)
		o.append(TextMessage{Role: RoleAssistant, Text: msgDeductFailed})
	}
}

// Flush drains the fire-and-forget persistence goroutines, for shutdown.
func (o *Orchestrator) Flush() { o.persistWG.Wait() }

func failureCopy(err error) string {
	switch ClassOf(err) {
	case GenRateLimited:
		return msgRateLimited
	case GenSafetyBlock:
		return msgSafetyBlocked
	case GenTimeout:
		return msgTimeout
	default:
		return msgGenerationFailed
	}
}

// State returns the current machine state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Busy reports whether a turn is in flight.
func (o *Orchestrator) Busy() bool { return o.State() != StateIdle }

// Model returns the currently selected generation model.
func (o *Orchestrator) Model() Model {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model
}

// SetModel switches the generation model between turns.
func (o *Orchestrator) SetModel(m Model) error {
	if !m.Known() {
		return &ValidationError{Reason: fmt.Sprintf("unknown model %q", m)}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return ErrBusy
	}
	o.model = m
	return nil
}

// LastGeneratedID returns the id of the most recent successful generation.
func (o *Orchestrator) LastGeneratedID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastGeneratedID
}

// Transcript returns a copy of the conversation so far.
func (o *Orchestrator) Transcript() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.transcript...)
}
