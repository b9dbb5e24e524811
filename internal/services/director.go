package services

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
	"github.com/aidea-studio/aidea-backend/internal/turn"
)

//go:embed director_prompts.yaml
var defaultDirectorPrompts []byte

const directorModel = "gemini-2.5-flash"

// How much transcript the director sees. Older context rarely changes the
// verdict and inflates the call.
const historyWindow = 10

type directorPrompts struct {
	Classify string `yaml:"classify"`
	Refine   string `yaml:"refine"`
	Plans    string `yaml:"plans"`
}

// DirectorService classifies prompts and produces refinements and design
// plans. It satisfies turn.Director.
type DirectorService interface {
	Classify(ctx context.Context, in turn.ClassifyInput) (turn.Classification, error)
	RefinePrompt(ctx context.Context, prompt string) ([]string, error)
	DesignPlans(ctx context.Context, prompt string) ([]turn.DesignPlan, error)
}

type directorService struct {
	log     *logger.Logger
	client  GenerationClient
	model   string
	prompts directorPrompts
}

func NewDirectorService(log *logger.Logger, client GenerationClient) (DirectorService, error) {
	raw := defaultDirectorPrompts
	if path := os.Getenv("DIRECTOR_PROMPTS_PATH"); path != "" {
		fileRaw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read director prompts: %w", err)
		}
		raw = fileRaw
	}
	var prompts directorPrompts
	if err := yaml.Unmarshal(raw, &prompts); err != nil {
		return nil, fmt.Errorf("parse director prompts: %w", err)
	}

	model := os.Getenv("DIRECTOR_MODEL")
	if model == "" {
		model = directorModel
	}

	return &directorService{
		log:     log.With("service", "DirectorService"),
		client:  client,
		model:   model,
		prompts: prompts,
	}, nil
}

type classifyPayload struct {
	Action        string `json:"action"`
	RefinedPrompt string `json:"refined_prompt"`
	Reasoning     string `json:"reasoning"`
	TargetID      string `json:"target_id"`
	Answer        string `json:"answer"`
	WantModality  string `json:"want_modality"`
}

func (d *directorService) Classify(ctx context.Context, in turn.ClassifyInput) (turn.Classification, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User prompt: %s\n", in.Prompt)
	fmt.Fprintf(&sb, "Selected model: %s (produces %s)\n", in.Model, in.Model.Modality())
	if in.SelectionID != "" {
		fmt.Fprintf(&sb, "User has asset %s explicitly selected.\n", in.SelectionID)
	}
	if in.LastGeneratedID != "" {
		fmt.Fprintf(&sb, "Most recent generation: asset %s.\n", in.LastGeneratedID)
	}
	if tail := historyTail(in.History, historyWindow); tail != "" {
		fmt.Fprintf(&sb, "Recent conversation:\n%s", tail)
	}

	raw, err := d.client.GenerateJSON(ctx, d.model, d.prompts.Classify, sb.String())
	if err != nil {
		return turn.Classification{}, &turn.ClassifierError{Err: err}
	}
	var payload classifyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return turn.Classification{}, &turn.ClassifierError{Err: fmt.Errorf("decode verdict: %w", err)}
	}

	action := turn.Action(strings.ToUpper(strings.TrimSpace(payload.Action)))
	switch action {
	case turn.ActionEdit, turn.ActionNew, turn.ActionAnswer, turn.ActionMismatch:
	default:
		return turn.Classification{}, &turn.ClassifierError{Err: fmt.Errorf("unknown action %q", payload.Action)}
	}

	want := turn.Modality(strings.ToLower(payload.WantModality))
	if want != turn.ModalityImage && want != turn.ModalityVideo {
		want = ""
	}

	return turn.Classification{
		Action:        action,
		RefinedPrompt: strings.TrimSpace(payload.RefinedPrompt),
		Reasoning:     strings.TrimSpace(payload.Reasoning),
		TargetID:      strings.TrimSpace(payload.TargetID),
		Answer:        strings.TrimSpace(payload.Answer),
		WantModality:  want,
	}, nil
}

func (d *directorService) RefinePrompt(ctx context.Context, prompt string) ([]string, error) {
	raw, err := d.client.GenerateJSON(ctx, d.model, d.prompts.Refine, "User prompt: "+prompt)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Options []string `json:"options"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode refinements: %w", err)
	}
	options := make([]string, 0, 3)
	for _, o := range payload.Options {
		if o = strings.TrimSpace(o); o != "" {
			options = append(options, o)
		}
		if len(options) == 3 {
			break
		}
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("refinement produced no options")
	}
	return options, nil
}

func (d *directorService) DesignPlans(ctx context.Context, prompt string) ([]turn.DesignPlan, error) {
	raw, err := d.client.GenerateJSON(ctx, d.model, d.prompts.Plans, "User prompt: "+prompt)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Plans []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Prompt      string `json:"prompt"`
		} `json:"plans"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode design plans: %w", err)
	}
	plans := make([]turn.DesignPlan, 0, 3)
	for _, p := range payload.Plans {
		if strings.TrimSpace(p.Prompt) == "" {
			continue
		}
		plans = append(plans, turn.DesignPlan{
			Title:       strings.TrimSpace(p.Title),
			Description: strings.TrimSpace(p.Description),
			Prompt:      strings.TrimSpace(p.Prompt),
		})
		if len(plans) == 3 {
			break
		}
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("director produced no usable plans")
	}
	return plans, nil
}

// historyTail renders the last few text entries of the transcript.
func historyTail(history []turn.Message, n int) string {
	var lines []string
	for _, m := range history {
		if tm, ok := m.(turn.TextMessage); ok {
			lines = append(lines, fmt.Sprintf("%s: %s", tm.Role, tm.Text))
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
