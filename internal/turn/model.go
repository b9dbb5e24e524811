package turn

import (
	"strings"
	"time"
)

// Model is a user-selectable generation model.
type Model string

const (
	ModelBanana    Model = "banana"
	ModelBananaPro Model = "banana_pro"
	ModelVeoFast   Model = "veo_fast"
	ModelVeoGen    Model = "veo_gen"
)

// Modality of a model's output.
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityVideo Modality = "video"
)

// modelCosts is the per-generation credit price.
var modelCosts = map[Model]int{
	ModelBanana:    10,
	ModelBananaPro: 20,
	ModelVeoFast:   30,
	ModelVeoGen:    50,
}

// upstreamNames maps the user-facing model id to the provider model name.
var upstreamNames = map[Model]string{
	ModelBanana:    "gemini-2.5-flash-image",
	ModelBananaPro: "gemini-3-pro-image-preview",
	ModelVeoFast:   "veo-3.0-fast-generate-001",
	ModelVeoGen:    "veo-3.0-generate-001",
}

// Generation wait ceilings. Video jobs run minutes, not seconds.
const (
	ImageTimeout = 120 * time.Second
	VideoTimeout = 300 * time.Second
)

func (m Model) Known() bool {
	_, ok := modelCosts[m]
	return ok
}

// Cost returns the credit price of one generation, 0 for unknown models.
func (m Model) Cost() int { return modelCosts[m] }

// UpstreamName is the provider-side model identifier.
func (m Model) UpstreamName() string { return upstreamNames[m] }

// Modality: anything in the veo family produces video.
func (m Model) Modality() Modality {
	if strings.Contains(string(m), "veo") {
		return ModalityVideo
	}
	return ModalityImage
}

// Timeout is the per-request deadline for this model's generations.
func (m Model) Timeout() time.Duration {
	if m.Modality() == ModalityVideo {
		return VideoTimeout
	}
	return ImageTimeout
}

// SuggestFor picks the default model of the opposite modality, used when a
// prompt's implied medium contradicts the selected model.
func SuggestFor(want Modality) Model {
	if want == ModalityVideo {
		return ModelVeoFast
	}
	return ModelBanana
}
