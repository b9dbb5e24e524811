package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/aidea-studio/aidea-backend/internal/canvas"
)

func randomSuffix() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// Upscale resolution ceiling: content already at or past this on either axis
// is left alone.
const upscaleMaxDimension = 3000.0

const removeBackgroundPrompt = "Remove the background completely and output only the subject on a clean transparent background, preserving every detail of the subject."

// Upscale runs a 2x or 4x upscale of an image asset as a single-generation
// turn, producing a lineage child of the target.
func (o *Orchestrator) Upscale(ctx context.Context, assetID string, factor int) error {
	if factor != 2 && factor != 4 {
		return &ValidationError{Reason: "upscale factor must be 2 or 4"}
	}
	a, ok := o.session.Asset(assetID)
	if !ok {
		return &ValidationError{Reason: fmt.Sprintf("unknown asset %q", assetID)}
	}
	if a.Kind != canvas.KindImage {
		return &ValidationError{Reason: "only images can be upscaled"}
	}
	if err := o.begin(StateGenerating); err != nil {
		return err
	}
	defer o.finish()

	if a.Width >= upscaleMaxDimension || a.Height >= upscaleMaxDimension {
		o.append(ToolUsageMessage{
			Tool:    "upscale",
			AssetID: assetID,
			Detail:  "already at maximum resolution, skipped",
		})
		return nil
	}

	target := "2K"
	if factor == 4 {
		target = "4K"
	}
	prompt := fmt.Sprintf("Upscale this image %dx to %s resolution. Preserve the exact content, composition and style; only add detail and sharpness.", factor, target)

	o.generate(ctx, genSpec{
		prompt:   prompt,
		model:    o.imageModel(),
		sourceID: assetID,
		refs:     []string{a.Src},
		tool:     "upscale",
	})
	return nil
}

// Regenerate re-runs an asset's own prompt from scratch, without the asset
// as input, producing a sibling-style variant that is still a lineage child.
func (o *Orchestrator) Regenerate(ctx context.Context, assetID string) error {
	a, ok := o.session.Asset(assetID)
	if !ok {
		return &ValidationError{Reason: fmt.Sprintf("unknown asset %q", assetID)}
	}
	if strings.TrimSpace(a.Prompt) == "" {
		return &ValidationError{Reason: "asset has no prompt to regenerate from"}
	}
	if err := o.begin(StateGenerating); err != nil {
		return err
	}
	defer o.finish()

	o.generate(ctx, genSpec{
		prompt:   a.Prompt,
		model:    o.Model(),
		sourceID: assetID,
		tool:     "regenerate",
	})
	return nil
}

// RemoveBackground produces a background-free child of an image asset.
func (o *Orchestrator) RemoveBackground(ctx context.Context, assetID string) error {
	a, ok := o.session.Asset(assetID)
	if !ok {
		return &ValidationError{Reason: fmt.Sprintf("unknown asset %q", assetID)}
	}
	if a.Kind != canvas.KindImage {
		return &ValidationError{Reason: "background removal only applies to images"}
	}
	if err := o.begin(StateGenerating); err != nil {
		return err
	}
	defer o.finish()

	o.generate(ctx, genSpec{
		prompt:   removeBackgroundPrompt,
		model:    o.imageModel(),
		sourceID: assetID,
		refs:     []string{a.Src},
		tool:     "remove_background",
	})
	return nil
}

// ImportGalleryItem puts a previously persisted item back on the board as a
// fresh root at the import origin. No classification, billing or persistence
// runs; the item already exists in the gallery.
func (o *Orchestrator) ImportGalleryItem(rec GalleryRecord) error {
	if err := o.begin(StateGenerating); err != nil {
		return err
	}
	defer o.finish()

	id := fmt.Sprintf("%d-%s", o.now().UnixMilli(), o.suffix())
	kind := rec.Kind
	if kind == "" {
		kind = canvas.KindImage
	}
	asset, err := o.session.InsertGenerated(canvas.Asset{
		ID:     id,
		Kind:   kind,
		Src:    rec.Src,
		Prompt: rec.Prompt,
		X:      50,
		Y:      50,
		Width:  rec.Width,
		Height: rec.Height,
		Status: canvas.StatusDone,
	}, o.flow, true)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.lastGeneratedID = asset.ID
	o.mu.Unlock()
	o.append(GeneratedAssetMessage{AssetID: asset.ID, Kind: string(kind), Src: rec.Src, Prompt: rec.Prompt})
	return nil
}

// imageModel returns the selected model when it already produces images, or
// the default image model when a video model is selected. Board tools are
// image operations regardless of the session's model.
func (o *Orchestrator) imageModel() Model {
	if m := o.Model(); m.Modality() == ModalityImage {
		return m
	}
	return ModelBanana
}
