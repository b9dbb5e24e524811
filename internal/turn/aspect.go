package turn

import (
	"math"
	"regexp"
	"strings"
)

// Aspect ratios the generation API accepts.
var supportedRatios = []struct {
	name  string
	value float64
}{
	{"1:1", 1.0},
	{"16:9", 16.0 / 9.0},
	{"9:16", 9.0 / 16.0},
	{"4:3", 4.0 / 3.0},
	{"3:4", 3.0 / 4.0},
}

const DefaultAspectRatio = "1:1"

var ratioPattern = regexp.MustCompile(`\b(1:1|16:9|9:16|4:3|3:4)\b`)

// ParseAspectRatio extracts an explicit ratio mention from a prompt, with a
// couple of common aliases, or returns "" when the prompt does not say.
func ParseAspectRatio(prompt string) string {
	if m := ratioPattern.FindString(prompt); m != "" {
		return m
	}
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "landscape") || strings.Contains(lower, "widescreen"):
		return "16:9"
	case strings.Contains(lower, "portrait"):
		return "9:16"
	case strings.Contains(lower, "square"):
		return "1:1"
	}
	return ""
}

// ClosestAspectRatio maps a source asset's dimensions onto the nearest
// supported ratio, so an edit keeps the shape of what it edits.
func ClosestAspectRatio(width, height float64) string {
	if width <= 0 || height <= 0 {
		return DefaultAspectRatio
	}
	target := width / height
	best := supportedRatios[0]
	bestDiff := math.Abs(target - best.value)
	for _, r := range supportedRatios[1:] {
		if d := math.Abs(target - r.value); d < bestDiff {
			best, bestDiff = r, d
		}
	}
	return best.name
}
