package services

import (
	"encoding/json"
	"testing"
)

func TestGalleryMetadataRecordsUploadFacts(t *testing.T) {
	meta := galleryMetadata("image/png", "assets/u1/a1.png", 2048)
	if meta == nil {
		t.Fatal("no metadata produced")
	}
	var got map[string]any
	if err := json.Unmarshal(meta, &got); err != nil {
		t.Fatal(err)
	}
	if got["mimeType"] != "image/png" {
		t.Errorf("mimeType = %v", got["mimeType"])
	}
	if got["storageKey"] != "assets/u1/a1.png" {
		t.Errorf("storageKey = %v", got["storageKey"])
	}
	if got["sizeBytes"] != float64(2048) {
		t.Errorf("sizeBytes = %v", got["sizeBytes"])
	}
}

func TestExtensionFor(t *testing.T) {
	cases := []struct {
		mime string
		want string
	}{
		{"image/png", ".png"},
		{"image/jpeg", ".jpg"},
		{"video/mp4", ".mp4"},
		{"application/octet-stream", ""},
	}
	for _, c := range cases {
		if got := extensionFor(c.mime); got != c.want {
			t.Errorf("extensionFor(%q) = %q, want %q", c.mime, got, c.want)
		}
	}
}
