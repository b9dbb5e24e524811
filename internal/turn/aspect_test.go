package turn

import "testing"

func TestParseAspectRatio(t *testing.T) {
	cases := []struct {
		prompt string
		want   string
	}{
		{"a red bicycle in 16:9", "16:9"},
		{"portrait of a sailor", "9:16"},
		{"landscape with mountains", "16:9"},
		{"a square logo", "1:1"},
		{"a red bicycle", ""},
		{"use 9:16 framing", "9:16"},
	}
	for _, tc := range cases {
		if got := ParseAspectRatio(tc.prompt); got != tc.want {
			t.Errorf("ParseAspectRatio(%q) = %q, want %q", tc.prompt, got, tc.want)
		}
	}
}

func TestClosestAspectRatio(t *testing.T) {
	cases := []struct {
		w, h float64
		want string
	}{
		{512, 512, "1:1"},
		{1280, 720, "16:9"},
		{720, 1280, "9:16"},
		{800, 600, "4:3"},
		{600, 800, "3:4"},
		{0, 100, "1:1"},
	}
	for _, tc := range cases {
		if got := ClosestAspectRatio(tc.w, tc.h); got != tc.want {
			t.Errorf("ClosestAspectRatio(%v,%v) = %q, want %q", tc.w, tc.h, got, tc.want)
		}
	}
}

func TestModelCatalog(t *testing.T) {
	if ModelVeoGen.Modality() != ModalityVideo || ModelBanana.Modality() != ModalityImage {
		t.Error("modality mapping wrong")
	}
	if ModelBanana.Cost() != 10 || ModelBananaPro.Cost() != 20 || ModelVeoFast.Cost() != 30 || ModelVeoGen.Cost() != 50 {
		t.Error("cost table wrong")
	}
	if ModelVeoGen.Timeout() <= ModelBanana.Timeout() {
		t.Error("video timeout should exceed image timeout")
	}
	if Model("nope").Known() {
		t.Error("unknown model reported as known")
	}
}
