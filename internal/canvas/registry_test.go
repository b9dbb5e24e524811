package canvas

import (
	"errors"
	"testing"
)

func TestRegistryInsertValidation(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Insert(asset("a", 0, 0, 10, 10, "")); err != nil {
		t.Fatalf("insert a: %v", err)
	}

	cases := []struct {
		name    string
		in      Asset
		wantErr error
	}{
		{"empty id", asset("", 0, 0, 10, 10, ""), ErrEmptyID},
		{"self reference", asset("b", 0, 0, 10, 10, "b"), ErrSelfReference},
		{"unknown source", asset("c", 0, 0, 10, 10, "nope"), ErrUnknownSource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := reg.Insert(tc.in)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}

	t.Run("duplicate id", func(t *testing.T) {
		err := reg.Insert(asset("a", 5, 5, 10, 10, ""))
		var dup *DuplicateIDError
		if !errors.As(err, &dup) {
			t.Fatalf("err = %v, want DuplicateIDError", err)
		}
		if dup.ID != "a" {
			t.Errorf("dup id = %q", dup.ID)
		}
		// The registry still holds the original, untouched.
		if got := reg.Get("a"); got.X != 0 {
			t.Errorf("original asset mutated: %+v", got)
		}
	})
}

func TestRegistryInsertCopies(t *testing.T) {
	reg := NewRegistry()
	in := asset("a", 1, 2, 10, 10, "")
	if err := reg.Insert(in); err != nil {
		t.Fatal(err)
	}
	in.X = 999
	if reg.Get("a").X != 1 {
		t.Error("registry shares memory with caller's asset")
	}
}

func TestRegistryLineageIsAcyclicByConstruction(t *testing.T) {
	// A cycle would need some asset's SourceID to point at a later insert,
	// which Insert rejects as unknown. Walking up from any asset must
	// terminate at a root.
	reg := seedRegistry(t,
		asset("r", 0, 0, 10, 10, ""),
		asset("c1", 0, 0, 10, 10, "r"),
		asset("c2", 0, 0, 10, 10, "c1"),
		asset("c3", 0, 0, 10, 10, "c2"),
	)
	for _, a := range reg.All() {
		steps := 0
		for cur := a; cur.SourceID != ""; cur = reg.Get(cur.SourceID) {
			steps++
			if steps > reg.Len() {
				t.Fatalf("lineage walk from %s did not terminate", a.ID)
			}
		}
	}
}

func TestRegistryUpdatePositionMissingIDIsNoop(t *testing.T) {
	reg := seedRegistry(t, asset("a", 0, 0, 10, 10, ""))
	reg.UpdatePosition("gone", 50, 50)
	reg.SetStatus("gone", StatusDone, "")
	reg.SetError("gone", "boom")
	if reg.Len() != 1 {
		t.Errorf("len = %d", reg.Len())
	}
}

func TestRegistrySetStatusClearsError(t *testing.T) {
	reg := seedRegistry(t, asset("a", 0, 0, 10, 10, ""))
	reg.SetError("a", "upload failed")
	if a := reg.Get("a"); a.Status != StatusError || a.ErrorMsg == "" {
		t.Fatalf("after SetError: %+v", a)
	}
	reg.SetStatus("a", StatusDone, "https://cdn/final.mp4")
	a := reg.Get("a")
	if a.Status != StatusDone || a.ErrorMsg != "" || a.Src != "https://cdn/final.mp4" {
		t.Errorf("after SetStatus: %+v", a)
	}
}

func TestRegistrySeriesGroupsByLineageNewestFirst(t *testing.T) {
	reg := NewRegistry()
	first := asset("r1", 0, 0, 10, 10, "")
	first.Prompt = "a red bicycle"
	second := asset("r2", 100, 0, 10, 10, "")
	second.Prompt = "a lighthouse"
	for _, a := range []Asset{
		first,
		asset("r1-edit", 0, 40, 10, 10, "r1"),
		second,
		asset("r1-edit2", 0, 80, 10, 10, "r1-edit"),
		asset("r2-edit", 100, 40, 10, 10, "r2"),
	} {
		if err := reg.Insert(a); err != nil {
			t.Fatal(err)
		}
	}

	series := reg.Series()
	if len(series) != 2 {
		t.Fatalf("got %d series, want 2", len(series))
	}
	if series[0].RootID != "r2" || series[1].RootID != "r1" {
		t.Errorf("root order = %s, %s; want newest first", series[0].RootID, series[1].RootID)
	}
	if series[0].InitialPrompt != "a lighthouse" {
		t.Errorf("initial prompt = %q", series[0].InitialPrompt)
	}

	ids := func(s Series) []string {
		out := make([]string, 0, len(s.Assets))
		for _, a := range s.Assets {
			out = append(out, a.ID)
		}
		return out
	}
	wantChain := []string{"r1", "r1-edit", "r1-edit2"}
	got := ids(series[1])
	if len(got) != len(wantChain) {
		t.Fatalf("r1 chain = %v", got)
	}
	for i := range wantChain {
		if got[i] != wantChain[i] {
			t.Errorf("r1 chain = %v, want %v", got, wantChain)
			break
		}
	}
}

func TestRegistryBounds(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Bounds(); ok {
		t.Fatal("empty registry reported bounds")
	}
	reg = seedRegistry(t,
		asset("a", -10, 5, 20, 20, ""),
		asset("b", 100, -50, 40, 30, ""),
	)
	got, ok := reg.Bounds()
	if !ok {
		t.Fatal("no bounds")
	}
	want := Rect{X: -10, Y: -50, Width: 150, Height: 75}
	if got != want {
		t.Errorf("bounds = %+v, want %+v", got, want)
	}
}
