package config

import "testing"

func TestMerge_OverridesWinOverBase(t *testing.T) {
	dst := map[string]any{"thresholds": map[string]any{"high": 0.75, "low": 0.35}}
	src := map[string]any{"thresholds": map[string]any{"high": 0.9}}

	merged, rep := Merge(dst, src, MergeOptions{})
	if rep.HasWarnings() {
		t.Fatalf("expected no warnings, got %+v", rep.Warnings)
	}

	thresholds := merged["thresholds"].(map[string]any)
	if thresholds["high"] != 0.9 {
		t.Fatalf("expected overridden high=0.9, got %v", thresholds["high"])
	}
	if thresholds["low"] != 0.35 {
		t.Fatalf("expected untouched low=0.35 preserved, got %v", thresholds["low"])
	}
}

func TestMerge_DoesNotMutateDestinationMap(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"x": 1}}
	src := map[string]any{"a": map[string]any{"y": 2}}

	merged, _ := Merge(dst, src, MergeOptions{})
	if dst["a"].(map[string]any)["y"] != nil {
		t.Fatal("expected dst to remain unmodified by Merge")
	}
	a := merged["a"].(map[string]any)
	if a["x"] != 1 || a["y"] != 2 {
		t.Fatalf("expected merged map to contain both keys, got %+v", a)
	}
}

func TestMerge_ArrayReplacePolicyDefault(t *testing.T) {
	dst := map[string]any{"tags": []any{"a", "b"}}
	src := map[string]any{"tags": []any{"c"}}

	merged, _ := Merge(dst, src, MergeOptions{})
	tags := merged["tags"].([]any)
	if len(tags) != 1 || tags[0] != "c" {
		t.Fatalf("expected array replaced wholesale, got %v", tags)
	}
}

func TestMerge_ArrayConcatPolicy(t *testing.T) {
	dst := map[string]any{"tags": []any{"a", "b"}}
	src := map[string]any{"tags": []any{"c"}}

	merged, _ := Merge(dst, src, MergeOptions{ArrayPolicy: ArrayConcat})
	tags := merged["tags"].([]any)
	if len(tags) != 3 {
		t.Fatalf("expected concatenated array of length 3, got %v", tags)
	}
}

func TestMergeMany_LaterLayersWin(t *testing.T) {
	base := map[string]any{"x": 1, "y": 1}
	env := map[string]any{"y": 2}
	override := map[string]any{"y": 3}

	merged, _ := MergeMany([]map[string]any{base, env, override}, MergeOptions{})
	if merged["x"] != 1 || merged["y"] != 3 {
		t.Fatalf("expected last layer to win on conflict, got %+v", merged)
	}
}

func TestMerge_DepthLimitReplacesSubtree(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"b": map[string]any{"c": 1}}}
	src := map[string]any{"a": map[string]any{"b": map[string]any{"c": 2}}}

	_, rep := Merge(dst, src, MergeOptions{MaxDepth: 1})
	if !rep.HasWarnings() {
		t.Fatal("expected a depth-limit warning")
	}
}
