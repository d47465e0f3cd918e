package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture %s: %v", name, err)
	}
}

func TestLoader_MergesBaseAndEnvLayers(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "dedupe.yaml", "thresholds:\n  high: 0.75\n  low: 0.35\n")

	envDir := filepath.Join(root, "env", "staging")
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	writeFile(t, envDir, "dedupe.yaml", "thresholds:\n  high: 0.9\n")

	loader, err := NewLoader(root, Options{Service: "dedupe", Env: "staging"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bundle, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	thresholds, ok := bundle.Merged["thresholds"].(map[string]any)
	if !ok {
		t.Fatalf("expected thresholds map, got %#v", bundle.Merged["thresholds"])
	}
	if thresholds["high"] != 0.9 {
		t.Fatalf("expected env layer to override high=0.9, got %v (%T)", thresholds["high"], thresholds["high"])
	}
	if thresholds["low"] != 0.35 {
		t.Fatalf("expected base layer's low to survive, got %v", thresholds["low"])
	}
}

func TestLoader_MissingBaseFileIsNotAnError(t *testing.T) {
	root := t.TempDir()
	loader, err := NewLoader(root, Options{Service: "dedupe"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bundle, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("expected no error for an empty config root, got %v", err)
	}
	if len(bundle.Docs) != 0 {
		t.Fatalf("expected no documents loaded, got %v", bundle.Docs)
	}
}

func TestLoader_RejectsPathEscapingRoot(t *testing.T) {
	root := t.TempDir()
	loader, err := NewLoader(root, Options{Service: "dedupe"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := loader.LoadFile(context.Background(), "../outside.yaml"); err == nil {
		t.Fatal("expected an error for a path that escapes the config root")
	}
}

func TestLoader_RejectsUnsupportedExtension(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "dedupe.txt", "not real config")
	loader, err := NewLoader(root, Options{Service: "dedupe"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := loader.LoadFile(context.Background(), "dedupe.txt"); err == nil {
		t.Fatal("expected an error for an unsupported extension")
	}
}

func TestDecode_FillsDefaultsWhenMergedEmpty(t *testing.T) {
	cfg, err := Decode(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatal("expected Decode(nil) to equal Default()")
	}
}

func TestDecode_OverlaysMergedOntoDefaults(t *testing.T) {
	merged := map[string]any{"thresholds": map[string]any{"high": 0.95}}
	cfg, err := Decode(merged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Thresholds.High != 0.95 {
		t.Fatalf("expected overridden high=0.95, got %v", cfg.Thresholds.High)
	}
	if cfg.Thresholds.Low != Default().Thresholds.Low {
		t.Fatalf("expected default low preserved, got %v", cfg.Thresholds.Low)
	}
}
