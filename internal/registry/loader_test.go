package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDir_FiltersGGUF(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"coder.gguf",
		"manager.GGUF", // case-insensitive
		"not-model.txt",
		"model.bin",
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte(""), 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.gguf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	models, err := LoadDir(dir, nil)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	for _, m := range models {
		if !strings.HasSuffix(strings.ToLower(m.ID), ".gguf") {
			t.Fatalf("id not gguf: %s", m.ID)
		}
		if !filepath.IsAbs(m.Path) {
			t.Fatalf("path not absolute: %s", m.Path)
		}
	}
}

func TestLoadDir_MergesPorts(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "coder.gguf"), []byte(""), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	models, err := LoadDir(dir, map[string]int{"coder.gguf": 8081})
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if len(models) != 1 || models[0].Port != 8081 {
		t.Fatalf("port not merged: %+v", models)
	}
}

func TestLoadDir_MissingDir(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope"), nil); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestResolver(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"a.gguf", "b.gguf"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte(""), 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
	models, err := LoadDir(dir, map[string]int{"a.gguf": 8081, "b.gguf": 8082})
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	resolve := Resolver(models)
	m, ok := resolve("a.gguf")
	if !ok || m.Port != 8081 {
		t.Fatalf("resolve a.gguf: ok=%v model=%+v", ok, m)
	}
	if _, ok := resolve("missing.gguf"); ok {
		t.Fatal("resolved a model that does not exist")
	}
}
