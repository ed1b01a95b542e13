package plugin

import (
	"os"
	"testing"

	bolt "github.com/Jamescode-cpt/bolt"
)

func TestLoadAllMissingDirSkipsGracefully(t *testing.T) {
	ld := NewLoader("/nonexistent/plugin/dir")
	reg := bolt.NewToolRegistry()
	n := ld.LoadAll(reg)
	if n != 0 {
		t.Errorf("expected 0 plugins loaded from missing dir, got %d", n)
	}
}

func TestLoadAllIgnoresNonSharedObjectFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/readme.txt", []byte("not a plugin"), 0o644); err != nil {
		t.Fatal(err)
	}
	ld := NewLoader(dir)
	reg := bolt.NewToolRegistry()
	if n := ld.LoadAll(reg); n != 0 {
		t.Errorf("expected non-.so files to be ignored, got %d loaded", n)
	}
}

func TestValidatePathRejectsTraversal(t *testing.T) {
	if _, err := validatePath("../../etc/evil.so"); err == nil {
		t.Error("expected traversal path to be rejected")
	}
}

func TestValidatePathAllowsPlainPath(t *testing.T) {
	dir := t.TempDir()
	abs, err := validatePath(dir + "/tool.so")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if abs == "" {
		t.Error("expected a resolved absolute path")
	}
}

func TestLoadAllSkipsUnopenablePluginFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/broken.so", []byte("not an ELF plugin"), 0o644); err != nil {
		t.Fatal(err)
	}
	ld := NewLoader(dir)
	reg := bolt.NewToolRegistry()
	if n := ld.LoadAll(reg); n != 0 {
		t.Errorf("expected the malformed plugin to be skipped, got %d loaded", n)
	}
}
