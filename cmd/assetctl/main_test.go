package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tapestrydocs/asset-engine/internal/manifest"
	"github.com/tapestrydocs/asset-engine/internal/process"
	"github.com/tapestrydocs/asset-engine/internal/resolve"
)

// writeFixtureTree publishes one asset plus a manifest under a temp base
// dir and returns the base dir.
func writeFixtureTree(t *testing.T) string {
	t.Helper()
	base := t.TempDir()

	content := []byte("fixture png bytes")
	hash := process.ContentHash(content)
	hashed := "logo." + hash[:8] + ".png"
	publicPath := "/public/assets/en/v1/images/" + hashed

	full := filepath.Join(base, filepath.FromSlash(strings.TrimPrefix(publicPath, "/")))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		t.Fatal(err)
	}

	m := &manifest.Manifest{
		Version:     "1.0.0",
		GeneratedAt: time.Now().UTC(),
		Assets: map[string]manifest.Entry{
			"en/v1/assets/images/logo.png": {
				PublicPath:     publicPath,
				HashedFilename: hashed,
				ContentHash:    hash,
				OriginalPath:   "en/v1/assets/images/logo.png",
				FileSize:       int64(len(content)),
				MimeType:       "image/png",
				Locale:         "en",
				Version:        "v1",
			},
		},
		Locales:  []string{"en", "es"},
		Versions: []string{"v1"},
	}
	manifestPath := filepath.Join(base, "public", "assets", manifest.Filename)
	if err := manifest.Write(manifestPath, m); err != nil {
		t.Fatal(err)
	}
	return base
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestResolveCommand_ExactMatch(t *testing.T) {
	base := writeFixtureTree(t)

	out, err := runCommand(t, "--base-dir", base, "resolve", "images/logo.png", "--locale", "en", "--version", "v1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(out, "/public/assets/en/v1/images/logo.") {
		t.Fatalf("output %q missing published path", out)
	}
	if strings.Contains(out, "fallback") {
		t.Fatalf("exact match mentioned fallback: %q", out)
	}
}

func TestResolveCommand_LocaleFallbackJSON(t *testing.T) {
	base := writeFixtureTree(t)

	out, err := runCommand(t, "--base-dir", base, "resolve", "images/logo.png",
		"--locale", "es", "--version", "v1", "--json")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var res resolve.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !res.FallbackUsed || res.FallbackType != resolve.FallbackLocale {
		t.Fatalf("fallback = (%v, %q), want (true, locale)", res.FallbackUsed, res.FallbackType)
	}
}

func TestResolveCommand_MissReportsGuess(t *testing.T) {
	base := writeFixtureTree(t)

	out, err := runCommand(t, "--base-dir", base, "resolve", "images/ghost.png", "--locale", "en", "--version", "v1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(out, "unhashed guess") {
		t.Fatalf("miss output %q did not flag the degraded path", out)
	}
}

func TestContextsCommand(t *testing.T) {
	base := writeFixtureTree(t)

	out, err := runCommand(t, "--base-dir", base, "contexts")
	if err != nil {
		t.Fatalf("contexts: %v", err)
	}
	// two locales x one version
	for _, want := range []string{"en", "es", "v1"} {
		if !strings.Contains(out, want) {
			t.Errorf("contexts output missing %q:\n%s", want, out)
		}
	}
}

func TestAuditCommand(t *testing.T) {
	base := writeFixtureTree(t)

	out, err := runCommand(t, "--base-dir", base, "audit", "images/logo.png")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !strings.Contains(out, "yes") {
		t.Fatalf("audit output missing a present cell:\n%s", out)
	}
	if !strings.Contains(out, "1 context(s) missing") {
		t.Fatalf("audit output missing the gap summary:\n%s", out)
	}
}

func TestVerifyCommand_CleanTree(t *testing.T) {
	base := writeFixtureTree(t)

	out, err := runCommand(t, "--base-dir", base, "verify")
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	if !strings.Contains(out, "0 missing, 0 drifted") {
		t.Fatalf("verify output = %q", out)
	}
}

func TestVerifyCommand_DetectsDrift(t *testing.T) {
	base := writeFixtureTree(t)

	// corrupt the published file
	var published string
	filepath.Walk(filepath.Join(base, "public", "assets", "en"), func(p string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			published = p
		}
		return nil
	})
	if published == "" {
		t.Fatal("fixture file not found")
	}
	if err := os.WriteFile(published, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCommand(t, "--base-dir", base, "verify")
	if err == nil {
		t.Fatalf("verify passed on a drifted tree:\n%s", out)
	}
	if !strings.Contains(out, "DRIFT") {
		t.Fatalf("verify output missing DRIFT line:\n%s", out)
	}
}

func TestVerifyCommand_DetectsMissing(t *testing.T) {
	base := writeFixtureTree(t)

	if err := os.RemoveAll(filepath.Join(base, "public", "assets", "en")); err != nil {
		t.Fatal(err)
	}

	out, err := runCommand(t, "--base-dir", base, "verify")
	if err == nil {
		t.Fatalf("verify passed with a missing file:\n%s", out)
	}
	if !strings.Contains(out, "MISSING") {
		t.Fatalf("verify output missing MISSING line:\n%s", out)
	}
}

func TestRootCommand_MissingManifest(t *testing.T) {
	if _, err := runCommand(t, "--base-dir", t.TempDir(), "contexts"); err == nil {
		t.Fatal("contexts with no manifest did not error")
	}
}
