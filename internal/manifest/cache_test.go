package manifest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tapestrydocs/asset-engine/internal/asset"
	"github.com/tapestrydocs/asset-engine/internal/cryptoutil"
	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

func writeManifest(t *testing.T, dir string, n int) string {
	t.Helper()
	var in []asset.Processed
	for i := 0; i < n; i++ {
		rel := "en/v1/assets/images/" + string(rune('a'+i)) + ".png"
		in = append(in, sampleProcessed(rel, "en", "v1"))
	}
	path := filepath.Join(dir, Filename)
	if err := Write(path, Build(in, "1.0.0")); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestCache_LazyLoadAndReuse(t *testing.T) {
	path := writeManifest(t, t.TempDir(), 2)
	c := NewCache(CacheOptions{Path: path})

	if _, ok := c.Current(); ok {
		t.Fatal("cache must be empty before first Get")
	}

	a, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != b {
		t.Fatal("repeated Get must return the same snapshot pointer")
	}
	if len(a.Assets) != 2 {
		t.Fatalf("assets = %d, want 2", len(a.Assets))
	}
}

func TestCache_InvalidateReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, 1)
	c := NewCache(CacheOptions{Path: path})

	a, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	// Build replaces the manifest; a stale cache would still see one asset.
	writeManifest(t, dir, 3)
	stale, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stale != a {
		t.Fatal("cache must not reload before Invalidate")
	}

	c.Invalidate()
	fresh, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get after invalidate: %v", err)
	}
	if fresh == a {
		t.Fatal("Invalidate must force a fresh snapshot")
	}
	if len(fresh.Assets) != 3 {
		t.Fatalf("assets = %d, want 3", len(fresh.Assets))
	}
}

func TestCache_MissingManifest(t *testing.T) {
	c := NewCache(CacheOptions{Path: filepath.Join(t.TempDir(), "absent.json")})
	if _, err := c.Get(context.Background()); err == nil {
		t.Fatal("expected error for missing manifest")
	}
	if _, ok := c.Current(); ok {
		t.Fatal("failed load must not populate the cache")
	}
}

func TestCache_ConcurrentFirstGet(t *testing.T) {
	path := writeManifest(t, t.TempDir(), 1)
	c := NewCache(CacheOptions{Path: path})

	const goroutines = 16
	snaps := make([]*Manifest, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := c.Get(context.Background())
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			snaps[i] = m
		}(i)
	}
	wg.Wait()
	for i := 1; i < goroutines; i++ {
		if snaps[i] != snaps[0] {
			t.Fatal("concurrent first Gets must converge on one snapshot")
		}
	}
}

type recordingVerifier struct {
	calls int
	err   error

	gotMessage   []byte
	gotSignature []byte
}

func (v *recordingVerifier) VerifySignature(_ context.Context, message, signature []byte) error {
	v.calls++
	v.gotMessage = message
	v.gotSignature = signature
	return v.err
}

func TestCache_VerifiesSignatureSidecar(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, 1)
	if err := os.WriteFile(path+SigSuffix, []byte("signature-bytes"), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	v := &recordingVerifier{}
	c := NewCache(CacheOptions{Path: path, Verifier: v})
	if _, err := c.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v.calls != 1 {
		t.Fatalf("verifier calls = %d, want 1", v.calls)
	}
	raw, _ := os.ReadFile(path)
	if string(v.gotMessage) != string(raw) {
		t.Fatal("verifier must receive the raw manifest bytes")
	}
	if string(v.gotSignature) != "signature-bytes" {
		t.Fatal("verifier must receive the sidecar bytes")
	}
}

func TestCache_VerificationFailureBlocksLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, 1)
	if err := os.WriteFile(path+SigSuffix, []byte("bad"), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	c := NewCache(CacheOptions{Path: path, Verifier: &recordingVerifier{err: xerrors.New("signature mismatch")}})
	if _, err := c.Get(context.Background()); err == nil {
		t.Fatal("verification failure must fail the load")
	}
	if _, ok := c.Current(); ok {
		t.Fatal("unverified manifest must not be cached")
	}
}

func TestCache_MissingSidecarSkipsVerification(t *testing.T) {
	path := writeManifest(t, t.TempDir(), 1)
	v := &recordingVerifier{err: xerrors.New("must not be called")}
	c := NewCache(CacheOptions{Path: path, Verifier: v})

	if _, err := c.Get(context.Background()); err != nil {
		t.Fatalf("missing sidecar must not fail the load: %v", err)
	}
	if v.calls != 0 {
		t.Fatalf("verifier calls = %d, want 0", v.calls)
	}
}

func TestCache_InfoTracksSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, 3)
	c := NewCache(CacheOptions{Path: path})

	if _, ok := c.Info(); ok {
		t.Fatal("Info must report nothing before first load")
	}

	if _, err := c.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}

	info, ok := c.Info()
	if !ok {
		t.Fatal("Info should be available after load")
	}
	if info.Version != "1.0.0" {
		t.Fatalf("Version = %q, want 1.0.0", info.Version)
	}
	if info.Assets != 3 {
		t.Fatalf("Assets = %d, want 3", info.Assets)
	}
	if len(info.SHA256) != 64 {
		t.Fatalf("SHA256 length = %d, want 64", len(info.SHA256))
	}
	if info.LoadedAt.IsZero() {
		t.Fatal("LoadedAt not set")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if want := cryptoutil.SHA256Hex(data); info.SHA256 != want {
		t.Fatalf("SHA256 = %s, want %s", info.SHA256, want)
	}
}

func TestCache_ReloadSwapsOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, 1)
	c := NewCache(CacheOptions{Path: path})

	old, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	writeManifest(t, dir, 4)
	fresh, err := c.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if fresh == old {
		t.Fatal("Reload must produce a new snapshot pointer")
	}
	if len(fresh.Assets) != 4 {
		t.Fatalf("assets = %d, want 4", len(fresh.Assets))
	}

	cur, ok := c.Current()
	if !ok || cur != fresh {
		t.Fatal("Current must see the reloaded snapshot")
	}
}

func TestCache_ReloadKeepsOldOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, 2)
	c := NewCache(CacheOptions{Path: path})

	old, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("corrupt manifest: %v", err)
	}

	if _, err := c.Reload(context.Background()); err == nil {
		t.Fatal("Reload of broken manifest must error")
	}

	cur, ok := c.Current()
	if !ok || cur != old {
		t.Fatal("failed Reload must leave the old snapshot live")
	}
}
