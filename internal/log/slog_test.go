package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// newTestLogger builds a slogLogger writing to buf so output can be
// inspected.
func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) *slogLogger {
	t.Helper()
	opts.Writer = buf
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l.(*slogLogger)
}

// jsonRecord parses the last JSON log line in buf.
func jsonRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	last := lines[len(lines)-1]
	var m map[string]any
	if err := json.Unmarshal([]byte(last), &m); err != nil {
		t.Fatalf("parse JSON log line: %v\nraw: %s", err, last)
	}
	return m
}

func TestNewSlog_Defaults(t *testing.T) {
	l, err := newSlog(Options{App: "assetserve"})
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	if l == nil {
		t.Fatal("returned nil logger")
	}
	if got := l.(*slogLogger).maxErrorLinks; got != 8 {
		t.Fatalf("maxErrorLinks = %d, want 8 (default)", got)
	}
}

func TestNewSlog_AppAttr(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "assetbuild", JSON: true, Level: slog.LevelInfo})

	l.Info(context.Background(), "discovery complete", "assets", 42)

	m := jsonRecord(t, &buf)
	if m["msg"] != "discovery complete" {
		t.Fatalf("msg = %v", m["msg"])
	}
	if m["app"] != "assetbuild" {
		t.Fatalf("app = %v, want assetbuild", m["app"])
	}
	if m["assets"] != float64(42) {
		t.Fatalf("assets = %v, want 42", m["assets"])
	}
}

func TestNewSlog_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "assetctl", JSON: false, Level: slog.LevelInfo})

	l.Info(context.Background(), "manifest loaded")

	if raw := buf.String(); !strings.Contains(raw, "msg=\"manifest loaded\"") {
		t.Fatalf("expected logfmt output, got: %s", raw)
	}
}

func TestSlogLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "assetserve", JSON: true, Level: slog.LevelWarn})

	ctx := context.Background()

	l.Debug(ctx, "asset request")
	l.Info(ctx, "http request")
	if buf.Len() != 0 {
		t.Fatalf("debug/info should be filtered at warn level, got: %s", buf.String())
	}

	l.Warn(ctx, "manifest stale")
	if !strings.Contains(buf.String(), "manifest stale") {
		t.Fatalf("warn should pass, got: %s", buf.String())
	}

	buf.Reset()
	l.Error(ctx, fmt.Errorf("bad signature"), "manifest rejected")
	if !strings.Contains(buf.String(), "manifest rejected") {
		t.Fatalf("error should pass, got: %s", buf.String())
	}
}

func TestSlogLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "assetserve", JSON: true, Level: slog.LevelInfo})

	t.Run("copy on write", func(t *testing.T) {
		child := l.With("manifest_sha", "3b7f2a9c")

		buf.Reset()
		l.Info(context.Background(), "parent")
		if _, found := jsonRecord(t, &buf)["manifest_sha"]; found {
			t.Fatal("parent logger must not see the child's attributes")
		}

		buf.Reset()
		child.Info(context.Background(), "child")
		if m := jsonRecord(t, &buf); m["manifest_sha"] != "3b7f2a9c" {
			t.Fatalf("child missing manifest_sha, got: %v", m)
		}
	})

	t.Run("chaining", func(t *testing.T) {
		buf.Reset()
		deep := l.With("locale", "en").With("version", "v1").With("assets", 3)
		deep.Info(context.Background(), "context resolved")

		m := jsonRecord(t, &buf)
		if m["locale"] != "en" || m["version"] != "v1" || m["assets"] != float64(3) {
			t.Fatalf("chained attrs missing, got: %v", m)
		}
	})

	t.Run("odd args drop the orphan", func(t *testing.T) {
		buf.Reset()
		l.With("src", "logo.png", "orphan").Info(context.Background(), "odd")
		if m := jsonRecord(t, &buf); m["src"] != "logo.png" {
			t.Fatalf("src missing, got: %v", m)
		}
	})

	t.Run("non-string keys skipped", func(t *testing.T) {
		buf.Reset()
		l.With(42, "val", "real_key", "real_val").Info(context.Background(), "keys")
		if m := jsonRecord(t, &buf); m["real_key"] != "real_val" {
			t.Fatal("real_key missing")
		}
	})
}

func TestSlogLogger_Error_Enrichment(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "assetbuild", JSON: true, Level: slog.LevelError})

	l.Error(context.Background(), fmt.Errorf("hash file: permission denied"), "asset processing failed")

	m := jsonRecord(t, &buf)
	for _, key := range []string{"err", "error_type", "cause_type"} {
		if m[key] == nil {
			t.Errorf("%s field missing", key)
		}
	}
}

func TestSlogLogger_Error_NilError(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "assetbuild", JSON: true, Level: slog.LevelError})

	l.Error(context.Background(), nil, "failed without cause")

	m := jsonRecord(t, &buf)
	if m["msg"] != "failed without cause" {
		t.Fatalf("msg = %v", m["msg"])
	}
	if _, found := m["err"]; found {
		t.Fatal("err field should not be present for nil error")
	}
}

func TestSlogLogger_Error_Chain(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "assetbuild", JSON: true, Level: slog.LevelError})

	inner := fmt.Errorf("open manifest: no such file")
	l.Error(context.Background(), fmt.Errorf("publish: %w", inner), "publish failed")

	chain, ok := jsonRecord(t, &buf)["error_chain"]
	if !ok {
		t.Fatal("error_chain missing")
	}
	arr, ok := chain.([]any)
	if !ok || len(arr) < 2 {
		t.Fatalf("error_chain = %v, want at least 2 entries", chain)
	}
}

func TestSlogLogger_ErrorLinks_Toggle(t *testing.T) {
	var buf bytes.Buffer
	off := newTestLogger(t, &buf, Options{App: "assetserve", JSON: true, Level: slog.LevelError})
	off.Error(context.Background(), fmt.Errorf("resolve miss"), "msg")
	if _, found := jsonRecord(t, &buf)["error_links"]; found {
		t.Fatal("error_links should not be present when disabled")
	}

	buf.Reset()
	on := newTestLogger(t, &buf, Options{
		App: "assetserve", JSON: true, Level: slog.LevelError,
		IncludeErrorLinks: true, MaxErrorLinks: 8,
	})
	on.Error(context.Background(), fmt.Errorf("resolve miss"), "msg")
	if _, found := jsonRecord(t, &buf)["error_links"]; !found {
		t.Fatal("error_links should be present when enabled")
	}
}

func newRecord() slog.Record {
	return slog.NewRecord(time.Now(), slog.LevelInfo, "test", 0)
}

func countAttrs(r slog.Record) int {
	n := 0
	r.Attrs(func(a slog.Attr) bool { n++; return true })
	return n
}

func TestAddKV(t *testing.T) {
	r := newRecord()
	addKV(&r, []any{"src", "logo.png", "locale", "en"})
	if c := countAttrs(r); c != 2 {
		t.Fatalf("attrs count = %d, want 2", c)
	}

	r = newRecord()
	addKV(&r, []any{"src", "logo.png", "orphan"})
	if c := countAttrs(r); c != 1 {
		t.Fatalf("attrs count = %d, want 1 (orphan dropped)", c)
	}

	r = newRecord()
	addKV(&r, nil)
	addKV(&r, []any{})
}

func TestTraceHandler_AddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "assetserve", JSON: true, Level: slog.LevelInfo})

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "resolved")

	m := jsonRecord(t, &buf)
	if m["trace_id"] != "0102030405060708090a0b0c0d0e0f10" {
		t.Fatalf("trace_id = %v", m["trace_id"])
	}
	if m["span_id"] != "0102030405060708" {
		t.Fatalf("span_id = %v", m["span_id"])
	}
}

func TestTraceHandler_NoTrace(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "assetserve", JSON: true, Level: slog.LevelInfo})

	l.Info(context.Background(), "untraced asset fetch")

	if _, found := jsonRecord(t, &buf)["trace_id"]; found {
		t.Fatal("trace_id should not be present without a valid span context")
	}
}

func TestStackHandler_AddsStackAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "assetbuild", JSON: true, Level: slog.LevelError})

	l.Error(context.Background(), fmt.Errorf("boom"), "pipeline stage panicked")

	s, ok := jsonRecord(t, &buf)["stack"].(string)
	if !ok || s == "" {
		t.Fatal("stack should be a non-empty string at error level")
	}
}

func TestStackHandler_NoStackBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{
		App: "assetbuild", JSON: true,
		Level:           slog.LevelInfo,
		StacktraceLevel: slog.LevelError,
	})

	l.Info(context.Background(), "manifest published")

	if _, found := jsonRecord(t, &buf)["stack"]; found {
		t.Fatal("stack should not be present at info level")
	}
}

func TestChainMessages(t *testing.T) {
	inner := fmt.Errorf("no such file")
	outer := fmt.Errorf("load manifest: %w", inner)

	chain := chainMessages(outer)
	if len(chain) < 2 {
		t.Fatalf("chain length = %d, want >= 2", len(chain))
	}
	if chain[0] != "load manifest: no such file" {
		t.Fatalf("chain[0] = %q", chain[0])
	}
	if chain[len(chain)-1] != "no such file" {
		t.Fatalf("chain[last] = %q", chain[len(chain)-1])
	}

	joined := errors.Join(fmt.Errorf("read failed"), fmt.Errorf("stat failed"))
	if c := chainMessages(joined); len(c) == 0 {
		t.Fatal("chain should not be empty for joined errors")
	}

	if c := chainMessages(nil); len(c) != 0 {
		t.Fatalf("chain for nil error = %v, want empty", c)
	}
}

type manifestError struct{ msg string }

func (e *manifestError) Error() string { return e.msg }

func TestErrorTypes(t *testing.T) {
	inner := &manifestError{msg: "checksum mismatch"}
	outer := fmt.Errorf("reload: %w", inner)

	surface, root := errorTypes(outer)
	if !strings.Contains(surface, "manifestError") {
		t.Fatalf("surface = %q, fmt wrapper should be skipped", surface)
	}
	if !strings.Contains(root, "manifestError") {
		t.Fatalf("root = %q", root)
	}

	if surface, root := errorTypes(nil); surface != "" || root != "" {
		t.Fatalf("errorTypes(nil) = (%q, %q), want empty", surface, root)
	}
}

func TestErrorLinks(t *testing.T) {
	err := error(&manifestError{msg: "base"})
	for i := 0; i < 20; i++ {
		err = fmt.Errorf("wrap %d: %w", i, err)
	}
	if links := errorLinks(err, 5); len(links) > 5 {
		t.Fatalf("links length = %d, max should be 5", len(links))
	}

	if links := errorLinks(nil, 8); len(links) != 0 {
		t.Fatalf("links for nil = %v, want empty", links)
	}
}

func TestFrameHelpers_ZeroValues(t *testing.T) {
	if _, _, _, ok := frameFromPC(0); ok {
		t.Fatal("frameFromPC(0) should return ok=false")
	}
	if _, _, _, ok := firstExternalFrame(nil); ok {
		t.Fatal("firstExternalFrame(nil) should return ok=false")
	}
}
