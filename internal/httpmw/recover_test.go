package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/tapestrydocs/asset-engine/internal/log"
	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

// spyLogger captures Error calls for assertions.
type spyLogger struct {
	log.Logger
	mu     sync.Mutex
	errors []spyError
}

type spyError struct {
	msg string
	err error
}

func newSpyLogger() *spyLogger {
	return &spyLogger{Logger: log.Nop()}
}

func (s *spyLogger) With(kv ...any) log.Logger {
	// Return self so Error calls still land here
	return s
}

func (s *spyLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, spyError{msg: msg, err: err})
}

func (s *spyLogger) lastError() (spyError, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errors) == 0 {
		return spyError{}, false
	}
	return s.errors[len(s.errors)-1], true
}

func TestRecover_NoPanic(t *testing.T) {
	spy := newSpyLogger()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw := Recover(spy, nil)
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/public/assets/en/v1/images/logo.3b7f2a9c.png", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if _, logged := spy.lastError(); logged {
		t.Fatal("error logged when no panic occurred")
	}
}

func TestRecover_PanicKinds(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"string", "manifest snapshot missing"},
		{"error", xerrors.New("resolver: nil manifest")},
		{"arbitrary value", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := newSpyLogger()
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(tt.value)
			})

			rec := httptest.NewRecorder()
			Recover(spy, nil)(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/resolve", http.NoBody))

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			if rec.Body.String() == "" {
				t.Fatal("expected error body in response")
			}

			e, ok := spy.lastError()
			if !ok {
				t.Fatal("expected the panic to be logged")
			}
			if e.msg != "httpserver panic recovered" {
				t.Fatalf("msg = %q", e.msg)
			}
			if e.err == nil {
				t.Fatal("expected a non-nil error carrying the panic value")
			}
		})
	}
}

func TestRecover_DoesNotInterfereWithNormalFlow(t *testing.T) {
	spy := newSpyLogger()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("png bytes"))
	})

	mw := Recover(spy, nil)
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/public/assets/en/v1/images/logo.3b7f2a9c.png", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=31536000, immutable" {
		t.Fatalf("Cache-Control = %q", got)
	}
	if rec.Body.String() != "png bytes" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestRecover_OnPanicCallback(t *testing.T) {
	// onPanic feeds the panic counter; it must run on panics and only then.
	spy := newSpyLogger()
	calls := 0
	mw := Recover(spy, func() { calls++ })

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw(ok).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/contexts", http.NoBody))
	if calls != 0 {
		t.Fatalf("onPanic ran %d times without a panic", calls)
	}

	boom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	mw(boom).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/contexts", http.NoBody))
	if calls != 1 {
		t.Fatalf("onPanic ran %d times, want 1", calls)
	}
}

func TestRecover_NilCallback(t *testing.T) {
	spy := newSpyLogger()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	Recover(spy, nil)(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestRecover_AbortHandlerPropagates(t *testing.T) {
	spy := newSpyLogger()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})

	defer func() {
		if recover() != http.ErrAbortHandler {
			t.Fatal("http.ErrAbortHandler must propagate, not be swallowed")
		}
	}()
	Recover(spy, nil)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
}
