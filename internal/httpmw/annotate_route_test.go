package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// recordingSpanContext returns a context carrying a live recording span
// and the recorder that will hold it once ended.
func recordingSpanContext(t *testing.T) (context.Context, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	ctx, _ := tp.Tracer("test").Start(context.Background(), "inbound")
	return ctx, sr
}

func TestAnnotateHTTPRoute_SetsRouteAndName(t *testing.T) {
	ctx, sr := recordingSpanContext(t)

	r := chi.NewRouter()
	r.Use(AnnotateHTTPRoute)
	r.Get("/assets/{locale}/{version}/images/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/assets/en/v2/images/logo.png", http.NoBody).WithContext(ctx)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	trace.SpanFromContext(ctx).End()
	spans := sr.Ended()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}

	const pattern = "/assets/{locale}/{version}/images/{name}"
	span := spans[0]
	if want := "GET " + pattern; span.Name() != want {
		t.Fatalf("span name = %q, want %q", span.Name(), want)
	}
	var route string
	for _, attr := range span.Attributes() {
		if attr.Key == attribute.Key("http.route") {
			route = attr.Value.AsString()
		}
	}
	if route != pattern {
		t.Fatalf("http.route = %q, want %q", route, pattern)
	}
}

func TestAnnotateHTTPRoute_FallsBackToURLPath(t *testing.T) {
	// Outside a chi router there is no route pattern; the raw path is
	// better than nothing.
	ctx, sr := recordingSpanContext(t)

	handler := AnnotateHTTPRoute(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/some/path", http.NoBody).WithContext(ctx)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	trace.SpanFromContext(ctx).End()
	spans := sr.Ended()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	if want := "GET /some/path"; spans[0].Name() != want {
		t.Fatalf("span name = %q, want %q", spans[0].Name(), want)
	}
}

func TestAnnotateHTTPRoute_NoSpan(t *testing.T) {
	handlerCalled := false
	handler := AnnotateHTTPRoute(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !handlerCalled {
		t.Fatal("handler not called without span")
	}
}
