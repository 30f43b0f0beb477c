package errors

import (
	"encoding/json"
	stderrs "errors"
	"net/http"
	"strings"
	"testing"
)

func TestWrapAndUnwrap(t *testing.T) {
	cause := stderrs.New("connection refused")
	err := Wrap(cause, ErrorCodeFetch, "fetch frame")

	if got := err.Error(); got != "fetch frame: connection refused" {
		t.Fatalf("Error() = %q", got)
	}
	if !stderrs.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the cause")
	}
	if Root(err) != cause {
		t.Fatalf("Root should return the deepest cause")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != ErrorCodeUnknown {
		t.Fatalf("nil should map to Unknown")
	}
	if CodeOf(stderrs.New("plain")) != ErrorCodeUnknown {
		t.Fatalf("foreign error should map to Unknown")
	}
	if CodeOf(Inferencef("model fault")) != ErrorCodeInference {
		t.Fatalf("expected inference code")
	}
	if !IsCode(Fetchf("timeout"), ErrorCodeFetch) {
		t.Fatalf("IsCode fetch failed")
	}
}

func TestWithSource(t *testing.T) {
	err := Fetchf("http 502")
	if SourceOf(err) != -1 {
		t.Fatalf("unset source should be -1, got %d", SourceOf(err))
	}
	err = WithSource(err, 2)
	if SourceOf(err) != 2 {
		t.Fatalf("SourceOf = %d, want 2", SourceOf(err))
	}
	// copy-on-write: foreign errors pass through untouched
	plain := stderrs.New("x")
	if WithSource(plain, 1) != plain {
		t.Fatalf("foreign error should be returned unchanged")
	}
}

func TestWireSourceZeroIndex(t *testing.T) {
	err := WithSource(Fetchf("http 502"), 0)
	e, ok := As(err)
	if !ok {
		t.Fatalf("expected *Error")
	}
	w := e.ToWire()
	if w.Source == nil || *w.Source != 0 {
		t.Fatalf("source 0 should survive ToWire, got %v", w.Source)
	}
	b, jerr := json.Marshal(w)
	if jerr != nil {
		t.Fatalf("marshal: %v", jerr)
	}
	if !strings.Contains(string(b), `"source":0`) {
		t.Fatalf("camera 0 dropped from wire payload: %s", b)
	}

	// and an unattributed error carries no source key at all
	b, jerr = json.Marshal(Fetchf("http 502").(*Error).ToWire())
	if jerr != nil {
		t.Fatalf("marshal: %v", jerr)
	}
	if strings.Contains(string(b), `"source"`) {
		t.Fatalf("unattributed error leaked a source field: %s", b)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{Fetchf("timeout"), true},
		{Transportf("webhook 500"), true},
		{Unavailablef("printer offline"), true},
		{Decodef("bad jpeg"), false},
		{Inferencef("bad tensor"), false},
		{Configf("empty source list"), false},
		{stderrs.New("plain"), false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	if HTTPStatus(NotFoundf("no episode")) != http.StatusNotFound {
		t.Fatalf("not found should map to 404")
	}
	if HTTPStatus(Fetchf("camera down")) != http.StatusServiceUnavailable {
		t.Fatalf("fetch should map to 503")
	}
	if HTTPStatus(JSONErrf("bad body")) != http.StatusBadRequest {
		t.Fatalf("json should map to 400")
	}
}

func TestWrapIf(t *testing.T) {
	if WrapIf(nil, ErrorCodeDB, "insert") != nil {
		t.Fatalf("WrapIf(nil) should be nil")
	}
	err := WrapIf(stderrs.New("locked"), ErrorCodeDB, "insert")
	if CodeOf(err) != ErrorCodeDB {
		t.Fatalf("expected DB code")
	}
}
