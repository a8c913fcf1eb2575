package errs

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestError_FormatsOpMessageAndCause(t *testing.T) {
	err := E(Op("install.Install"), KindSystem, errors.New("exit status 1"), "copy failed")
	want := "install.Install: copy failed: exit status 1"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestKindOf_SkipsUnclassifiedWrappers(t *testing.T) {
	inner := E(Op("fetch.Fetch"), KindNetwork, errors.New("dial tcp: refused"))
	outer := E(Op("pipeline.Run"), inner)

	if got := KindOf(outer); got != KindNetwork {
		t.Errorf("KindOf() = %v, want KindNetwork", got)
	}
	if got := KindOf(errors.New("plain")); got != KindOther {
		t.Errorf("KindOf(plain) = %v, want KindOther", got)
	}
}

func TestHTTPResponse_MapsKindToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		body string
	}{
		{"invalid input", E(KindInvalid, errors.New("bad hostname")), http.StatusBadRequest, "bad hostname"},
		{"busy", E(KindConflict, "a run is already in progress"), http.StatusConflict, "already in progress"},
		{"no space", E(KindSpace, "not enough space"), http.StatusInsufficientStorage, "not enough space"},
		{"system hides cause", E(KindSystem, errors.New("secret detail")), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HTTPResponse(w, tt.err)
			if w.Code != tt.code {
				t.Errorf("status = %d, want %d", w.Code, tt.code)
			}
			if !strings.Contains(w.Body.String(), tt.body) {
				t.Errorf("body = %q, want it to contain %q", w.Body.String(), tt.body)
			}
		})
	}
}
