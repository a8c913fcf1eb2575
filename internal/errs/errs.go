package errs

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

type Kind uint8

const (
	KindOther    Kind = iota // 500
	KindIO                   // staging file or filesystem, 500
	KindNetwork              // connectivity and downloads, 503
	KindInvalid              // bad user input, 400
	KindNotFound             // unknown source or entry, 404
	KindSystem               // privileged commands, 500
	KindConflict             // a run is already in flight, 409
	KindCanceled             // run cancelled by the caller, 409
	KindSpace                // destination partition full, 507
)

type Op string

type Error struct {
	Op      Op     // Where did it happen?
	Kind    Kind   // What category?
	Err     error  // Underlying cause (may be another *Error, wraps correctly)
	Message string // Safe to show to the user / frontend
}

func E(args ...any) error {
	e := &Error{}
	for _, arg := range args {
		switch v := arg.(type) {
		case Op:
			e.Op = v
		case Kind:
			e.Kind = v
		case *Error:
			cp := *v
			e.Err = &cp
		case error:
			e.Err = v
		case string:
			e.Message = v
		}
	}
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(string(e.Op))
	}
	if e.Message != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the outermost *Error in the chain that has one
// set, or KindOther.
func KindOf(err error) Kind {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind != KindOther {
			return e.Kind
		}
		err = e.Err
	}
	return KindOther
}

func HTTPResponse(w http.ResponseWriter, err error) {
	slog.Error("errs: request failed", "err", err)

	code := kindToStatus(KindOf(err))
	msg := "internal server error"

	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			msg = e.Message
		} else if code != http.StatusInternalServerError && e.Err != nil {
			msg = e.Err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func kindToStatus(k Kind) int {
	switch k {
	case KindInvalid:
		return http.StatusBadRequest // 400
	case KindNotFound:
		return http.StatusNotFound // 404
	case KindConflict, KindCanceled:
		return http.StatusConflict // 409
	case KindNetwork:
		return http.StatusServiceUnavailable // 503
	case KindSpace:
		return http.StatusInsufficientStorage // 507
	case KindIO, KindSystem, KindOther:
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError
	}
}
