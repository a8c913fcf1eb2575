package pipeline

import (
	"errors"
	"fmt"

	"github.com/strct-org/strct-hosts/internal/errs"
	"github.com/strct-org/strct-hosts/internal/fetch"
	"github.com/strct-org/strct-hosts/internal/install"
)

// Reason classifies why a run did not complete.
type Reason string

const (
	NoConnection       Reason = "no_connection"
	StagingUnavailable Reason = "staging_unavailable"
	DownloadFailed     Reason = "download_failed"
	MergeFailed        Reason = "merge_failed"
	InsufficientSpace  Reason = "insufficient_space"
	InstallFailed      Reason = "install_failed"
	RevertFailed       Reason = "revert_failed"
	Cancelled          Reason = "cancelled"
	Busy               Reason = "busy"
	NoSources          Reason = "no_sources"
)

// Sentinels for errors.Is. Only the Reason is compared.
var (
	ErrNoConnection       = &Error{Reason: NoConnection}
	ErrStagingUnavailable = &Error{Reason: StagingUnavailable}
	ErrDownloadFailed     = &Error{Reason: DownloadFailed}
	ErrMergeFailed        = &Error{Reason: MergeFailed}
	ErrInsufficientSpace  = &Error{Reason: InsufficientSpace}
	ErrInstallFailed      = &Error{Reason: InstallFailed}
	ErrRevertFailed       = &Error{Reason: RevertFailed}
	ErrCancelled          = &Error{Reason: Cancelled}
	ErrBusy               = &Error{Reason: Busy}
	ErrNoSources          = &Error{Reason: NoSources}
)

// Error is the single failure type surfaced by a run. URL is set for
// DownloadFailed; Stage and Diagnostic for InstallFailed and RevertFailed.
type Error struct {
	Reason     Reason
	URL        string
	Stage      string
	Diagnostic string
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Reason)
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Stage != "" {
		msg += " at " + e.Stage
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

// ReasonOf returns the Reason carried by err, or "" when err did not come
// from a run.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// kind maps a Reason onto the error kinds used by the HTTP layer.
func (r Reason) kind() errs.Kind {
	switch r {
	case NoConnection, DownloadFailed:
		return errs.KindNetwork
	case Busy:
		return errs.KindConflict
	case Cancelled:
		return errs.KindCanceled
	case NoSources:
		return errs.KindInvalid
	case InsufficientSpace:
		return errs.KindSpace
	case StagingUnavailable, MergeFailed:
		return errs.KindIO
	default:
		return errs.KindSystem
	}
}

func fail(op errs.Op, e *Error) error {
	return errs.E(op, e.Reason.kind(), e)
}

func fetchFailure(err error) *Error {
	var dl *fetch.DownloadError
	switch {
	case errors.Is(err, fetch.ErrCanceled):
		return &Error{Reason: Cancelled, Err: err}
	case errors.Is(err, fetch.ErrNoConnection):
		return &Error{Reason: NoConnection, Err: err}
	case errors.Is(err, fetch.ErrStagingUnavailable):
		return &Error{Reason: StagingUnavailable, Err: err}
	case errors.As(err, &dl):
		return &Error{Reason: DownloadFailed, URL: dl.URL, Err: err}
	default:
		return &Error{Reason: DownloadFailed, Err: err}
	}
}

func installFailure(err error, reason Reason) *Error {
	if reason == InstallFailed && errors.Is(err, install.ErrInsufficientSpace) {
		return &Error{Reason: InsufficientSpace, Err: err}
	}
	e := &Error{Reason: reason, Err: err}
	var se *install.StageError
	if errors.As(err, &se) {
		e.Stage = se.Stage
		e.Diagnostic = se.Diagnostic
	}
	return e
}

func mergeFailure(format string, err error) *Error {
	return &Error{Reason: MergeFailed, Err: fmt.Errorf(format, err)}
}
