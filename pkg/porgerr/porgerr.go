// Package porgerr defines the error taxonomy shared by every porg component.
//
// Errors are plain sentinel values wrapped with context via fmt.Errorf's %w
// verb, so callers use errors.Is/errors.As instead of type switches.
package porgerr

import "errors"

var (
	ErrNotFound          = errors.New("not_found")
	ErrInvalidInput      = errors.New("invalid_input")
	ErrParse             = errors.New("parse_error")
	ErrCycleDetected      = errors.New("cycle_detected")
	ErrMissingRecipe     = errors.New("missing_recipe")
	ErrNoValidSource     = errors.New("no_valid_source")
	ErrChecksumMismatch  = errors.New("checksum_mismatch")
	ErrSignatureInvalid  = errors.New("signature_invalid")
	ErrExtractFailed     = errors.New("extract_failed")
	ErrPatchFailed       = errors.New("patch_failed")
	ErrHookFailed        = errors.New("hook_failed")
	ErrBuildFailed       = errors.New("build_failed")
	ErrInstallFailed     = errors.New("install_failed")
	ErrPackageFailed     = errors.New("package_failed")
	ErrSandboxUnavailable = errors.New("sandbox_unavailable")
	ErrDBLocked          = errors.New("db_locked")
	ErrDBCorrupt         = errors.New("db_corrupt")
	ErrIO                = errors.New("io_error")
	ErrPermissionDenied  = errors.New("permission_denied")
	ErrInterrupted       = errors.New("interrupted")
	ErrHasDependents     = errors.New("has_dependents")
	ErrInvalidPrefix     = errors.New("invalid_prefix")
)
