package domain

import "errors"

var (
	// ErrProviderUnavailable: the completion capability is unreachable or erroring.
	// Recovered by skipping the record.
	ErrProviderUnavailable = errors.New("completion provider unavailable")

	// ErrStorageUnavailable is fatal for the current invocation.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrMalformedJudgeOutput is recovered with documented defaults.
	ErrMalformedJudgeOutput = errors.New("malformed judge output")

	// ErrExportIO aborts an export without marking anything exported.
	ErrExportIO = errors.New("export artifact write failed")

	ErrNotFound = errors.New("not found")
)
