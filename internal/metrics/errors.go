package metrics

import "codeberg.org/mutker/domwatch/internal/errors"

const (
	ErrRegister = errors.ErrorCode("metrics_register_failed")
	ErrServe    = errors.ErrorCode("metrics_serve_failed")
)
