package v1

import "errors"

var (
	ErrActionCtx   = errors.New("action missing in context")
	ErrReqsCtx     = errors.New("requirements missing in context")
	ErrContentType = errors.New("Content-Type must be application/json")
)
