package models

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyClaimed    = errors.New("already claimed")
	ErrExpired           = errors.New("expired")
	ErrCodeMismatch      = errors.New("code mismatch")
	ErrAlreadyConsumed   = errors.New("code already consumed")
	ErrNotClaimed        = errors.New("not claimed")
	ErrValidation        = errors.New("validation failed")
	ErrForbidden         = errors.New("forbidden")
)

const AlertTitle = "Ecotrace Error"
const WarningTitle = "Ecotrace Warning"

const (
	AlertDesc_ReaperFailure  = "Expiry reaper failure"
	AlertDesc_PublishFailure = "Lifecycle event not published"
)

const (
	AlertFmt_ReaperFailure  = "Failed to expire stale requests: %v"
	AlertFmt_PublishFailure = "Event %s for request %s: %v"
)
