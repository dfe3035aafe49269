package models

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// RequestRepository is the system of record for requests and their verification codes. Conditional operations return
// false with a nil error when their condition did not hold, and a non-nil error only for store failures.
type RequestRepository interface {
	CreateRequest(ctx context.Context, req *PickupRequest, code *VerificationCode) error
	GetRequest(ctx context.Context, id uuid.UUID) (*PickupRequest, error)
	ReadCode(ctx context.Context, id uuid.UUID) (*VerificationCode, error)
	ListOpen(ctx context.Context, filter OpenFilter, now time.Time) ([]*PickupRequest, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*PickupRequest, error)
	ListByRequester(ctx context.Context, requesterRef string) ([]*PickupRequest, error)
	ListByAssignee(ctx context.Context, handlerRef string) ([]*PickupRequest, error)
	SealedStats(ctx context.Context, requesterRef string) (int, *float64, error)
	ConditionalClaim(ctx context.Context, id uuid.UUID, handlerRef string, now time.Time) (bool, error)
	ConditionalRelease(ctx context.Context, id uuid.UUID, handlerRef string, now time.Time) (bool, error)
	ConditionalSeal(ctx context.Context, in SealInput) (bool, error)
	ConditionalExpire(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

type ProfileRepository interface {
	GetProfile(ctx context.Context, ref string) (*Profile, error)
}

type EvidenceStore interface {
	Put(ctx context.Context, contentType string, body io.Reader) (string, error)
}

type QueuePublisher interface {
	GetUrl() string
	SendMessage(ctx context.Context, event any) (string, error)
}

type Notifier interface {
	SendAlert(title, desc, content string) error
	SendWarning(title, desc, content string) error
}

type MetricService interface {
	Count(ctx context.Context, name MetricName, val int) error
	Distribution(ctx context.Context, name MetricName, val float64) error
	Shutdown(ctx context.Context)
}

type Logger interface {
	Debugf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Fatalf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Sync() error
}
