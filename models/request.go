package models

import (
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestStatus_Open     RequestStatus = "open"
	RequestStatus_Claimed  RequestStatus = "claimed"
	RequestStatus_Verified RequestStatus = "verified" // never persisted, sealing moves claimed straight to sealed
	RequestStatus_Sealed   RequestStatus = "sealed"
	RequestStatus_Expired  RequestStatus = "expired"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatus_Open, RequestStatus_Claimed, RequestStatus_Verified, RequestStatus_Sealed, RequestStatus_Expired:
		return true
	}
	return false
}

type PickupRequest struct {
	Id              uuid.UUID     `json:"id"`
	RequesterRef    string        `json:"requesterRef"`
	AssigneeRef     *string       `json:"assigneeRef,omitempty"`
	Status          RequestStatus `json:"status"`
	Category        string        `json:"category"`
	EstimatedWeight float64       `json:"estimatedWeight"`
	CollectedWeight *float64      `json:"collectedWeight,omitempty"`
	Description     string        `json:"description,omitempty"`
	EvidenceRef     *string       `json:"evidenceRef,omitempty"`
	QualityRating   *int          `json:"qualityRating,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	ExpiresAt       *time.Time    `json:"expiresAt,omitempty"`
}

// Clone returns a deep copy so that callers never share pointer fields with a store.
func (r *PickupRequest) Clone() *PickupRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.AssigneeRef != nil {
		v := *r.AssigneeRef
		c.AssigneeRef = &v
	}
	if r.CollectedWeight != nil {
		v := *r.CollectedWeight
		c.CollectedWeight = &v
	}
	if r.EvidenceRef != nil {
		v := *r.EvidenceRef
		c.EvidenceRef = &v
	}
	if r.QualityRating != nil {
		v := *r.QualityRating
		c.QualityRating = &v
	}
	if r.ExpiresAt != nil {
		v := *r.ExpiresAt
		c.ExpiresAt = &v
	}
	return &c
}

type VerificationCode struct {
	RequestId  uuid.UUID  `json:"requestId"`
	Code       string     `json:"code"`
	Consumed   bool       `json:"consumed"`
	CreatedAt  time.Time  `json:"createdAt"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
}

type Role string

const (
	Role_Requester Role = "requester"
	Role_Handler   Role = "handler"
)

func (r Role) Valid() bool {
	return r == Role_Requester || r == Role_Handler
}

type Profile struct {
	Ref          string `json:"ref"`
	Role         Role   `json:"role"`
	DisplayName  string `json:"displayName"`
	Organization string `json:"organization,omitempty"`
	City         string `json:"city,omitempty"`
	Contact      string `json:"contact,omitempty"`
}

// NewRequest is the requester-supplied part of a pickup request.
type NewRequest struct {
	Category        string     `json:"category" validate:"required,max=64"`
	EstimatedWeight float64    `json:"estimatedWeight" validate:"gte=0"`
	Description     string     `json:"description" validate:"max=2000"`
	EvidenceRef     *string    `json:"evidenceRef,omitempty" validate:"omitempty,min=1"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
}

// Submission is what a handler enters at the point of pickup.
type Submission struct {
	Code   string  `json:"code"`
	Weight float64 `json:"weight" validate:"gte=0"`
	Rating int     `json:"rating" validate:"min=1,max=5"`
}

type SealInput struct {
	Id         uuid.UUID
	HandlerRef string
	Code       string
	Weight     float64
	Rating     int
	Now        time.Time
}

type OpenFilter struct {
	Category string
	Limit    int
}

// MarketListing is an open request plus its requester's track record. AverageRating is nil for requesters with no
// sealed pickups yet.
type MarketListing struct {
	*PickupRequest
	CompletedPickups int      `json:"completedPickups"`
	AverageRating    *float64 `json:"averageRating,omitempty"`
}

func AverageRating(ratings []int) *float64 {
	if len(ratings) == 0 {
		return nil
	}
	sum := 0
	for _, rating := range ratings {
		sum += rating
	}
	avg := float64(sum) / float64(len(ratings))
	return &avg
}
