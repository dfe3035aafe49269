package models

import (
	"fmt"
	"time"
)

type LifecycleEvent string

const (
	LifecycleEvent_Create  LifecycleEvent = "create"
	LifecycleEvent_Claim   LifecycleEvent = "claim"
	LifecycleEvent_Release LifecycleEvent = "release"
	LifecycleEvent_Seal    LifecycleEvent = "seal"
	LifecycleEvent_Expire  LifecycleEvent = "expire"
)

// Creation has no source status, it is keyed by the empty status.
var transitions = map[RequestStatus]map[LifecycleEvent]RequestStatus{
	"": {
		LifecycleEvent_Create: RequestStatus_Open,
	},
	RequestStatus_Open: {
		LifecycleEvent_Claim:  RequestStatus_Claimed,
		LifecycleEvent_Expire: RequestStatus_Expired,
	},
	RequestStatus_Claimed: {
		LifecycleEvent_Release: RequestStatus_Open,
		LifecycleEvent_Seal:    RequestStatus_Sealed,
	},
}

func NextStatus(from RequestStatus, event LifecycleEvent) (RequestStatus, error) {
	if to, found := transitions[from][event]; found {
		return to, nil
	}
	return "", fmt.Errorf("%w: %s from %q", ErrInvalidTransition, event, from)
}

func IsTerminal(status RequestStatus) bool {
	return status == RequestStatus_Sealed || status == RequestStatus_Expired
}

// IsPastExpiry reports whether now is strictly after the request deadline. Requests without a deadline never expire.
func IsPastExpiry(req *PickupRequest, now time.Time) bool {
	return req.ExpiresAt != nil && now.After(*req.ExpiresAt)
}

// EffectiveStatus applies lazy expiry: an open request past its deadline is reported as expired even if the stored
// status has not been flipped yet.
func EffectiveStatus(req *PickupRequest, now time.Time) RequestStatus {
	if req.Status == RequestStatus_Open && IsPastExpiry(req, now) {
		return RequestStatus_Expired
	}
	return req.Status
}

// IsClaimable is the condition every store pushes into its atomic claim write.
func IsClaimable(req *PickupRequest, now time.Time) bool {
	return req.Status == RequestStatus_Open && req.AssigneeRef == nil && !IsPastExpiry(req, now)
}

func CheckInvariants(req *PickupRequest) error {
	if !req.Status.Valid() {
		return fmt.Errorf("request %s: unknown status %q", req.Id, req.Status)
	}
	assigned := req.Status == RequestStatus_Claimed || req.Status == RequestStatus_Verified || req.Status == RequestStatus_Sealed
	if (req.AssigneeRef != nil) != assigned {
		return fmt.Errorf("request %s: assignee presence does not match status %s", req.Id, req.Status)
	}
	sealed := req.Status == RequestStatus_Sealed
	if (req.CollectedWeight != nil) != sealed || (req.QualityRating != nil) != sealed {
		return fmt.Errorf("request %s: collection data presence does not match status %s", req.Id, req.Status)
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(req.CreatedAt) {
		return fmt.Errorf("request %s: expiry %s precedes creation %s", req.Id, req.ExpiresAt, req.CreatedAt)
	}
	return nil
}
