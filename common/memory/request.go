package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sayooj2275/ecotrace/models"
)

var _ models.RequestRepository = &RequestStore{}
var _ models.ProfileRepository = &RequestStore{}

// RequestStore keeps requests, codes and profiles in process memory. Every conditional operation evaluates its
// condition and applies its mutation under one lock, which gives the same compare-and-set guarantee as the durable
// backends.
type RequestStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*models.PickupRequest
	codes    map[uuid.UUID]*models.VerificationCode
	profiles map[string]*models.Profile
}

func NewRequestStore() *RequestStore {
	return &RequestStore{
		requests: make(map[uuid.UUID]*models.PickupRequest),
		codes:    make(map[uuid.UUID]*models.VerificationCode),
		profiles: make(map[string]*models.Profile),
	}
}

// AddProfile seeds a profile. Profiles are owned by the identity service, so this exists for tests and local runs.
func (s *RequestStore) AddProfile(profile *models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := *profile
	s.profiles[p.Ref] = &p
}

func (s *RequestStore) PutProfile(_ context.Context, profile *models.Profile) error {
	s.AddProfile(profile)
	return nil
}

func (s *RequestStore) GetProfile(_ context.Context, ref string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, found := s.profiles[ref]; found {
		profile := *p
		return &profile, nil
	}
	return nil, models.ErrNotFound
}

func (s *RequestStore) CreateRequest(_ context.Context, req *models.PickupRequest, code *models.VerificationCode) error {
	if err := models.CheckInvariants(req); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.requests[req.Id]; found {
		return models.ErrInvalidTransition
	}
	c := *code
	s.requests[req.Id] = req.Clone()
	s.codes[req.Id] = &c
	return nil
}

func (s *RequestStore) GetRequest(_ context.Context, id uuid.UUID) (*models.PickupRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req, found := s.requests[id]; found {
		return req.Clone(), nil
	}
	return nil, models.ErrNotFound
}

func (s *RequestStore) ReadCode(_ context.Context, id uuid.UUID) (*models.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code, found := s.codes[id]; found {
		c := *code
		return &c, nil
	}
	return nil, models.ErrNotFound
}

func (s *RequestStore) ListOpen(_ context.Context, filter models.OpenFilter, now time.Time) ([]*models.PickupRequest, error) {
	reqs := s.collect(func(req *models.PickupRequest) bool {
		return models.IsClaimable(req, now) && (len(filter.Category) == 0 || req.Category == filter.Category)
	}, true)
	if filter.Limit > 0 && len(reqs) > filter.Limit {
		reqs = reqs[:filter.Limit]
	}
	return reqs, nil
}

func (s *RequestStore) ListExpired(_ context.Context, now time.Time, limit int) ([]*models.PickupRequest, error) {
	reqs := s.collect(func(req *models.PickupRequest) bool {
		return req.Status == models.RequestStatus_Open && models.IsPastExpiry(req, now)
	}, true)
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	return reqs, nil
}

func (s *RequestStore) ListByRequester(_ context.Context, requesterRef string) ([]*models.PickupRequest, error) {
	return s.collect(func(req *models.PickupRequest) bool {
		return req.RequesterRef == requesterRef
	}, false), nil
}

func (s *RequestStore) ListByAssignee(_ context.Context, handlerRef string) ([]*models.PickupRequest, error) {
	return s.collect(func(req *models.PickupRequest) bool {
		return req.AssigneeRef != nil && *req.AssigneeRef == handlerRef
	}, false), nil
}

func (s *RequestStore) SealedStats(_ context.Context, requesterRef string) (int, *float64, error) {
	sealed := s.collect(func(req *models.PickupRequest) bool {
		return req.RequesterRef == requesterRef && req.Status == models.RequestStatus_Sealed
	}, false)
	ratings := make([]int, 0, len(sealed))
	for _, req := range sealed {
		if req.QualityRating != nil {
			ratings = append(ratings, *req.QualityRating)
		}
	}
	return len(sealed), models.AverageRating(ratings), nil
}

func (s *RequestStore) ConditionalClaim(_ context.Context, id uuid.UUID, handlerRef string, now time.Time) (bool, error) {
	return s.update(id, models.LifecycleEvent_Claim, func(req *models.PickupRequest, _ *models.VerificationCode) bool {
		if !models.IsClaimable(req, now) {
			return false
		}
		ref := handlerRef
		req.AssigneeRef = &ref
		req.UpdatedAt = now
		return true
	})
}

func (s *RequestStore) ConditionalRelease(_ context.Context, id uuid.UUID, handlerRef string, now time.Time) (bool, error) {
	return s.update(id, models.LifecycleEvent_Release, func(req *models.PickupRequest, _ *models.VerificationCode) bool {
		if req.AssigneeRef == nil || *req.AssigneeRef != handlerRef {
			return false
		}
		req.AssigneeRef = nil
		req.UpdatedAt = now
		return true
	})
}

func (s *RequestStore) ConditionalSeal(_ context.Context, in models.SealInput) (bool, error) {
	return s.update(in.Id, models.LifecycleEvent_Seal, func(req *models.PickupRequest, code *models.VerificationCode) bool {
		if code == nil || code.Consumed || code.Code != in.Code {
			return false
		}
		if req.AssigneeRef == nil || *req.AssigneeRef != in.HandlerRef {
			return false
		}
		weight, rating, consumedAt := in.Weight, in.Rating, in.Now
		req.CollectedWeight = &weight
		req.QualityRating = &rating
		req.UpdatedAt = in.Now
		code.Consumed = true
		code.ConsumedAt = &consumedAt
		return true
	})
}

func (s *RequestStore) ConditionalExpire(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return s.update(id, models.LifecycleEvent_Expire, func(req *models.PickupRequest, _ *models.VerificationCode) bool {
		if !models.IsPastExpiry(req, now) {
			return false
		}
		req.UpdatedAt = now
		return true
	})
}

// update applies the mutation to copies of the request and code and only commits them if the lifecycle allows the
// event, the mutation's own condition holds, and the result still satisfies the request invariants.
func (s *RequestStore) update(id uuid.UUID, event models.LifecycleEvent, mutate func(*models.PickupRequest, *models.VerificationCode) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, found := s.requests[id]
	if !found {
		return false, nil
	}
	to, err := models.NextStatus(current.Status, event)
	if err != nil {
		return false, nil
	}
	next := current.Clone()
	var code *models.VerificationCode
	if c, found := s.codes[id]; found {
		cc := *c
		code = &cc
	}
	if !mutate(next, code) {
		return false, nil
	}
	next.Status = to
	if err = models.CheckInvariants(next); err != nil {
		return false, err
	}
	s.requests[id] = next
	if code != nil {
		s.codes[id] = code
	}
	return true, nil
}

func (s *RequestStore) collect(match func(*models.PickupRequest) bool, oldestFirst bool) []*models.PickupRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	reqs := make([]*models.PickupRequest, 0)
	for _, req := range s.requests {
		if match(req) {
			reqs = append(reqs, req.Clone())
		}
	}
	sort.Slice(reqs, func(i, j int) bool {
		if oldestFirst {
			return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
		}
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
	return reqs
}
