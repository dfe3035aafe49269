package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/google/uuid"

	"github.com/Sayooj2275/ecotrace/models"
)

const DefaultMarketplaceLimit = 50
const MaxMarketplaceLimit = 200

type PickupService struct {
	requestDb      models.RequestRepository
	profileDb      models.ProfileRepository
	eventPublisher models.QueuePublisher
	notif          models.Notifier
	metricService  models.MetricService
	logger         models.Logger
	validate       *validator.Validate
	generateCode   func() (string, error)
	now            func() time.Time
}

// NewPickupService wires the lifecycle operations. The event publisher and notifier are optional and may be nil.
func NewPickupService(
	logger models.Logger,
	requestDb models.RequestRepository,
	profileDb models.ProfileRepository,
	eventPublisher models.QueuePublisher,
	notif models.Notifier,
	metricService models.MetricService,
) *PickupService {
	return &PickupService{
		requestDb:      requestDb,
		profileDb:      profileDb,
		eventPublisher: eventPublisher,
		notif:          notif,
		metricService:  metricService,
		logger:         logger,
		validate:       validator.New(),
		generateCode:   GenerateCode,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (p *PickupService) Create(ctx context.Context, requesterRef string, in models.NewRequest) (*models.PickupRequest, error) {
	if _, err := p.requireRole(ctx, requesterRef, models.Role_Requester); err != nil {
		return nil, err
	}
	if err := p.validateInput(in); err != nil {
		return nil, err
	}
	now := p.now()
	if in.ExpiresAt != nil && in.ExpiresAt.Before(now) {
		return nil, fmt.Errorf("%w: expiresAt %s is in the past", models.ErrValidation, in.ExpiresAt.Format(time.RFC3339))
	}
	status, err := models.NextStatus("", models.LifecycleEvent_Create)
	if err != nil {
		return nil, err
	}
	code, err := p.generateCode()
	if err != nil {
		return nil, err
	}
	req := &models.PickupRequest{
		Id:              uuid.New(),
		RequesterRef:    requesterRef,
		Status:          status,
		Category:        strings.TrimSpace(in.Category),
		EstimatedWeight: in.EstimatedWeight,
		Description:     in.Description,
		EvidenceRef:     in.EvidenceRef,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       in.ExpiresAt,
	}
	if err = p.requestDb.CreateRequest(ctx, req, &models.VerificationCode{RequestId: req.Id, Code: code, CreatedAt: now}); err != nil {
		p.logger.Errorf("pickup: failed to create request for %s: %v", requesterRef, err)
		return nil, err
	}
	p.logger.Infof("pickup: created request %s for %s", req.Id, requesterRef)
	p.metricService.Count(ctx, models.MetricName_RequestCreated, 1)
	p.publish(ctx, req, models.LifecycleEvent_Create, requesterRef)
	return req, nil
}

// Get reads a request on behalf of any known participant.
func (p *PickupService) Get(ctx context.Context, id uuid.UUID, ref string) (*models.PickupRequest, error) {
	if _, err := p.profile(ctx, ref); err != nil {
		return nil, err
	}
	return p.requestDb.GetRequest(ctx, id)
}

// Code returns the verification code, but only to the requester that owns the request.
func (p *PickupService) Code(ctx context.Context, id uuid.UUID, requesterRef string) (*models.VerificationCode, error) {
	req, err := p.requestDb.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RequesterRef != requesterRef {
		return nil, fmt.Errorf("%w: request %s belongs to another requester", models.ErrForbidden, id)
	}
	return p.requestDb.ReadCode(ctx, id)
}

// Marketplace lists claimable requests, oldest first, along with each requester's track record: how many pickups were
// sealed and their average quality rating. The listing is a snapshot and claims made from it are arbitrated by the
// store, not by this read.
func (p *PickupService) Marketplace(ctx context.Context, filter models.OpenFilter) ([]*models.MarketListing, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultMarketplaceLimit
	} else if filter.Limit > MaxMarketplaceLimit {
		filter.Limit = MaxMarketplaceLimit
	}
	now := p.now()
	reqs, err := p.requestDb.ListOpen(ctx, filter, now)
	if err != nil {
		return nil, err
	}
	records := make(map[string]models.MarketListing)
	listings := make([]*models.MarketListing, 0, len(reqs))
	for _, req := range reqs {
		// Scans can be eventually consistent, so re-apply the claimability rule to what came back
		if !models.IsClaimable(req, now) {
			continue
		}
		record, found := records[req.RequesterRef]
		if !found {
			if record.CompletedPickups, record.AverageRating, err = p.requestDb.SealedStats(ctx, req.RequesterRef); err != nil {
				return nil, err
			}
			records[req.RequesterRef] = record
		}
		record.PickupRequest = req
		listings = append(listings, &record)
	}
	return listings, nil
}

// History returns the requests a participant created (requesters) or was assigned (handlers).
func (p *PickupService) History(ctx context.Context, ref string) ([]*models.PickupRequest, error) {
	profile, err := p.profile(ctx, ref)
	if err != nil {
		return nil, err
	}
	switch profile.Role {
	case models.Role_Requester:
		return p.requestDb.ListByRequester(ctx, ref)
	case models.Role_Handler:
		return p.requestDb.ListByAssignee(ctx, ref)
	}
	return nil, fmt.Errorf("%w: unknown role %q", models.ErrForbidden, profile.Role)
}

// Claim assigns an open request to a handler. Exclusivity comes from the store's conditional write, the reads here
// only explain why a write did not apply.
func (p *PickupService) Claim(ctx context.Context, id uuid.UUID, handlerRef string) (*models.PickupRequest, error) {
	if _, err := p.requireRole(ctx, handlerRef, models.Role_Handler); err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		now := p.now()
		won, err := p.requestDb.ConditionalClaim(ctx, id, handlerRef, now)
		if err != nil {
			p.logger.Errorf("pickup: claim of %s by %s failed: %v", id, handlerRef, err)
			return nil, err
		}
		req, err := p.requestDb.GetRequest(ctx, id)
		if err != nil {
			return nil, err
		}
		if won {
			p.logger.Infof("pickup: %s claimed by %s", id, handlerRef)
			p.metricService.Count(ctx, models.MetricName_RequestClaimed, 1)
			p.publish(ctx, req, models.LifecycleEvent_Claim, handlerRef)
			return req, nil
		}
		// A repeated claim by the current assignee is answered with the current state so that caller retries are safe
		if req.Status == models.RequestStatus_Claimed && req.AssigneeRef != nil && *req.AssigneeRef == handlerRef {
			return req, nil
		}
		if cause := claimFailure(req, now); cause != nil {
			if errors.Is(cause, models.ErrExpired) {
				p.metricService.Count(ctx, models.MetricName_ClaimExpired, 1)
			} else {
				p.metricService.Count(ctx, models.MetricName_ClaimLost, 1)
			}
			p.logger.Debugf("pickup: claim of %s by %s rejected: %v", id, handlerRef, cause)
			return nil, fmt.Errorf("%w: request %s", cause, id)
		}
		if attempt > 0 {
			return nil, fmt.Errorf("%w: claim of request %s did not apply after retry", models.ErrInvalidTransition, id)
		}
		p.metricService.Count(ctx, models.MetricName_TransitionRetry, 1)
	}
}

// Release hands a claimed request back to the marketplace. Only the current assignee may release it.
func (p *PickupService) Release(ctx context.Context, id uuid.UUID, handlerRef string) (*models.PickupRequest, error) {
	if _, err := p.requireRole(ctx, handlerRef, models.Role_Handler); err != nil {
		return nil, err
	}
	released, err := p.requestDb.ConditionalRelease(ctx, id, handlerRef, p.now())
	if err != nil {
		p.logger.Errorf("pickup: release of %s by %s failed: %v", id, handlerRef, err)
		return nil, err
	}
	req, err := p.requestDb.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !released {
		return nil, fmt.Errorf("%w: request %s is %s and not held by %s", models.ErrInvalidTransition, id, req.Status, handlerRef)
	}
	p.logger.Infof("pickup: %s released by %s", id, handlerRef)
	p.metricService.Count(ctx, models.MetricName_RequestReleased, 1)
	p.publish(ctx, req, models.LifecycleEvent_Release, handlerRef)
	return req, nil
}

// Verify checks the code the handler collected on site and, on a match, seals the request with the measured weight
// and quality rating. A mismatch leaves everything untouched and may be retried freely.
func (p *PickupService) Verify(ctx context.Context, id uuid.UUID, handlerRef string, sub models.Submission) (*models.PickupRequest, error) {
	if _, err := p.requireRole(ctx, handlerRef, models.Role_Handler); err != nil {
		return nil, err
	}
	sub.Code = NormalizeCode(sub.Code)
	if err := p.validateInput(sub); err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		sealed, err := p.requestDb.ConditionalSeal(ctx, models.SealInput{
			Id:         id,
			HandlerRef: handlerRef,
			Code:       sub.Code,
			Weight:     sub.Weight,
			Rating:     sub.Rating,
			Now:        p.now(),
		})
		if err != nil {
			p.logger.Errorf("pickup: seal of %s by %s failed: %v", id, handlerRef, err)
			return nil, err
		}
		req, err := p.requestDb.GetRequest(ctx, id)
		if err != nil {
			return nil, err
		}
		if sealed {
			p.logger.Infof("pickup: %s sealed by %s, weight=%.2f, rating=%d", id, handlerRef, sub.Weight, sub.Rating)
			p.metricService.Count(ctx, models.MetricName_RequestSealed, 1)
			p.metricService.Distribution(ctx, models.MetricName_CollectedWeight, sub.Weight)
			p.metricService.Distribution(ctx, models.MetricName_QualityRating, float64(sub.Rating))
			p.publish(ctx, req, models.LifecycleEvent_Seal, handlerRef)
			return req, nil
		}
		code, err := p.requestDb.ReadCode(ctx, id)
		if err != nil {
			return nil, err
		}
		if cause := sealFailure(req, code, handlerRef, sub.Code); cause != nil {
			if errors.Is(cause, models.ErrCodeMismatch) {
				p.metricService.Count(ctx, models.MetricName_CodeMismatch, 1)
				p.logger.Debugf("pickup: code mismatch on %s by %s", id, handlerRef)
			} else {
				p.metricService.Count(ctx, models.MetricName_StaleVerify, 1)
				p.logger.Infof("pickup: verify of %s by %s rejected: %v", id, handlerRef, cause)
			}
			return nil, fmt.Errorf("%w: request %s", cause, id)
		}
		if attempt > 0 {
			return nil, fmt.Errorf("%w: seal of request %s did not apply after retry", models.ErrInvalidTransition, id)
		}
		p.metricService.Count(ctx, models.MetricName_TransitionRetry, 1)
	}
}

// Expire flips an open request past its deadline to expired. Claims already treat such requests as expired, so this
// only makes the stored status catch up.
func (p *PickupService) Expire(ctx context.Context, id uuid.UUID) (*models.PickupRequest, error) {
	expired, err := p.requestDb.ConditionalExpire(ctx, id, p.now())
	if err != nil {
		return nil, err
	}
	req, err := p.requestDb.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !expired {
		return nil, fmt.Errorf("%w: request %s is %s", models.ErrInvalidTransition, id, req.Status)
	}
	p.metricService.Count(ctx, models.MetricName_RequestExpired, 1)
	p.publish(ctx, req, models.LifecycleEvent_Expire, "")
	return req, nil
}

func claimFailure(req *models.PickupRequest, now time.Time) error {
	switch models.EffectiveStatus(req, now) {
	case models.RequestStatus_Expired:
		return models.ErrExpired
	case models.RequestStatus_Claimed, models.RequestStatus_Verified, models.RequestStatus_Sealed:
		return models.ErrAlreadyClaimed
	case models.RequestStatus_Open:
		if req.AssigneeRef != nil {
			return models.ErrAlreadyClaimed
		}
		// Still claimable, so the state moved between the write and this read
		return nil
	}
	return models.ErrInvalidTransition
}

// sealFailure explains a seal that did not apply. A consumed code wins over every other cause so that repeated seals of
// a sealed request always report AlreadyConsumed.
func sealFailure(req *models.PickupRequest, code *models.VerificationCode, handlerRef, submitted string) error {
	switch {
	case code.Consumed:
		return models.ErrAlreadyConsumed
	case req.Status != models.RequestStatus_Claimed:
		return models.ErrNotClaimed
	case req.AssigneeRef == nil || *req.AssigneeRef != handlerRef:
		return models.ErrInvalidTransition
	case code.Code != submitted:
		return models.ErrCodeMismatch
	}
	return nil
}

func (p *PickupService) profile(ctx context.Context, ref string) (*models.Profile, error) {
	if len(ref) == 0 {
		return nil, fmt.Errorf("%w: missing profile reference", models.ErrForbidden)
	}
	profile, err := p.profileDb.GetProfile(ctx, ref)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown profile %s", models.ErrForbidden, ref)
	}
	return profile, err
}

func (p *PickupService) requireRole(ctx context.Context, ref string, role models.Role) (*models.Profile, error) {
	profile, err := p.profile(ctx, ref)
	if err != nil {
		return nil, err
	}
	if profile.Role != role {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s", models.ErrForbidden, ref, profile.Role, role)
	}
	return profile, nil
}

func (p *PickupService) validateInput(in any) error {
	if err := p.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			failed := make([]string, len(fieldErrs))
			for i, fieldErr := range fieldErrs {
				failed[i] = fmt.Sprintf("%s (%s%s)", fieldErr.Field(), fieldErr.Tag(), paramSuffix(fieldErr.Param()))
			}
			return fmt.Errorf("%w: %s", models.ErrValidation, strings.Join(failed, ", "))
		}
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	return nil
}

func paramSuffix(param string) string {
	if len(param) > 0 {
		return "=" + param
	}
	return ""
}

func (p *PickupService) publish(ctx context.Context, req *models.PickupRequest, event models.LifecycleEvent, actor string) {
	if p.eventPublisher == nil {
		return
	}
	msg := models.RequestEventMessage{
		Id:        req.Id,
		Event:     event,
		Status:    req.Status,
		Actor:     actor,
		Weight:    req.CollectedWeight,
		Rating:    req.QualityRating,
		Timestamp: req.UpdatedAt,
	}
	if _, err := p.eventPublisher.SendMessage(ctx, msg); err != nil {
		// The transition is already committed, so a lost event is reported rather than rolled back
		p.logger.Warnf("pickup: failed to publish %s event for %s: %v", event, req.Id, err)
		p.metricService.Count(ctx, models.MetricName_EventPublishFail, 1)
		if p.notif != nil {
			if alertErr := p.notif.SendWarning(
				models.WarningTitle,
				models.AlertDesc_PublishFailure,
				fmt.Sprintf(models.AlertFmt_PublishFailure, event, req.Id, err),
			); alertErr != nil {
				p.logger.Errorf("pickup: failed to send warning: %v", alertErr)
			}
		}
	}
}
