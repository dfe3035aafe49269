package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Sayooj2275/ecotrace/models"
)

func TestCreate(t *testing.T) {
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := map[string]struct {
		caller      string
		in          models.NewRequest
		expectedErr error
	}{
		"requester creates open request": {
			caller: testRequester,
			in:     models.NewRequest{Category: "e-waste", EstimatedWeight: 3.5},
		},
		"handler cannot create": {
			caller:      testHandlerA,
			in:          models.NewRequest{Category: "e-waste", EstimatedWeight: 3.5},
			expectedErr: models.ErrForbidden,
		},
		"unknown profile cannot create": {
			caller:      "stranger",
			in:          models.NewRequest{Category: "e-waste", EstimatedWeight: 3.5},
			expectedErr: models.ErrForbidden,
		},
		"missing category": {
			caller:      testRequester,
			in:          models.NewRequest{EstimatedWeight: 3.5},
			expectedErr: models.ErrValidation,
		},
		"negative weight": {
			caller:      testRequester,
			in:          models.NewRequest{Category: "glass", EstimatedWeight: -1},
			expectedErr: models.ErrValidation,
		},
		"deadline in the past": {
			caller:      testRequester,
			in:          models.NewRequest{Category: "glass", EstimatedWeight: 1, ExpiresAt: &past},
			expectedErr: models.ErrValidation,
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			req, err := env.service.Create(context.Background(), test.caller, test.in)
			if test.expectedErr != nil {
				if !errors.Is(err, test.expectedErr) {
					t.Fatalf("expected %v, got %v", test.expectedErr, err)
				}
				if len(env.publisher.events()) != 0 {
					t.Errorf("no event should have been published")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.Status != models.RequestStatus_Open || req.AssigneeRef != nil {
				t.Errorf("new request should be open and unassigned: %+v", req)
			}
			code, err := env.store.ReadCode(context.Background(), req.Id)
			if err != nil {
				t.Fatalf("code should have been stored with the request: %v", err)
			}
			if len(code.Code) != CodeLength || code.Consumed {
				t.Errorf("invalid code stored: %+v", code)
			}
			if events := env.publisher.events(); len(events) != 1 || events[0] != models.LifecycleEvent_Create {
				t.Errorf("expected a create event, found %v", events)
			}
		})
	}
}

func TestConcurrentClaims(t *testing.T) {
	env := newTestEnv(t, nil)
	const numHandlers = 25
	handlers := make([]string, numHandlers)
	for i := range handlers {
		handlers[i] = fmt.Sprintf("driver-%02d", i)
		env.store.AddProfile(&models.Profile{Ref: handlers[i], Role: models.Role_Handler})
	}
	req := env.createRequest(t, durationPtr(time.Hour))

	var wg sync.WaitGroup
	results := make([]error, numHandlers)
	wg.Add(numHandlers)
	for i, handler := range handlers {
		go func(i int, handler string) {
			defer wg.Done()
			_, results[i] = env.service.Claim(context.Background(), req.Id, handler)
		}(i, handler)
	}
	wg.Wait()

	numWon, numLost := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			numWon++
		case errors.Is(err, models.ErrAlreadyClaimed):
			numLost++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if numWon != 1 || numLost != numHandlers-1 {
		t.Errorf("expected 1 winner and %d losers, found %d and %d", numHandlers-1, numWon, numLost)
	}
	if lost := env.metrics.count(models.MetricName_ClaimLost); lost != numHandlers-1 {
		t.Errorf("lost claims should be counted: found=%d", lost)
	}
}

func TestVerificationFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.service.generateCode = func() (string, error) { return "004820", nil }
	req := env.createRequest(t, durationPtr(time.Hour))
	ctx := context.Background()

	// Sealing before a claim is a stale client view
	if _, err := env.service.Verify(ctx, req.Id, testHandlerA, models.Submission{Code: "004820", Weight: 20, Rating: 4}); !errors.Is(err, models.ErrNotClaimed) {
		t.Fatalf("expected not claimed, got %v", err)
	}
	if _, err := env.service.Claim(ctx, req.Id, testHandlerA); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// Wrong code: nothing changes and the handler can try again
	for i := 0; i < 3; i++ {
		if _, err := env.service.Verify(ctx, req.Id, testHandlerA, models.Submission{Code: "004821", Weight: 20, Rating: 4}); !errors.Is(err, models.ErrCodeMismatch) {
			t.Fatalf("expected code mismatch, got %v", err)
		}
	}
	assertState(t, env, req.Id, models.RequestStatus_Claimed, false)
	if mismatches := env.metrics.count(models.MetricName_CodeMismatch); mismatches != 3 {
		t.Errorf("mismatches should be counted: found=%d", mismatches)
	}

	// Out-of-range input is rejected before any write
	if _, err := env.service.Verify(ctx, req.Id, testHandlerA, models.Submission{Code: "004820", Weight: 20, Rating: 7}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := env.service.Verify(ctx, req.Id, testHandlerA, models.Submission{Code: "004820", Weight: -2, Rating: 3}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	assertState(t, env, req.Id, models.RequestStatus_Claimed, false)

	// Only the assignee can seal
	if _, err := env.service.Verify(ctx, req.Id, testHandlerB, models.Submission{Code: "004820", Weight: 20, Rating: 4}); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	// Surrounding whitespace is not part of the code
	sealed, err := env.service.Verify(ctx, req.Id, testHandlerA, models.Submission{Code: " 004820 ", Weight: 18.25, Rating: 5})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if sealed.Status != models.RequestStatus_Sealed || *sealed.CollectedWeight != 18.25 || *sealed.QualityRating != 5 {
		t.Errorf("request should be sealed with collection data: %+v", sealed)
	}
	assertState(t, env, req.Id, models.RequestStatus_Sealed, true)

	// Any later seal attempt reports the consumed code, whatever code is submitted
	for _, code := range []string{"004820", "000000"} {
		if _, err = env.service.Verify(ctx, req.Id, testHandlerA, models.Submission{Code: code, Weight: 1, Rating: 1}); !errors.Is(err, models.ErrAlreadyConsumed) {
			t.Errorf("expected already consumed for %s, got %v", code, err)
		}
	}
	// A sealed request is no longer releasable
	if _, err = env.service.Release(ctx, req.Id, testHandlerA); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}

	expectedEvents := []models.LifecycleEvent{models.LifecycleEvent_Create, models.LifecycleEvent_Claim, models.LifecycleEvent_Seal}
	if events := env.publisher.events(); fmt.Sprint(events) != fmt.Sprint(expectedEvents) {
		t.Errorf("wrong events: found=%v, expected=%v", events, expectedEvents)
	}
	if weights := env.metrics.distributions[models.MetricName_CollectedWeight]; len(weights) != 1 || weights[0] != 18.25 {
		t.Errorf("collected weight should be recorded once: %v", weights)
	}
}

func TestConcurrentSeals(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.createRequest(t, durationPtr(time.Hour))
	ctx := context.Background()
	if _, err := env.service.Claim(ctx, req.Id, testHandlerA); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	code := env.code(t, req.Id)

	const numSubmissions = 20
	var wg sync.WaitGroup
	results := make([]error, numSubmissions)
	wg.Add(numSubmissions)
	for i := 0; i < numSubmissions; i++ {
		go func(i int) {
			defer wg.Done()
			_, results[i] = env.service.Verify(ctx, req.Id, testHandlerA, models.Submission{Code: code, Weight: float64(i), Rating: 3})
		}(i)
	}
	wg.Wait()

	numSealed, numConsumed := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			numSealed++
		case errors.Is(err, models.ErrAlreadyConsumed):
			numConsumed++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if numSealed != 1 || numConsumed != numSubmissions-1 {
		t.Errorf("expected 1 seal and %d consumed, found %d and %d", numSubmissions-1, numSealed, numConsumed)
	}
	assertState(t, env, req.Id, models.RequestStatus_Sealed, true)
	if sealed := env.metrics.count(models.MetricName_RequestSealed); sealed != 1 {
		t.Errorf("seal should be counted once: found=%d", sealed)
	}
}

func TestBlankCode(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.createRequest(t, durationPtr(time.Hour))
	ctx := context.Background()
	if _, err := env.service.Claim(ctx, req.Id, testHandlerA); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// A blank code is a wrong code, not malformed input
	for _, blank := range []string{"", "   "} {
		if _, err := env.service.Verify(ctx, req.Id, testHandlerA, models.Submission{Code: blank, Weight: 20, Rating: 4}); !errors.Is(err, models.ErrCodeMismatch) {
			t.Errorf("expected code mismatch for %q, got %v", blank, err)
		}
	}
	assertState(t, env, req.Id, models.RequestStatus_Claimed, false)

	if _, err := env.service.Verify(ctx, req.Id, testHandlerA, models.Submission{Code: env.code(t, req.Id), Weight: 20, Rating: 4}); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if _, err := env.service.Verify(ctx, req.Id, testHandlerA, models.Submission{Code: "", Weight: 20, Rating: 4}); !errors.Is(err, models.ErrAlreadyConsumed) {
		t.Errorf("expected already consumed, got %v", err)
	}
}

func TestClaimStaleStoredRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	now := env.clock.Now()
	expiresAt := now.Add(-time.Second)
	req := &models.PickupRequest{
		Id:              uuid.New(),
		RequesterRef:    testRequester,
		Status:          models.RequestStatus_Open,
		Category:        "metal",
		EstimatedWeight: 12,
		CreatedAt:       now.Add(-time.Hour),
		UpdatedAt:       now.Add(-time.Hour),
		ExpiresAt:       &expiresAt,
	}
	if err := env.store.CreateRequest(ctx, req, &models.VerificationCode{RequestId: req.Id, Code: "123456", CreatedAt: req.CreatedAt}); err != nil {
		t.Fatalf("seeding request failed: %v", err)
	}

	if _, err := env.service.Claim(ctx, req.Id, testHandlerA); !errors.Is(err, models.ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	assertState(t, env, req.Id, models.RequestStatus_Open, false)
	if listings, _ := env.service.Marketplace(ctx, models.OpenFilter{}); len(listings) != 0 {
		t.Errorf("stale request should not be listed: %v", listings)
	}
}

func TestExpiredRequestsCannotBeClaimed(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.createRequest(t, durationPtr(time.Second))
	env.clock.Advance(2 * time.Second)

	for i := 0; i < 3; i++ {
		if _, err := env.service.Claim(context.Background(), req.Id, testHandlerA); !errors.Is(err, models.ErrExpired) {
			t.Fatalf("attempt %d: expected expired, got %v", i, err)
		}
	}
	listings, err := env.service.Marketplace(context.Background(), models.OpenFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listings) != 0 {
		t.Errorf("expired requests should not be listed: %v", listings)
	}

	// Flipping the stored status does not make it claimable either
	if _, err = env.service.Expire(context.Background(), req.Id); err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	if _, err = env.service.Claim(context.Background(), req.Id, testHandlerA); !errors.Is(err, models.ErrExpired) {
		t.Errorf("expected expired, got %v", err)
	}
}

func TestClaimAtDeadline(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.createRequest(t, durationPtr(time.Minute))
	env.clock.Advance(time.Minute)

	if _, err := env.service.Claim(context.Background(), req.Id, testHandlerA); err != nil {
		t.Errorf("a request is claimable up to and including its deadline: %v", err)
	}
}

func TestRelease(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.createRequest(t, nil)
	ctx := context.Background()

	if _, err := env.service.Release(ctx, req.Id, testHandlerA); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("releasing an open request should fail, got %v", err)
	}
	if _, err := env.service.Claim(ctx, req.Id, testHandlerA); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := env.service.Release(ctx, req.Id, testHandlerB); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("only the assignee may release, got %v", err)
	}
	assertState(t, env, req.Id, models.RequestStatus_Claimed, false)

	released, err := env.service.Release(ctx, req.Id, testHandlerA)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if released.Status != models.RequestStatus_Open || released.AssigneeRef != nil {
		t.Errorf("released request should be open and unassigned: %+v", released)
	}
	if _, err = env.service.Claim(ctx, req.Id, testHandlerB); err != nil {
		t.Errorf("released request should be claimable again: %v", err)
	}
}

func TestClaimOutcomes(t *testing.T) {
	tests := map[string]struct {
		wrap        func(models.RequestRepository) models.RequestRepository
		prepare     func(env *testEnv, id uuid.UUID)
		id          func(id uuid.UUID) uuid.UUID
		caller      string
		expectedErr error
		retries     int
	}{
		"repeated claim by the assignee is answered with the current state": {
			prepare: func(env *testEnv, id uuid.UUID) {
				env.service.Claim(context.Background(), id, testHandlerA)
			},
			caller: testHandlerA,
		},
		"claim of a request taken by someone else": {
			prepare: func(env *testEnv, id uuid.UUID) {
				env.service.Claim(context.Background(), id, testHandlerB)
			},
			caller:      testHandlerA,
			expectedErr: models.ErrAlreadyClaimed,
		},
		"claim of an unknown request": {
			id:          func(uuid.UUID) uuid.UUID { return uuid.New() },
			caller:      testHandlerA,
			expectedErr: models.ErrNotFound,
		},
		"requesters cannot claim": {
			caller:      testRequester,
			expectedErr: models.ErrForbidden,
		},
		"lost write on a still claimable request is retried once": {
			wrap: func(store models.RequestRepository) models.RequestRepository {
				return &FlakyRequestRepository{RequestRepository: store, dropClaims: 1}
			},
			caller:  testHandlerA,
			retries: 1,
		},
		"repeated lost writes are surfaced": {
			wrap: func(store models.RequestRepository) models.RequestRepository {
				return &FlakyRequestRepository{RequestRepository: store, dropClaims: 2}
			},
			caller:      testHandlerA,
			expectedErr: models.ErrInvalidTransition,
			retries:     1,
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, test.wrap)
			req := env.createRequest(t, nil)
			if test.prepare != nil {
				test.prepare(env, req.Id)
			}
			id := req.Id
			if test.id != nil {
				id = test.id(id)
			}
			_, err := env.service.Claim(context.Background(), id, test.caller)
			if test.expectedErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			} else if test.expectedErr != nil && !errors.Is(err, test.expectedErr) {
				t.Errorf("expected %v, got %v", test.expectedErr, err)
			}
			if retries := env.metrics.count(models.MetricName_TransitionRetry); retries != test.retries {
				t.Errorf("wrong number of retries: found=%d, expected=%d", retries, test.retries)
			}
		})
	}
}

func TestStoreFailureIsNotClassified(t *testing.T) {
	env := newTestEnv(t, func(store models.RequestRepository) models.RequestRepository {
		return &FlakyRequestRepository{RequestRepository: store, failClaim: true}
	})
	req := env.createRequest(t, nil)

	_, err := env.service.Claim(context.Background(), req.Id, testHandlerA)
	if err == nil {
		t.Fatalf("store failure should be returned")
	}
	for _, typed := range []error{models.ErrAlreadyClaimed, models.ErrExpired, models.ErrNotFound, models.ErrInvalidTransition} {
		if errors.Is(err, typed) {
			t.Errorf("transport failure should not look like %v", typed)
		}
	}
	assertState(t, env, req.Id, models.RequestStatus_Open, false)
}

func TestCodeVisibility(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.createRequest(t, nil)

	if code := env.code(t, req.Id); len(code) != CodeLength {
		t.Errorf("owner should see the code: %q", code)
	}
	if _, err := env.service.Code(context.Background(), req.Id, testHandlerA); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("handlers must not read the code, got %v", err)
	}
	if _, err := env.service.Code(context.Background(), uuid.New(), testRequester); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestMarketplaceAndHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	done := env.createRequest(t, nil)
	taken := env.createRequest(t, nil)
	env.clock.Advance(time.Minute)
	open := env.createRequest(t, durationPtr(time.Hour))
	env.store.AddProfile(&models.Profile{Ref: "campus-south", Role: models.Role_Requester})
	env.clock.Advance(time.Minute)
	other, err := env.service.Create(ctx, "campus-south", models.NewRequest{Category: "paper", EstimatedWeight: 4})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	env.service.Claim(ctx, done.Id, testHandlerA)
	if _, err = env.service.Verify(ctx, done.Id, testHandlerA, models.Submission{Code: env.code(t, done.Id), Weight: 22, Rating: 3}); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	env.service.Claim(ctx, taken.Id, testHandlerB)
	if _, err = env.service.Verify(ctx, taken.Id, testHandlerB, models.Submission{Code: env.code(t, taken.Id), Weight: 9, Rating: 4}); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	listings, err := env.service.Marketplace(ctx, models.OpenFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listings) != 2 || listings[0].Id != open.Id || listings[1].Id != other.Id {
		t.Fatalf("marketplace should list the two open requests oldest first: %v", listings)
	}
	if listings[0].CompletedPickups != 2 || listings[1].CompletedPickups != 0 {
		t.Errorf("wrong track record: %d, %d", listings[0].CompletedPickups, listings[1].CompletedPickups)
	}
	if avg := listings[0].AverageRating; avg == nil || *avg != 3.5 {
		t.Errorf("average rating should cover both sealed pickups: %v", avg)
	}
	if listings[1].AverageRating != nil {
		t.Errorf("a requester without sealed pickups has no rating yet: %v", *listings[1].AverageRating)
	}
	if listings, _ = env.service.Marketplace(ctx, models.OpenFilter{Category: "paper"}); len(listings) != 1 || listings[0].Id != other.Id {
		t.Errorf("category filter not applied: %v", listings)
	}

	history, err := env.service.History(ctx, testRequester)
	if err != nil || len(history) != 3 {
		t.Errorf("requester history should hold its three requests: %v, %v", history, err)
	}
	history, err = env.service.History(ctx, testHandlerA)
	if err != nil || len(history) != 1 || history[0].Id != done.Id {
		t.Errorf("handler history should hold the sealed request: %v, %v", history, err)
	}
	if _, err = env.service.History(ctx, "stranger"); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
}

func TestPublishFailureRaisesWarning(t *testing.T) {
	env := newTestEnv(t, nil)
	env.publisher.fail = true

	req := env.createRequest(t, nil)
	if req.Status != models.RequestStatus_Open {
		t.Fatalf("request should still be created")
	}
	if env.notif.numWarnings() != 1 || env.notif.numAlerts() != 0 {
		t.Errorf("expected one warning and no alerts, found %d and %d", env.notif.numWarnings(), env.notif.numAlerts())
	}
	if failed := env.metrics.count(models.MetricName_EventPublishFail); failed != 1 {
		t.Errorf("publish failures should be counted: found=%d", failed)
	}
}

func assertState(t *testing.T, env *testEnv, id uuid.UUID, status models.RequestStatus, consumed bool) {
	t.Helper()
	req, err := env.store.GetRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("reading request failed: %v", err)
	}
	if req.Status != status {
		t.Errorf("wrong status: found=%s, expected=%s", req.Status, status)
	}
	if err = models.CheckInvariants(req); err != nil {
		t.Errorf("invariant violated: %v", err)
	}
	code, err := env.store.ReadCode(context.Background(), id)
	if err != nil {
		t.Fatalf("reading code failed: %v", err)
	}
	if code.Consumed != consumed {
		t.Errorf("wrong consumed flag: found=%v, expected=%v", code.Consumed, consumed)
	}
}
