package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Sayooj2275/ecotrace/common/loggers"
	"github.com/Sayooj2275/ecotrace/common/memory"
	"github.com/Sayooj2275/ecotrace/models"
)

const (
	testRequester = "campus-north"
	testHandlerA  = "driver-a"
	testHandlerB  = "driver-b"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type FakePublisher struct {
	mu       sync.Mutex
	messages []models.RequestEventMessage
	fail     bool
}

func (f *FakePublisher) GetUrl() string {
	return "fake://events"
}

func (f *FakePublisher) SendMessage(_ context.Context, event any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("test error")
	}
	f.messages = append(f.messages, event.(models.RequestEventMessage))
	return "msgId", nil
}

func (f *FakePublisher) events() []models.LifecycleEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]models.LifecycleEvent, len(f.messages))
	for i, msg := range f.messages {
		events[i] = msg.Event
	}
	return events
}

type FakeMetricService struct {
	mu            sync.Mutex
	counts        map[models.MetricName]int
	distributions map[models.MetricName][]float64
}

func (f *FakeMetricService) Count(_ context.Context, name models.MetricName, val int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[models.MetricName]int)
	}
	f.counts[name] += val
	return nil
}

func (f *FakeMetricService) Distribution(_ context.Context, name models.MetricName, val float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.distributions == nil {
		f.distributions = make(map[models.MetricName][]float64)
	}
	f.distributions[name] = append(f.distributions[name], val)
	return nil
}

func (f *FakeMetricService) Shutdown(context.Context) {}

func (f *FakeMetricService) count(name models.MetricName) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[name]
}

type FakeNotifier struct {
	mu       sync.Mutex
	alerts   []string
	warnings []string
}

func (f *FakeNotifier) SendAlert(title, desc, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, desc)
	return nil
}

func (f *FakeNotifier) SendWarning(title, desc, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warnings = append(f.warnings, desc)
	return nil
}

func (f *FakeNotifier) numAlerts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func (f *FakeNotifier) numWarnings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.warnings)
}

// FlakyRequestRepository fails selected store calls, and can report claim writes as not applied without touching the
// store to simulate a competitor that claimed and released in between.
type FlakyRequestRepository struct {
	models.RequestRepository
	failClaim   bool
	failListing bool
	dropClaims  int
}

func (f *FlakyRequestRepository) ConditionalClaim(ctx context.Context, id uuid.UUID, handlerRef string, now time.Time) (bool, error) {
	if f.failClaim {
		return false, errors.New("connection reset")
	}
	if f.dropClaims > 0 {
		f.dropClaims--
		return false, nil
	}
	return f.RequestRepository.ConditionalClaim(ctx, id, handlerRef, now)
}

func (f *FlakyRequestRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.PickupRequest, error) {
	if f.failListing {
		return nil, errors.New("throttled")
	}
	return f.RequestRepository.ListExpired(ctx, now, limit)
}

type testEnv struct {
	store     *memory.RequestStore
	service   *PickupService
	publisher *FakePublisher
	metrics   *FakeMetricService
	notif     *FakeNotifier
	clock     *fakeClock
}

func newTestEnv(t *testing.T, wrap func(models.RequestRepository) models.RequestRepository) *testEnv {
	t.Helper()
	store := memory.NewRequestStore()
	store.AddProfile(&models.Profile{Ref: testRequester, Role: models.Role_Requester, DisplayName: "North Campus"})
	store.AddProfile(&models.Profile{Ref: testHandlerA, Role: models.Role_Handler, DisplayName: "Driver A"})
	store.AddProfile(&models.Profile{Ref: testHandlerB, Role: models.Role_Handler, DisplayName: "Driver B"})

	var requestDb models.RequestRepository = store
	if wrap != nil {
		requestDb = wrap(store)
	}
	env := &testEnv{
		store:     store,
		publisher: &FakePublisher{},
		metrics:   &FakeMetricService{},
		notif:     &FakeNotifier{},
		clock:     &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)},
	}
	env.service = NewPickupService(loggers.NewTestLogger(), requestDb, store, env.publisher, env.notif, env.metrics)
	env.service.now = env.clock.Now
	return env
}

func (e *testEnv) createRequest(t *testing.T, expiresIn *time.Duration) *models.PickupRequest {
	t.Helper()
	in := models.NewRequest{Category: "plastic", EstimatedWeight: 25, Description: "Two bins behind the cafeteria"}
	if expiresIn != nil {
		exp := e.clock.Now().Add(*expiresIn)
		in.ExpiresAt = &exp
	}
	req, err := e.service.Create(context.Background(), testRequester, in)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return req
}

func (e *testEnv) code(t *testing.T, id uuid.UUID) string {
	t.Helper()
	code, err := e.service.Code(context.Background(), id, testRequester)
	if err != nil {
		t.Fatalf("reading code failed: %v", err)
	}
	return code.Code
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
