package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sayooj2275/ecotrace/common"
	"github.com/Sayooj2275/ecotrace/models"
)

// ExpiryReaper periodically flips open requests past their deadline to expired. Claims evaluate expiry lazily, so the
// reaper only keeps stored statuses and listings tidy.
type ExpiryReaper struct {
	requestDb     models.RequestRepository
	pickupService *PickupService
	notif         models.Notifier
	logger        models.Logger
	tick          time.Duration
	batchSize     int
	now           func() time.Time
}

func NewExpiryReaper(logger models.Logger, requestDb models.RequestRepository, pickupService *PickupService, notif models.Notifier, tick time.Duration) *ExpiryReaper {
	if tick <= 0 {
		tick = common.DefaultReaperInterval
	}
	return &ExpiryReaper{
		requestDb:     requestDb,
		pickupService: pickupService,
		notif:         notif,
		logger:        logger,
		tick:          tick,
		batchSize:     common.DefaultReaperBatchSize,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (r ExpiryReaper) Run(ctx context.Context) {
	r.logger.Infof("reaper: started, interval=%s", r.tick)
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Errorf("reaper: sweep failed: %v", err)
			if r.notif != nil {
				if alertErr := r.notif.SendAlert(
					models.AlertTitle,
					models.AlertDesc_ReaperFailure,
					fmt.Sprintf(models.AlertFmt_ReaperFailure, err),
				); alertErr != nil {
					r.logger.Errorf("reaper: failed to send alert: %v", alertErr)
				}
			}
		}
		// Wait even after errors so that a failing store doesn't put us in a tight loop
		select {
		case <-ctx.Done():
			r.logger.Infof("reaper: stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep expires one batch of stale requests and returns how many it flipped. Requests claimed or expired by someone
// else between the listing and the write are skipped.
func (r ExpiryReaper) Sweep(ctx context.Context) (int, error) {
	stale, err := r.requestDb.ListExpired(ctx, r.now(), r.batchSize)
	if err != nil {
		return 0, err
	}
	numExpired := 0
	for _, req := range stale {
		if _, err = r.pickupService.Expire(ctx, req.Id); err != nil {
			if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrNotFound) {
				continue
			}
			return numExpired, err
		}
		numExpired++
	}
	if numExpired > 0 {
		r.logger.Infof("reaper: expired %d requests", numExpired)
	}
	return numExpired, nil
}
