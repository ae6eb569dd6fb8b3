package services

import (
	"context"
	"log"
	"time"

	"crosscall-backend/internal/metrics"
	"crosscall-backend/internal/models"
	"crosscall-backend/internal/repository"
)

// ExpiryWatcher periodically flags open requests whose expiry plus the
// cancellation grace period has passed. It only marks and notifies; the
// refund itself always requires an explicit cancel from the requester, so
// an expired request stays claimable until then.
type ExpiryWatcher struct {
	repo          repository.RequestRepository
	push          *PushService
	cancelDelay   time.Duration
	checkInterval time.Duration
	running       bool
	stopCh        chan struct{}
}

func NewExpiryWatcher(repo repository.RequestRepository, push *PushService, cancelDelay, checkInterval time.Duration) *ExpiryWatcher {
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	return &ExpiryWatcher{
		repo:          repo,
		push:          push,
		cancelDelay:   cancelDelay,
		checkInterval: checkInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the check loop
func (w *ExpiryWatcher) Start() {
	if w.running {
		return
	}
	w.running = true

	log.Printf("🚀 Starting ExpiryWatcher (check interval: %v, cancel delay: %v)", w.checkInterval, w.cancelDelay)
	go w.checkLoop()
}

// Stop gracefully stops the check loop
func (w *ExpiryWatcher) Stop() {
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	log.Printf("🛑 ExpiryWatcher stopped")
}

func (w *ExpiryWatcher) checkLoop() {
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	w.checkExpiries()

	for {
		select {
		case <-ticker.C:
			w.checkExpiries()
		case <-w.stopCh:
			return
		}
	}
}

// checkExpiries flags every open request past expiry + cancelDelay.
func (w *ExpiryWatcher) checkExpiries() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-w.cancelDelay).Unix()
	candidates, err := w.repo.FindCancelCandidates(ctx, cutoff)
	if err != nil {
		log.Printf("⚠️ ExpiryWatcher query failed: %v", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	flagged := 0
	for _, row := range candidates {
		if err := w.repo.MarkCancelEligible(ctx, row.ID); err != nil {
			log.Printf("⚠️ Failed to flag %s cancel-eligible: %v", row.ID, err)
			continue
		}
		flagged++
		w.push.BroadcastStatusUpdate(RequestStatusUpdate{
			RequestID:      row.ID,
			Status:         string(models.RequestStatusRequested),
			CancelEligible: true,
		})
	}
	if flagged > 0 {
		metrics.RequestsFlaggedCancelEligible.Add(float64(flagged))
		log.Printf("⏰ Flagged %d request(s) cancel-eligible", flagged)
	}
}
