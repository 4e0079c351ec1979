package catalog

import (
	"sync"
	"time"
)

const defaultUndoWindow = 15 * time.Second

// undoSlot holds the single most recent delete batch. A new delete replaces
// whatever the slot held, and the batch becomes unrecoverable once the
// window elapses.
type undoSlot struct {
	mu        sync.Mutex
	batch     []Outfit
	expiresAt time.Time
	timer     *time.Timer
}

func newUndoSlot() *undoSlot {
	return &undoSlot{}
}

// hold parks a deleted batch for the given window, replacing any batch that
// was still recoverable.
func (u *undoSlot) hold(batch []Outfit, window time.Duration) {
	if u == nil || len(batch) == 0 {
		return
	}
	if window <= 0 {
		window = defaultUndoWindow
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.timer != nil {
		u.timer.Stop()
	}
	u.batch = batch
	u.expiresAt = time.Now().Add(window)
	u.timer = time.AfterFunc(window, u.expire)
}

// take removes and returns the held batch. It returns nil once the window
// has elapsed or the slot is empty, so a second undo is a no-op.
func (u *undoSlot) take() []Outfit {
	if u == nil {
		return nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.batch == nil || time.Now().After(u.expiresAt) {
		return nil
	}

	batch := u.batch
	u.batch = nil
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
	return batch
}

// pending reports how many records are still recoverable and until when.
func (u *undoSlot) pending() (int, time.Time) {
	if u == nil {
		return 0, time.Time{}
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.batch == nil || time.Now().After(u.expiresAt) {
		return 0, time.Time{}
	}
	return len(u.batch), u.expiresAt
}

// expire drops the batch once the window has passed. A hold that raced the
// timer pushes expiresAt into the future, which keeps the new batch alive.
func (u *undoSlot) expire() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.batch != nil && !time.Now().Before(u.expiresAt) {
		u.batch = nil
		u.timer = nil
	}
}
