package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/rpm/internal/domain/alert"
	"github.com/ehr/rpm/internal/domain/visitrequest"
)

// VisitDedupKey is the action key shared by every visit suggestion for a
// patient. Pending requests suppress new ones regardless of rule.
const VisitDedupKey = "visit_request"

// Locker runs fn while holding an exclusive lock on key. The context passed
// to fn may carry a transaction that fn's reads and writes should use.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Gate answers whether an equivalent artifact is already active.
type Gate struct {
	alerts alert.Sink
	visits visitrequest.Sink
	now    func() time.Time
}

func NewGate(alerts alert.Sink, visits visitrequest.Sink) *Gate {
	return &Gate{alerts: alerts, visits: visits, now: time.Now}
}

// ShouldSuppress reports whether an active artifact with the same key was
// created for the patient within lookback.
func (g *Gate) ShouldSuppress(ctx context.Context, patientID uuid.UUID, key string, lookback time.Duration) (bool, error) {
	since := g.now().Add(-lookback)

	if key == VisitDedupKey {
		v, err := g.visits.FindPendingRequest(ctx, patientID, since)
		if err != nil {
			return false, fmt.Errorf("find pending visit request: %w", err)
		}
		return v != nil, nil
	}

	a, err := g.alerts.FindActiveAlert(ctx, patientID, key, since)
	if err != nil {
		return false, fmt.Errorf("find active alert: %w", err)
	}
	return a != nil, nil
}

func lockKey(patientID uuid.UUID, key string) string {
	return "dedup:" + patientID.String() + ":" + key
}

// KeyedMutex is an in-process Locker. It serialises callers per key and
// forgets keys nobody holds or waits on.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *KeyedMutex) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l := k.ref(key)
	defer k.unref(key)

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.ch }()

	return fn(ctx)
}

func (k *KeyedMutex) ref(key string) *keyedLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *KeyedMutex) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
