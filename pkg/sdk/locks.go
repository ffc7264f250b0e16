package sdk

import (
	"sync"
	"time"
)

// DefaultRenewalBudget is how many automatic renewals a session performs
// before it gives the lease back. At the default 30 second lease that is
// roughly fifteen minutes of an editor left open with no activity.
const DefaultRenewalBudget = 30

// scheduler drives periodic renewal. Tick is exposed so tests can drive
// renewals manually instead of waiting for the timer.
type scheduler struct {
	interval time.Duration
	tick     func()

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

func newScheduler(interval time.Duration, tick func()) *scheduler {
	return &scheduler{interval: interval, tick: tick}
}

func (s *scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.tick()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
}

type lockKey struct {
	assetID string
	fieldID string
}

// FieldLockSession tracks the value locks one editor holds across an open
// form and keeps them renewed. The held set is a cache; the server decides
// every conflict.
type FieldLockSession struct {
	client LockClient

	mu       sync.Mutex
	held     map[lockKey]struct{}
	renewals int
	budget   int

	sched *scheduler
}

// NewFieldLockSession creates a session renewing every interval. A zero or
// negative budget gets DefaultRenewalBudget.
func NewFieldLockSession(client LockClient, interval time.Duration, budget int) *FieldLockSession {
	if budget <= 0 {
		budget = DefaultRenewalBudget
	}
	s := &FieldLockSession{
		client: client,
		held:   make(map[lockKey]struct{}),
		budget: budget,
	}
	s.sched = newScheduler(interval, s.Tick)
	return s
}

// Start begins background renewal.
func (s *FieldLockSession) Start() { s.sched.Start() }

// Acquire takes the lock for one value. Already-held locks answer locally
// without a round trip.
func (s *FieldLockSession) Acquire(assetID, fieldID string) (LockResult, error) {
	k := lockKey{assetID, fieldID}
	s.mu.Lock()
	if _, ok := s.held[k]; ok {
		s.mu.Unlock()
		return LockResult{Granted: true}, nil
	}
	s.mu.Unlock()

	res, err := s.client.AcquireFieldLock(assetID, fieldID)
	if err != nil {
		return res, err
	}
	if res.Granted {
		s.mu.Lock()
		s.held[k] = struct{}{}
		s.mu.Unlock()
	}
	return res, nil
}

// Release gives one lock back.
func (s *FieldLockSession) Release(assetID, fieldID string) (LockResult, error) {
	k := lockKey{assetID, fieldID}
	s.mu.Lock()
	delete(s.held, k)
	s.mu.Unlock()
	return s.client.ReleaseFieldLock(assetID, fieldID)
}

// Held reports whether this session believes it holds the lock.
func (s *FieldLockSession) Held(assetID, fieldID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.held[lockKey{assetID, fieldID}]
	return ok
}

// HeldCount returns how many locks the session currently tracks.
func (s *FieldLockSession) HeldCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

// Touch resets the renewal budget. Call it on user activity so an editor
// being actively used never loses its locks.
func (s *FieldLockSession) Touch() {
	s.mu.Lock()
	s.renewals = 0
	s.mu.Unlock()
}

// Tick renews every held lock once, in parallel. A renewal the server does
// not grant drops that lock from the held set. When the renewal budget is
// spent the whole session releases its locks instead of renewing.
func (s *FieldLockSession) Tick() {
	s.mu.Lock()
	if s.renewals >= s.budget {
		keys := make([]lockKey, 0, len(s.held))
		for k := range s.held {
			keys = append(keys, k)
		}
		s.held = make(map[lockKey]struct{})
		// A fresh acquire after this starts a new interaction with a full
		// budget.
		s.renewals = 0
		s.mu.Unlock()
		for _, k := range keys {
			s.client.ReleaseFieldLock(k.assetID, k.fieldID)
		}
		return
	}
	s.renewals++
	keys := make([]lockKey, 0, len(s.held))
	for k := range s.held {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k lockKey) {
			defer wg.Done()
			res, err := s.client.RenewFieldLock(k.assetID, k.fieldID)
			if err != nil || !res.Granted {
				s.mu.Lock()
				delete(s.held, k)
				s.mu.Unlock()
			}
		}(k)
	}
	wg.Wait()
}

// Close stops renewal and releases everything held. Best effort: the server
// expires anything we fail to reach.
func (s *FieldLockSession) Close() {
	s.sched.Stop()
	s.mu.Lock()
	keys := make([]lockKey, 0, len(s.held))
	for k := range s.held {
		keys = append(keys, k)
	}
	s.held = make(map[lockKey]struct{})
	s.mu.Unlock()
	for _, k := range keys {
		s.client.ReleaseFieldLock(k.assetID, k.fieldID)
	}
}

// RecordLockSession holds at most one field definition lock. Opening a
// different definition for editing hands the old lock back first.
type RecordLockSession struct {
	client LockClient

	mu       sync.Mutex
	held     string
	renewals int
	budget   int

	sched *scheduler
}

// NewRecordLockSession creates a session renewing every interval.
func NewRecordLockSession(client LockClient, interval time.Duration, budget int) *RecordLockSession {
	if budget <= 0 {
		budget = DefaultRenewalBudget
	}
	s := &RecordLockSession{client: client, budget: budget}
	s.sched = newScheduler(interval, s.Tick)
	return s
}

// Start begins background renewal.
func (s *RecordLockSession) Start() { s.sched.Start() }

// Acquire takes the definition lock for fieldID, releasing any previously
// held definition first.
func (s *RecordLockSession) Acquire(fieldID string) (LockResult, error) {
	s.mu.Lock()
	prev := s.held
	s.mu.Unlock()

	if prev == fieldID && prev != "" {
		return LockResult{Granted: true}, nil
	}
	if prev != "" {
		s.client.ReleaseRecordLock(prev)
		s.mu.Lock()
		s.held = ""
		s.mu.Unlock()
	}

	res, err := s.client.AcquireRecordLock(fieldID)
	if err != nil {
		return res, err
	}
	if res.Granted {
		s.mu.Lock()
		s.held = fieldID
		s.mu.Unlock()
	}
	return res, nil
}

// Release gives the held lock back, if any.
func (s *RecordLockSession) Release() (LockResult, error) {
	s.mu.Lock()
	prev := s.held
	s.held = ""
	s.mu.Unlock()
	if prev == "" {
		return LockResult{Granted: true}, nil
	}
	return s.client.ReleaseRecordLock(prev)
}

// Held returns the field ID this session believes it has locked, or "".
func (s *RecordLockSession) Held() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Touch resets the renewal budget.
func (s *RecordLockSession) Touch() {
	s.mu.Lock()
	s.renewals = 0
	s.mu.Unlock()
}

// Tick renews the held lock once, dropping it if the server refuses or the
// budget is spent.
func (s *RecordLockSession) Tick() {
	s.mu.Lock()
	prev := s.held
	if prev == "" {
		s.mu.Unlock()
		return
	}
	if s.renewals >= s.budget {
		s.held = ""
		s.renewals = 0
		s.mu.Unlock()
		s.client.ReleaseRecordLock(prev)
		return
	}
	s.renewals++
	s.mu.Unlock()

	res, err := s.client.RenewRecordLock(prev)
	if err != nil || !res.Granted {
		s.mu.Lock()
		if s.held == prev {
			s.held = ""
		}
		s.mu.Unlock()
	}
}

// Close stops renewal and releases the held lock.
func (s *RecordLockSession) Close() {
	s.sched.Stop()
	s.Release()
}
