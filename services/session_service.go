package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"invasion-viewer/metrics"
	"invasion-viewer/models"
	"invasion-viewer/session"

	"github.com/apex/log"
	"github.com/google/uuid"
)

const (
	snapshotRetention = 7 * 24 * time.Hour
	snapshotTimeout   = 5 * time.Second
)

// SnapshotStore persists restorable session state. *database.SnapshotService
// implements it.
type SnapshotStore interface {
	Save(ctx context.Context, snap *models.SessionSnapshot) error
	Load(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
	Delete(ctx context.Context, sessionID string) error
	Expire(ctx context.Context, before time.Time) (int64, error)
}

type SessionConfig struct {
	PollInterval    time.Duration
	MaxPollAttempts int
	TTL             time.Duration
	SweepInterval   time.Duration
}

// SessionService is the registry of open map sessions. Idle sessions are
// closed by a background sweeper; with a snapshot store they can be brought
// back later under the same id.
type SessionService struct {
	api       session.Backend
	cfg       SessionConfig
	notifier  session.Notifier
	snapshots SnapshotStore

	mu       sync.RWMutex
	sessions map[string]*session.Session

	// lastSaved is the last persisted state per session, to skip no-op writes.
	savedMu   sync.Mutex
	lastSaved map[string]string
	dirty     chan string

	// Control channels
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSessionService creates the registry. notifier receives every session
// event; snapshots may be nil.
func NewSessionService(api session.Backend, cfg SessionConfig, notifier session.Notifier, snapshots SnapshotStore) *SessionService {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &SessionService{
		api:       api,
		cfg:       cfg,
		notifier:  notifier,
		snapshots: snapshots,
		sessions:  make(map[string]*session.Session),
		lastSaved: make(map[string]string),
		dirty:     make(chan string, 256),
		stopChan:  make(chan struct{}),
	}
}

// Start starts the sweeper and, with a snapshot store, the snapshot writer.
func (s *SessionService) Start() {
	s.wg.Add(1)
	go s.sweepLoop()
	if s.snapshots != nil {
		s.wg.Add(1)
		go s.snapshotLoop()
	}
	log.Infof("Session service started (ttl %s, snapshots %v)", s.cfg.TTL, s.snapshots != nil)
}

// Stop closes every session and stops the background loops.
func (s *SessionService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()

	s.mu.Lock()
	open := make([]*session.Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		open = append(open, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range open {
		s.persist(sess)
		sess.Close()
		metrics.ActiveSessions.Dec()
	}
	log.Infof("Session service stopped, closed %d sessions", len(open))
}

// Create opens a new session.
func (s *SessionService) Create() *session.Session {
	sess, _ := s.open(uuid.NewString())
	log.Infof("Opened session %s", sess.ID)
	return sess
}

// Get returns an open session or restores it from its snapshot.
func (s *SessionService) Get(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		sess.Touch()
		return sess, nil
	}

	if _, err := uuid.Parse(id); err != nil || s.snapshots == nil {
		return nil, fmt.Errorf("%w: session %s", models.ErrNotFound, id)
	}

	snap, err := s.snapshots.Load(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %s", models.ErrNotFound, id)
		}
		return nil, err
	}

	sess, created := s.open(id)
	if !created {
		// A concurrent Get restored it first.
		sess.Touch()
		return sess, nil
	}
	if err := sess.Restore(ctx, snap.RegionID, snap.VisibleLayers); err != nil {
		// The region may be gone; the session still comes back, just empty.
		log.Warnf("Could not restore region %s for session %s: %v", snap.RegionID, id, err)
	} else {
		log.Infof("Restored session %s on region %s", id, snap.RegionID)
	}
	return sess, nil
}

// Close closes a session and forgets its snapshot.
func (s *SessionService) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: session %s", models.ErrNotFound, id)
	}

	sess.Close()
	metrics.ActiveSessions.Dec()
	s.forget(id)
	if s.snapshots != nil {
		if err := s.snapshots.Delete(ctx, id); err != nil {
			log.Warnf("Failed to delete snapshot of session %s: %v", id, err)
		}
	}
	log.Infof("Closed session %s", id)
	return nil
}

func (s *SessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// open returns the session registered under id, creating it if needed.
// created reports whether this call registered it.
func (s *SessionService) open(id string) (sess *session.Session, created bool) {
	s.mu.Lock()
	if existing, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		return existing, false
	}
	sess = session.New(id, s.api, session.Options{
		PollInterval:    s.cfg.PollInterval,
		MaxPollAttempts: s.cfg.MaxPollAttempts,
		Notifier:        session.Notifiers(s.notifier, session.NotifierFunc(s.markDirty)),
	})
	s.sessions[id] = sess
	s.mu.Unlock()
	metrics.ActiveSessions.Inc()
	return sess, true
}

// markDirty schedules a snapshot write after events that change the
// restorable state.
func (s *SessionService) markDirty(event models.Event) {
	if s.snapshots == nil {
		return
	}
	switch event.Type {
	case models.EventRegionCommitted, models.EventRegionCleared, models.EventLayersUpdated:
	default:
		return
	}
	select {
	case s.dirty <- event.SessionID:
	default:
		log.Warnf("Snapshot queue full, skipping session %s", event.SessionID)
	}
}

func (s *SessionService) snapshotLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChan:
			return
		case id := <-s.dirty:
			s.mu.RLock()
			sess, ok := s.sessions[id]
			s.mu.RUnlock()
			if ok {
				s.persist(sess)
			}
		}
	}
}

// persist saves the session's region and visible layers unless they are what
// was saved last.
func (s *SessionService) persist(sess *session.Session) {
	if s.snapshots == nil {
		return
	}
	snap := &models.SessionSnapshot{
		SessionID:     sess.ID,
		RegionID:      sess.Coordinator().RegionID(),
		VisibleLayers: sess.Layers().VisibleLayers(),
		UpdatedAt:     time.Now().UTC(),
	}
	state := snap.RegionID + "|" + strings.Join(snap.VisibleLayers, ",")

	s.savedMu.Lock()
	unchanged := s.lastSaved[sess.ID] == state
	s.savedMu.Unlock()
	if unchanged {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := s.snapshots.Save(ctx, snap); err != nil {
		log.Errorf("Failed to save snapshot of session %s: %v", sess.ID, err)
		return
	}
	s.savedMu.Lock()
	s.lastSaved[sess.ID] = state
	s.savedMu.Unlock()
}

func (s *SessionService) forget(id string) {
	s.savedMu.Lock()
	delete(s.lastSaved, id)
	s.savedMu.Unlock()
}

func (s *SessionService) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep closes sessions idle for longer than the TTL. Their snapshots stay so
// the browser can come back to them.
func (s *SessionService) sweep(now time.Time) {
	var expired []*session.Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if now.Sub(sess.LastAccess()) > s.cfg.TTL {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		s.persist(sess)
		sess.Close()
		s.forget(sess.ID)
		metrics.ActiveSessions.Dec()
		log.Infof("Expired idle session %s", sess.ID)
	}

	if s.snapshots != nil {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		if n, err := s.snapshots.Expire(ctx, now.Add(-snapshotRetention)); err != nil {
			log.Warnf("Failed to expire snapshots: %v", err)
		} else if n > 0 {
			log.Infof("Expired %d session snapshots", n)
		}
	}
}
