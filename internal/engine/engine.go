// Package engine polls the configured media servers, drives every playback
// session through its lifecycle, and distills terminated sessions into watch
// history.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"opsdec/internal/media"
	"opsdec/internal/models"
	"opsdec/internal/store"
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultAdapterTimeout = 10 * time.Second

	// maxConcurrentFetches caps parallel outbound polls across servers.
	maxConcurrentFetches = 8
)

// Broadcaster receives the live-session snapshot once per cycle.
type Broadcaster interface {
	Broadcast(sessions []models.ActiveSession)
}

// GeoResolver enriches sessions with location data. May return nil for
// unresolvable addresses.
type GeoResolver interface {
	LookupString(addr string) *models.GeoResult
}

type Engine struct {
	store          *store.Store
	interval       time.Duration
	adapterTimeout time.Duration
	broadcaster    Broadcaster
	geo            GeoResolver
	now            func() time.Time

	mu       sync.RWMutex
	adapters map[int64]serverAdapter

	startOnce   sync.Once
	cancel      context.CancelFunc
	done        chan struct{}
	triggerPoll chan struct{}
}

type serverAdapter struct {
	server  models.Server
	adapter media.Adapter
}

type Option func(*Engine)

func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

func WithAdapterTimeout(d time.Duration) Option {
	return func(e *Engine) { e.adapterTimeout = d }
}

func WithBroadcaster(b Broadcaster) Option {
	return func(e *Engine) { e.broadcaster = b }
}

func WithGeoResolver(r GeoResolver) Option {
	return func(e *Engine) { e.geo = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(st *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		interval:       DefaultInterval,
		adapterTimeout: DefaultAdapterTimeout,
		now:            time.Now,
		adapters:       make(map[int64]serverAdapter),
		triggerPoll:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// AddServer registers (or replaces) the adapter for one server.
func (e *Engine) AddServer(srv models.Server) error {
	adapter, err := media.New(srv)
	if err != nil {
		return err
	}
	e.addAdapter(srv, adapter)
	return nil
}

func (e *Engine) addAdapter(srv models.Server, a media.Adapter) {
	e.mu.Lock()
	e.adapters[srv.ID] = serverAdapter{server: srv, adapter: a}
	e.mu.Unlock()
}

func (e *Engine) RemoveServer(id int64) {
	e.mu.Lock()
	delete(e.adapters, id)
	e.mu.Unlock()
}

// GetAdapter returns the adapter registered for a server, used for ad-hoc
// connection tests.
func (e *Engine) GetAdapter(id int64) (media.Adapter, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sa, ok := e.adapters[id]
	return sa.adapter, ok
}

// Reload replaces the adapter set with every enabled server in the store.
func (e *Engine) Reload() error {
	servers, err := e.store.ListServers()
	if err != nil {
		return err
	}
	adapters := make(map[int64]serverAdapter, len(servers))
	for _, srv := range servers {
		if !srv.Enabled {
			continue
		}
		adapter, err := media.New(srv)
		if err != nil {
			log.Printf("engine: skipping server %s: %v", srv.Name, err)
			continue
		}
		adapters[srv.ID] = serverAdapter{server: srv, adapter: adapter}
	}
	e.mu.Lock()
	e.adapters = adapters
	e.mu.Unlock()
	return nil
}

func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		ctx, e.cancel = context.WithCancel(ctx)
		e.done = make(chan struct{})
		go e.run(ctx)
	})
}

func (e *Engine) Stop() {
	if e.cancel != nil && e.done != nil {
		e.cancel()
		<-e.done
	}
}

// TriggerPoll requests an immediate cycle outside the ticker cadence.
func (e *Engine) TriggerPoll() {
	select {
	case e.triggerPoll <- struct{}{}:
	default:
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.poll(ctx)
		case <-e.triggerPoll:
			e.poll(ctx)
		}
	}
}

// fetchResult pins the server identity observed at fetch time, so a Reload or
// RemoveServer racing the cycle cannot change which server a snapshot
// reconciles against.
type fetchResult struct {
	server   models.Server
	sessions []models.UpstreamSession
}

// poll runs one full cycle: concurrent fetch, transactional reconciliation,
// snapshot broadcast.
func (e *Engine) poll(ctx context.Context) {
	e.mu.RLock()
	adapters := make([]serverAdapter, 0, len(e.adapters))
	for _, sa := range e.adapters {
		adapters = append(adapters, sa)
	}
	e.mu.RUnlock()

	var resMu sync.Mutex
	results := make([]fetchResult, 0, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for _, sa := range adapters {
		sa := sa
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, e.adapterTimeout)
			defer cancel()
			sessions, err := sa.adapter.GetSessions(fetchCtx)
			if err != nil {
				// No new information for this server; its persisted
				// sessions must not be terminated on absence.
				log.Printf("engine: polling %s: %v", sa.server.Name, err)
				return nil
			}
			resMu.Lock()
			results = append(results, fetchResult{server: sa.server, sessions: sessions})
			resMu.Unlock()
			return nil
		})
	}
	g.Wait()

	now := e.now().UTC().Unix()
	err := e.store.WithTx(func(tx *store.Tx) error {
		for _, res := range results {
			if err := e.reconcileServer(tx, res.server, res.sessions, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("engine: reconciliation failed: %v", err)
		return
	}

	if e.broadcaster != nil {
		snapshot, err := e.CurrentSessions()
		if err != nil {
			log.Printf("engine: loading snapshot: %v", err)
			return
		}
		e.broadcaster.Broadcast(snapshot)
	}
}

// reconcileServer applies one successful snapshot for one server: upserts the
// observed sessions and terminates the persisted ones the snapshot omits.
func (e *Engine) reconcileServer(tx *store.Tx, srv models.Server, upstream []models.UpstreamSession, now int64) error {
	existing, err := tx.ActiveSessions(srv.ID)
	if err != nil {
		return err
	}
	byKey := make(map[string]*models.Session, len(existing))
	for i := range existing {
		byKey[existing[i].SessionKey] = &existing[i]
	}

	seen := make(map[string]struct{}, len(upstream))
	for _, up := range upstream {
		seen[up.SessionKey] = struct{}{}

		if err := tx.TouchMediaUser(srv.Kind, up.UserName, "", now); err != nil {
			return err
		}

		prior, ok := byKey[up.SessionKey]
		if !ok {
			if up.State == models.StateStopped {
				continue
			}
			if err := e.insertSession(tx, srv, up, now); err != nil {
				return err
			}
			continue
		}
		if err := e.updateSession(tx, srv, prior, up, now); err != nil {
			return err
		}
	}

	// A successful snapshot that omits a session is a stop. Absence under
	// adapter failure never reaches this point.
	for key, prior := range byKey {
		if _, ok := seen[key]; ok {
			continue
		}
		if err := e.terminate(tx, srv, prior, prior.State, now); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) insertSession(tx *store.Tx, srv models.Server, up models.UpstreamSession, now int64) error {
	sess := &models.Session{
		ServerID:         srv.ID,
		SessionKey:       up.SessionKey,
		UserName:         up.UserName,
		MediaKind:        up.MediaKind,
		MediaID:          up.MediaID,
		Title:            up.Title,
		ParentTitle:      up.ParentTitle,
		GrandparentTitle: up.GrandparentTitle,
		SeasonNumber:     up.SeasonNumber,
		EpisodeNumber:    up.EpisodeNumber,
		Year:             up.Year,
		ThumbURL:         up.ThumbURL,
		State:            up.State,
		ProgressPercent:  up.ProgressPercent,
		CurrentTime:      up.CurrentTime,
		Duration:         up.Duration,
		StartedAt:        now,
		UpdatedAt:        now,
		IPAddress:        up.IPAddress,
	}
	if up.State == models.StatePlaying {
		lpu := now
		sess.LastPositionUpdate = &lpu
	}
	if e.geo != nil {
		if geo := e.geo.LookupString(up.IPAddress); geo != nil {
			sess.GeoCity = geo.City
			sess.GeoCountry = geo.Country
			sess.GeoLat = geo.Lat
			sess.GeoLng = geo.Lng
		}
	}
	return tx.InsertSession(sess)
}

func (e *Engine) updateSession(tx *store.Tx, srv models.Server, prior *models.Session, up models.UpstreamSession, now int64) error {
	sess := *prior

	if prior.State == models.StatePlaying && up.State == models.StatePlaying && prior.LastPositionUpdate != nil {
		sess.PlaybackTime += now - *prior.LastPositionUpdate
	}
	if prior.State == models.StatePlaying && up.State == models.StatePaused {
		sess.PausedCounter++
	}
	if up.State == models.StatePlaying && up.CurrentTime != prior.CurrentTime {
		lpu := now
		sess.LastPositionUpdate = &lpu
	}
	// Pauses do not bump updated_at, so a long pause reads as stale.
	if up.State != models.StatePaused {
		sess.UpdatedAt = now
	}

	sess.State = up.State
	sess.ProgressPercent = up.ProgressPercent
	sess.CurrentTime = up.CurrentTime
	sess.Duration = up.Duration
	if up.ThumbURL != "" {
		sess.ThumbURL = up.ThumbURL
	}

	if up.State == models.StateStopped {
		return e.terminate(tx, srv, &sess, prior.State, now)
	}
	return tx.UpdateSession(&sess)
}

// terminate stops the session and writes a history record when the recording
// policy allows it. lastState is the state observed before the stop.
func (e *Engine) terminate(tx *store.Tx, srv models.Server, sess *models.Session, lastState models.SessionState, now int64) error {
	if err := tx.UpdateSession(sess); err != nil {
		return err
	}
	if err := tx.StopSession(sess.ID, now); err != nil {
		return err
	}

	d := streamDuration(sess, lastState, now)

	policy, err := tx.GetHistoryPolicy()
	if err != nil {
		return err
	}
	user, err := tx.GetMediaUser(srv.Kind, sess.UserName)
	if err != nil {
		return err
	}

	switch {
	case !user.HistoryEnabled:
		return nil
	case policy.ShouldExclude(sess.Title):
		return nil
	case d < policy.MinDuration:
		return nil
	case !sess.MediaKind.IsAudio() && sess.ProgressPercent < policy.MinPercent:
		return nil
	}

	inserted, err := tx.InsertHistory(&models.HistoryRecord{
		SessionID:        sess.ID,
		ServerKind:       srv.Kind,
		UserName:         sess.UserName,
		MediaKind:        sess.MediaKind,
		MediaID:          sess.MediaID,
		Title:            sess.Title,
		ParentTitle:      sess.ParentTitle,
		GrandparentTitle: sess.GrandparentTitle,
		SeasonNumber:     sess.SeasonNumber,
		EpisodeNumber:    sess.EpisodeNumber,
		Year:             sess.Year,
		ThumbURL:         sess.ThumbURL,
		WatchedAt:        now,
		Duration:         sess.Duration,
		PercentComplete:  sess.ProgressPercent,
		StreamDuration:   d,
		IPAddress:        sess.IPAddress,
		GeoCity:          sess.GeoCity,
		GeoCountry:       sess.GeoCountry,
	})
	if err != nil {
		return err
	}
	if inserted {
		return tx.IncrementMediaUserTotals(srv.Kind, sess.UserName, d)
	}
	return nil
}

// streamDuration derives the effective seconds actually streamed.
func streamDuration(sess *models.Session, lastState models.SessionState, now int64) int64 {
	d := sess.PlaybackTime
	if d < 5 && sess.LastPositionUpdate != nil && lastState == models.StatePlaying {
		d = now - *sess.LastPositionUpdate
	}
	if wall := now - sess.StartedAt; d > wall {
		d = wall
	}
	if sess.Duration > 0 && d > sess.Duration {
		d = sess.Duration
	}
	if d < 0 {
		d = 0
	}
	return d
}

// CurrentSessions reads the live set from the store and attaches server
// identity for the wire.
func (e *Engine) CurrentSessions() ([]models.ActiveSession, error) {
	sessions, err := e.store.ActiveSessions(0)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.ActiveSession, 0, len(sessions))
	for _, sess := range sessions {
		as := models.ActiveSession{Session: sess}
		if sa, ok := e.adapters[sess.ServerID]; ok {
			as.ServerName = sa.server.Name
			as.ServerKind = sa.server.Kind
		}
		out = append(out, as)
	}
	return out, nil
}
