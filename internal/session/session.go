package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"busbeacon/internal/geolocate"
	"busbeacon/internal/proximity"
	"busbeacon/internal/transit"
)

var (
	// ErrAlreadyStarted is returned by Start on a session that was started before.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrClosed is returned by Start once the session has been closed.
	ErrClosed = errors.New("session closed")
)

// BusSource returns the live bus snapshot.
type BusSource interface {
	Buses(ctx context.Context) ([]transit.Bus, error)
}

// StopFinder returns the stop nearest to a query.
type StopFinder interface {
	NearestStop(ctx context.Context, q transit.StopQuery) (transit.Stop, error)
}

// Metrics receives session instrumentation. Implementations must be safe for
// concurrent use.
type Metrics interface {
	FetchObserve(ch Channel, d time.Duration, err error)
	FetchDiscarded(ch Channel)
	StateObserve(buses, alerts int)
	SelectionInc()
}

type inflight struct {
	gen    uint64
	cancel context.CancelFunc
}

// Session tracks buses around one user. All state lives behind mu; fetches
// run outside the lock and apply their result only if no newer request on
// the same channel was issued in the meantime.
type Session struct {
	id      string
	buses   BusSource
	stops   StopFinder
	locator geolocate.Locator
	metrics Metrics

	mu       sync.Mutex
	state    State
	started  bool
	closed   bool
	channels [numChannels]inflight
	subs     map[int]func(State)
	nextSub  int

	// notifyMu serializes subscriber delivery; delivered is the last
	// version handed out.
	notifyMu  sync.Mutex
	delivered uint64
}

// New returns an idle session with a fresh id. metrics may be nil.
func New(buses BusSource, stops StopFinder, locator geolocate.Locator, metrics Metrics) *Session {
	return &Session{
		id:      uuid.NewString(),
		buses:   buses,
		stops:   stops,
		locator: locator,
		metrics: metrics,
		state: State{
			Phase:   Idle,
			Objects: []transit.Bus{},
			Alerts:  []proximity.Alert{},
		},
		subs: make(map[int]func(State)),
	}
}

// ID identifies the session in logs and message subjects.
func (s *Session) ID() string { return s.id }

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn to receive every new state. fn runs outside the
// session lock but must not call back into the session synchronously.
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Start resolves the user's position, falling back to the default service
// area, then refreshes both channels and waits for them.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.state.Phase = Locating
	snap := s.publishLocked()
	s.mu.Unlock()
	s.deliver(snap)

	loc, err := geolocate.OrFallback(ctx, s.locator)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		slog.Warn("geolocation unavailable, using fallback position",
			"session", s.id, "error", err, "lat", loc.Lat, "lng", loc.Lng)
	} else {
		slog.Info("user location set", "session", s.id, "lat", loc.Lat, "lng", loc.Lng)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.state.UserLocation = &loc
	s.state.Phase = Ready
	snap = s.publishLocked()
	s.mu.Unlock()
	s.deliver(snap)

	s.refreshBoth(ctx, "")
	return nil
}

// Retry re-issues both refreshes, filtering the nearest stop by the
// selected bus. It does nothing until the user's position is known.
func (s *Session) Retry(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.state.UserLocation == nil {
		s.mu.Unlock()
		return
	}
	busID := ""
	if s.state.Selected != nil {
		busID = s.state.Selected.ID
	}
	s.mu.Unlock()

	slog.Info("retrying fetches", "session", s.id, "bus_id", busID)
	s.refreshBoth(ctx, busID)
}

// SelectObject marks the bus with id as selected and refreshes the nearest
// stop for it. Unknown ids leave the selection unchanged.
func (s *Session) SelectObject(ctx context.Context, id string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	bus, ok := findBus(s.state.Objects, id)
	if !ok {
		s.mu.Unlock()
		slog.Warn("selection ignored: bus not in current snapshot", "session", s.id, "bus_id", id)
		return false
	}
	s.state.Selected = &bus
	snap := s.publishLocked()
	s.mu.Unlock()
	s.deliver(snap)

	if s.metrics != nil {
		s.metrics.SelectionInc()
	}
	slog.Debug("bus selected", "session", s.id, "bus_id", id, "route", bus.Route)
	s.RefreshNearestPoint(ctx, id)
	return true
}

// RefreshObjects replaces the bus snapshot. On failure the previous
// snapshot stays and the objects channel records the error.
func (s *Session) RefreshObjects(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	rctx, gen := s.beginLocked(ctx, ChannelObjects)
	s.state.Loading = true
	snap := s.publishLocked()
	s.mu.Unlock()
	s.deliver(snap)

	start := time.Now()
	buses, err := s.buses.Buses(rctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	if !s.finishLocked(ChannelObjects, gen) {
		s.mu.Unlock()
		s.discarded(ChannelObjects)
		return
	}
	s.state.Loading = false
	if err != nil {
		s.state.Errors.Objects = err.Error()
		slog.Warn("fetch buses failed", "session", s.id, "kind", transit.Kind(err), "error", err)
	} else {
		s.state.Objects = buses
		s.state.Errors.Objects = ""
		if s.state.UserLocation != nil {
			s.state.Alerts = proximity.EvaluateDefault(*s.state.UserLocation, buses)
		} else {
			s.state.Alerts = []proximity.Alert{}
		}
		if s.state.Selected != nil {
			if fresh, ok := findBus(buses, s.state.Selected.ID); ok {
				s.state.Selected = &fresh
			}
		}
		slog.Debug("buses updated", "session", s.id, "count", len(buses), "alerts", len(s.state.Alerts))
	}
	nBuses, nAlerts := len(s.state.Objects), len(s.state.Alerts)
	snap = s.publishLocked()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.FetchObserve(ChannelObjects, elapsed, err)
		s.metrics.StateObserve(nBuses, nAlerts)
	}
	s.deliver(snap)
}

// RefreshNearestPoint replaces the nearest stop, optionally for one bus.
// It does nothing until the user's position is known.
func (s *Session) RefreshNearestPoint(ctx context.Context, busID string) {
	s.mu.Lock()
	if s.closed || s.state.UserLocation == nil {
		s.mu.Unlock()
		return
	}
	q := transit.StopQuery{At: *s.state.UserLocation, BusID: busID}
	if bus, ok := findBus(s.state.Objects, busID); ok {
		q.Route = bus.Route
	}
	rctx, gen := s.beginLocked(ctx, ChannelNearestPoint)
	s.mu.Unlock()

	start := time.Now()
	stop, err := s.stops.NearestStop(rctx, q)
	elapsed := time.Since(start)

	s.mu.Lock()
	if !s.finishLocked(ChannelNearestPoint, gen) {
		s.mu.Unlock()
		s.discarded(ChannelNearestPoint)
		return
	}
	if err != nil {
		s.state.Errors.NearestPoint = err.Error()
		slog.Warn("fetch nearest stop failed", "session", s.id, "bus_id", busID, "kind", transit.Kind(err), "error", err)
	} else {
		s.state.NearestPoint = &stop
		s.state.Errors.NearestPoint = ""
	}
	snap := s.publishLocked()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.FetchObserve(ChannelNearestPoint, elapsed, err)
	}
	s.deliver(snap)
}

// Close cancels in-flight requests and drops their late results. Safe to
// call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for i := range s.channels {
		if s.channels[i].cancel != nil {
			s.channels[i].cancel()
			s.channels[i].cancel = nil
		}
	}
	s.subs = make(map[int]func(State))
}

func (s *Session) refreshBoth(ctx context.Context, busID string) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.RefreshObjects(ctx)
	}()
	go func() {
		defer wg.Done()
		s.RefreshNearestPoint(ctx, busID)
	}()
	wg.Wait()
}

// beginLocked supersedes any in-flight request on ch.
func (s *Session) beginLocked(ctx context.Context, ch Channel) (context.Context, uint64) {
	c := &s.channels[ch]
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	rctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	return rctx, c.gen
}

// finishLocked reports whether the request with gen is still current on ch.
func (s *Session) finishLocked(ch Channel, gen uint64) bool {
	c := &s.channels[ch]
	if s.closed || c.gen != gen {
		return false
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return true
}

func (s *Session) discarded(ch Channel) {
	slog.Debug("stale result discarded", "session", s.id, "channel", ch.String())
	if s.metrics != nil {
		s.metrics.FetchDiscarded(ch)
	}
}

func (s *Session) publishLocked() State {
	s.state.Version++
	return s.state.clone()
}

func (s *Session) deliver(snap State) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if snap.Version <= s.delivered {
		return
	}
	s.delivered = snap.Version

	s.mu.Lock()
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
