package publisher

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"busbeacon/internal/mapview"
	"busbeacon/internal/proximity"
)

type broker interface {
	publish(subject string, v any) error
	subscribe(subject string, fn func(data []byte)) (unsubscribe func() error, err error)
}

type PopupFrame struct {
	MarkerID string `json:"markerId"`
	Content  string `json:"content"`
}

type RemoveFrame struct {
	MarkerID string `json:"markerId"`
}

type ViewportFrame struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

type ThemeFrame struct {
	Theme mapview.Theme `json:"theme"`
}

type CloseFrame struct {
	Timestamp time.Time `json:"timestamp"`
}

type AlertsMessage struct {
	SessionID string            `json:"sessionId"`
	Timestamp time.Time         `json:"timestamp"`
	Alerts    []proximity.Alert `json:"alerts"`
}

func viewportFrame(b orb.Bound) ViewportFrame {
	return ViewportFrame{South: b.Bottom(), West: b.Left(), North: b.Top(), East: b.Right()}
}

var errSurfaceClosed = errors.New("nats surface closed")

var _ mapview.Surface = (*Surface)(nil)

// Surface renders a map view remotely: every drawing call becomes a JSON
// frame on <prefix>.<session>.map.*, and marker ids published by the client
// on <prefix>.<session>.map.click are relayed to the click handlers.
type Surface struct {
	b         broker
	prefix    string
	sessionID string

	mu          sync.Mutex
	closed      bool
	handlers    map[int]func(string)
	nextID      int
	unsubscribe func() error
}

func NewSurface(p *NATSPublisher, prefix, sessionID string) *Surface {
	return newSurface(p, prefix, sessionID)
}

func newSurface(b broker, prefix, sessionID string) *Surface {
	return &Surface{b: b, prefix: prefix, sessionID: sessionID, handlers: make(map[int]func(string))}
}

func (s *Surface) mapSubject(tokens ...string) string {
	return subject(s.prefix, append([]string{s.sessionID, "map"}, tokens...)...)
}

func (s *Surface) send(v any, tokens ...string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errSurfaceClosed
	}
	return s.b.publish(s.mapSubject(tokens...), v)
}

func (s *Surface) AddMarker(m mapview.Marker) error { return s.send(m, "marker", "add") }

func (s *Surface) RemoveMarker(id string) error {
	return s.send(RemoveFrame{MarkerID: id}, "marker", "remove")
}

func (s *Surface) OpenPopup(markerID, content string) error {
	return s.send(PopupFrame{MarkerID: markerID, Content: content}, "popup")
}

func (s *Surface) FitBounds(b orb.Bound) error { return s.send(viewportFrame(b), "viewport") }

func (s *Surface) SetTheme(t mapview.Theme) error { return s.send(ThemeFrame{Theme: t}, "theme") }

// OnClick subscribes to the click subject on first use. The subscription is
// dropped when the last handler detaches.
func (s *Surface) OnClick(fn func(markerID string)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errSurfaceClosed
	}
	if s.unsubscribe == nil {
		unsub, err := s.b.subscribe(s.mapSubject("click"), s.dispatch)
		if err != nil {
			return nil, err
		}
		s.unsubscribe = unsub
	}
	id := s.nextID
	s.nextID++
	s.handlers[id] = fn
	return func() { s.detach(id) }, nil
}

func (s *Surface) detach(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, id)
	if len(s.handlers) == 0 {
		s.dropSubscriptionLocked()
	}
}

func (s *Surface) dropSubscriptionLocked() {
	if s.unsubscribe == nil {
		return
	}
	if err := s.unsubscribe(); err != nil {
		slog.Warn("nats unsubscribe failed", "error", err)
	}
	s.unsubscribe = nil
}

func (s *Surface) dispatch(data []byte) {
	id := string(data)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	hs := make([]func(string), 0, len(s.handlers))
	for _, h := range s.handlers {
		hs = append(hs, h)
	}
	s.mu.Unlock()
	for _, h := range hs {
		h(id)
	}
}

// Close publishes a close frame and drops the click subscription. The
// connection itself belongs to the NATSPublisher.
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.handlers = make(map[int]func(string))
	s.dropSubscriptionLocked()
	s.mu.Unlock()
	return s.b.publish(s.mapSubject("close"), CloseFrame{Timestamp: time.Now().UTC()})
}

// AlertPublisher sends the alert list to <prefix>.<session>.alerts whenever
// the set of alerting buses changes.
type AlertPublisher struct {
	b         broker
	subject   string
	sessionID string

	mu   sync.Mutex
	last string
	sent bool
}

func NewAlertPublisher(p *NATSPublisher, prefix, sessionID string) *AlertPublisher {
	return newAlertPublisher(p, prefix, sessionID)
}

func newAlertPublisher(b broker, prefix, sessionID string) *AlertPublisher {
	return &AlertPublisher{b: b, subject: subject(prefix, sessionID, "alerts"), sessionID: sessionID}
}

// Publish sends alerts unless the alerting bus ids match the last message.
func (a *AlertPublisher) Publish(alerts []proximity.Alert) error {
	key := alertKey(alerts)
	a.mu.Lock()
	if a.sent && key == a.last {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if alerts == nil {
		alerts = []proximity.Alert{}
	}
	err := a.b.publish(a.subject, AlertsMessage{SessionID: a.sessionID, Timestamp: time.Now().UTC(), Alerts: alerts})
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.last, a.sent = key, true
	a.mu.Unlock()
	return nil
}

func alertKey(alerts []proximity.Alert) string {
	ids := make([]byte, 0, 16*len(alerts))
	for _, al := range alerts {
		ids = append(ids, al.BusID...)
		ids = append(ids, 0)
	}
	return string(ids)
}
