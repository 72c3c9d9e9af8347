package main

import (
	"time"

	"busbeacon/internal/db"
	"busbeacon/internal/mapview"
	"busbeacon/internal/metrics"
	"busbeacon/internal/publisher"
	"busbeacon/internal/session"
	"busbeacon/internal/transit"
)

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

func wrapSessionMetrics(c *metrics.Collector) session.Metrics {
	if c == nil {
		return nil
	}
	return &sessionMetrics{c: c}
}

type sessionMetrics struct{ c *metrics.Collector }

func (s *sessionMetrics) FetchObserve(ch session.Channel, d time.Duration, err error) {
	s.c.ObserveFetch(ch.String(), transit.Kind(err), d)
}
func (s *sessionMetrics) FetchDiscarded(ch session.Channel) {
	s.c.Discarded.WithLabelValues(ch.String()).Inc()
}
func (s *sessionMetrics) StateObserve(buses, alerts int) {
	s.c.TrackedBuses.Set(float64(buses))
	s.c.ActiveAlerts.Set(float64(alerts))
}
func (s *sessionMetrics) SelectionInc() { s.c.Selections.Inc() }

func wrapViewMetrics(c *metrics.Collector) mapview.Metrics {
	if c == nil {
		return nil
	}
	return &viewMetrics{c: c}
}

type viewMetrics struct{ c *metrics.Collector }

func (v *viewMetrics) MarkersSet(n int) { v.c.MapMarkers.Set(float64(n)) }
func (v *viewMetrics) FitInc()          { v.c.ViewportFits.Inc() }

func wrapDBMetrics(c *metrics.Collector) db.SwitchMetrics {
	if c == nil {
		return nil
	}
	return &dbMetrics{c: c}
}

type dbMetrics struct{ c *metrics.Collector }

func (d *dbMetrics) DBSwitchInc(reason string) { d.c.DBSwitches.WithLabelValues(reason).Inc() }
