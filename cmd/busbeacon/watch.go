package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"busbeacon/internal/config"
	"busbeacon/internal/db"
	"busbeacon/internal/geolocate"
	"busbeacon/internal/identity"
	"busbeacon/internal/mapview"
	"busbeacon/internal/metrics"
	"busbeacon/internal/proximity"
	"busbeacon/internal/publisher"
	"busbeacon/internal/session"
	"busbeacon/internal/transit"
)

const stopsDBCheckEvery = 30 * time.Minute

func NewWatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Track buses around you; type 'help' for interactive commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			setupLogging(cfg.LogLevel, app.Debug)

			// Root context with cancellation on SIGINT/SIGTERM
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runWatch(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	return cmd
}

func identityProvider(cfg *config.Config) identity.Provider {
	switch {
	case cfg.IDTokenFile != "":
		return identity.File{Path: cfg.IDTokenFile}
	case cfg.IDToken != "":
		return identity.Static(cfg.IDToken)
	}
	slog.Warn("no ID_TOKEN or ID_TOKEN_FILE set; API requests will fail authentication")
	return identity.Static("")
}

func runWatch(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.RequestTimeout, cfg.FitDebounce)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	client := transit.NewClient(cfg.APIURL, identityProvider(cfg), cfg.RequestTimeout)

	var stops session.StopFinder = client
	if cfg.StopsDatabaseURL != "" {
		finder, err := db.Connect(ctx, cfg.StopsDatabaseURL, cfg.City, wrapDBMetrics(mcol))
		if err != nil {
			return fmt.Errorf("stops database: %w", err)
		}
		defer finder.Close()
		go finder.Watch(ctx, stopsDBCheckEvery)
		stops = finder
		slog.Info("nearest stops served from database", "db", finder.Name())
	}

	var locator geolocate.Locator = geolocate.Unavailable{}
	if loc, ok := cfg.UserLocation(); ok {
		locator = geolocate.Static(loc)
	}

	// selections and console fetches run in their own goroutines; wait for
	// them after the session has cancelled their requests.
	var pending sync.WaitGroup
	defer pending.Wait()
	sess := session.New(client, stops, locator, wrapSessionMetrics(mcol))
	defer sess.Close()

	var (
		surface mapview.Surface
		mem     *mapview.MemorySurface
		alerts  *publisher.AlertPublisher
	)
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			return fmt.Errorf("nats error: %w", err)
		}
		defer pub.Close()
		surface = publisher.NewSurface(pub, cfg.NATSSubjectPrefix, sess.ID())
		alerts = publisher.NewAlertPublisher(pub, cfg.NATSSubjectPrefix, sess.ID())
		slog.Info("map frames published over nats", "subject", cfg.NATSSubjectPrefix+"."+sess.ID()+".map.>")
	} else {
		mem = mapview.NewMemorySurface()
		surface = mem
	}

	view := mapview.New(func(busID string) {
		pending.Add(1)
		go func() {
			defer pending.Done()
			sess.SelectObject(ctx, busID)
		}()
	}, mapview.Options{
		Debounce: cfg.FitDebounce,
		Theme:    mapview.ParseTheme(cfg.DarkMode),
		Metrics:  wrapViewMetrics(mcol),
	})
	if err := view.Mount(surface); err != nil {
		return fmt.Errorf("mount map: %w", err)
	}
	// Deferred calls run in reverse: the view is torn down before the
	// session closes and before the NATS connection drains.
	defer view.Teardown()

	pr := &printer{w: out}
	unsubscribe := sess.Subscribe(func(st session.State) {
		view.Update(mapview.Snapshot{
			Version:      st.Version,
			Objects:      st.Objects,
			NearestPoint: st.NearestPoint,
			UserLocation: st.UserLocation,
			Alerts:       st.Alerts,
		})
		pr.state(st)
		if alerts != nil && st.Phase == session.Ready && !st.Loading {
			if err := alerts.Publish(st.Alerts); err != nil {
				slog.Warn("publish alerts failed", "error", err)
			}
		}
	})
	defer unsubscribe()

	slog.Info("session started", "session", sess.ID())
	go func() {
		if err := sess.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("session start failed", "error", err)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c := &console{ctx: ctx, sess: sess, view: view, mem: mem, pr: pr, wg: &pending}
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutdown complete")
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed: keep running until signalled
				lines = nil
				continue
			}
			if !c.run(line) {
				slog.Info("shutdown complete")
				return nil
			}
		}
	}
}

// console executes interactive commands read from stdin.
type console struct {
	ctx  context.Context
	sess *session.Session
	view *mapview.View
	mem  *mapview.MemorySurface
	pr   *printer
	wg   *sync.WaitGroup
}

// spawn runs fn in the background; runWatch waits for it before closing
// the stops database.
func (c *console) spawn(fn func(context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}

const helpText = `commands:
  select <bus_id>   select a bus and find the stop nearest to you for it
  retry             refetch buses and the nearest stop
  refresh           refetch buses only
  dark | light      switch the map theme
  map               print the map markers
  popup <bus_id>    print the popup of a bus marker
  quit              exit`

// run handles one command line and reports whether to keep going.
func (c *console) run(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	switch strings.ToLower(fields[0]) {
	case "select", "s":
		if arg == "" {
			c.pr.line("usage: select <bus_id>")
			return true
		}
		if c.mem != nil {
			// route through the map so the popup opens like a click
			c.mem.Click("bus:" + arg)
			if c.mem.Popup("bus:"+arg) == "" {
				c.pr.line(fmt.Sprintf("no bus %q on the map", arg))
			}
			return true
		}
		c.spawn(func(ctx context.Context) { c.sess.SelectObject(ctx, arg) })
	case "retry", "r":
		c.spawn(c.sess.Retry)
	case "refresh":
		c.spawn(c.sess.RefreshObjects)
	case "dark":
		c.view.SetTheme(mapview.ThemeDark)
	case "light":
		c.view.SetTheme(mapview.ThemeLight)
	case "map":
		if c.mem == nil {
			c.pr.line("map is rendered remotely over nats")
			return true
		}
		c.pr.line(strings.TrimRight(c.mem.String(), "\n"))
	case "popup":
		if c.mem == nil || arg == "" {
			c.pr.line("usage: popup <bus_id> (local map only)")
			return true
		}
		if p := c.mem.Popup("bus:" + arg); p != "" {
			c.pr.line(p)
		} else {
			c.pr.line(fmt.Sprintf("no popup open for %q", arg))
		}
	case "quit", "exit", "q":
		return false
	case "help", "?":
		c.pr.line(helpText)
	default:
		c.pr.line(fmt.Sprintf("unknown command %q (try 'help')", fields[0]))
	}
	return true
}

// printer writes session updates as short status blocks.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, s)
}

func (p *printer) state(st session.State) {
	if st.Loading || st.Phase != session.Ready {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.w, formatState(st))
}

func formatState(st session.State) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[v%d] %d buses, %d within %.0f km", st.Version, len(st.Objects), len(st.Alerts), proximity.AlertRadiusKm)
	if st.UserLocation != nil {
		fmt.Fprintf(&sb, " of %.5f,%.5f", st.UserLocation.Lat, st.UserLocation.Lng)
	}
	sb.WriteString("\n")
	for _, a := range st.Alerts {
		fmt.Fprintf(&sb, "  ALERT bus %s is %.2f km away (~%d min walk)\n", a.BusID, a.DistanceKm, a.EtaMinutes)
	}
	if st.Selected != nil {
		fmt.Fprintf(&sb, "  selected: bus %s route %s, last updated %s\n", st.Selected.ID, st.Selected.Route, mapview.FormatLastUpdated(*st.Selected))
	}
	if s := st.NearestPoint; s != nil {
		name := s.Name
		if name == "" {
			name = "Bus Stop"
		}
		fmt.Fprintf(&sb, "  nearest stop: %s, %.2f km (~%d min walk)\n", name, s.DistanceKm, s.WalkingTimeMinutes)
	}
	if st.Errors.Objects != "" {
		fmt.Fprintf(&sb, "  buses unavailable: %s (type 'retry')\n", st.Errors.Objects)
	}
	if st.Errors.NearestPoint != "" {
		fmt.Fprintf(&sb, "  nearest stop unavailable: %s\n", st.Errors.NearestPoint)
	}
	return sb.String()
}
