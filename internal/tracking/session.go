package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/askwhyharsh/geotrack/internal/fix"
	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/internal/geocode"
	"github.com/askwhyharsh/geotrack/internal/permission"
	"github.com/askwhyharsh/geotrack/internal/render"
	"github.com/askwhyharsh/geotrack/internal/routing"
	"github.com/askwhyharsh/geotrack/internal/throttle"
	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

type Lifecycle int

const (
	Idle Lifecycle = iota
	RequestingPermission
	AwaitingFirstFix
	Tracking
	Disposed
)

func (l Lifecycle) String() string {
	switch l {
	case Idle:
		return "idle"
	case RequestingPermission:
		return "requesting_permission"
	case AwaitingFirstFix:
		return "awaiting_first_fix"
	case Tracking:
		return "tracking"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Geocoder resolves addresses for accepted fixes.
type Geocoder interface {
	Resolve(ctx context.Context, lat, lng float64) (*geocode.AddressDetails, error)
}

// PositionSink receives every accepted fix. Record must not block.
type PositionSink interface {
	Record(f fix.Fix)
}

type Metrics interface {
	FixAccepted()
	FixRejected()
	FixInvalid()
	RouteDraw(result string)
	SessionStarted()
	SessionEnded()
}

// Callbacks are invoked from the session goroutine. They must not block.
type Callbacks struct {
	OnReady    func()
	OnLocation func(f fix.Fix)
	OnError    func(err error)
	OnAddress  func(addr *geocode.AddressDetails)
}

// Deps are the collaborators of a session. Backend is required. Gate
// defaults to the delegated gate. Fixes and Geocoder are optional.
type Deps struct {
	Backend  render.Backend
	Gate     permission.Gate
	Fixes    fix.Provider
	Geocoder Geocoder
	Logger   logger.Logger
}

type Option func(*Session)

func WithDestination(c geo.Coordinate) Option {
	return func(s *Session) { s.dest = &c }
}

func WithProfile(p routing.Profile) Option {
	return func(s *Session) { s.profile = p }
}

func WithUpdateThrottle(t throttle.UpdateThrottle) Option {
	return func(s *Session) { s.updates = t }
}

func WithRouteThrottle(t throttle.RouteThrottle) Option {
	return func(s *Session) { s.routes = t }
}

func WithCallbacks(cb Callbacks) Option {
	return func(s *Session) { s.callbacks = cb }
}

func WithPositionSink(sink PositionSink) Option {
	return func(s *Session) { s.sink = sink }
}

func WithMetrics(m Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithPollInterval makes the session read Fixes repeatedly instead of only
// once. Zero relies on backend location events.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) { s.pollInterval = d }
}

// DisableTracking starts the session in passive mode: the destination marker
// renders but no permission is requested, no fixes are read and no routes are
// drawn.
func DisableTracking() Option {
	return func(s *Session) { s.passive = true }
}

// Session drives one map surface from permission through continuous
// tracking. All state is owned by the goroutine started in Start; workers
// post results back tagged with the generation they were started in.
type Session struct {
	backend  render.Backend
	gate     permission.Gate
	fixes    fix.Provider
	geocoder Geocoder
	logger   logger.Logger

	profile      routing.Profile
	updates      throttle.UpdateThrottle
	routes       throttle.RouteThrottle
	callbacks    Callbacks
	sink         PositionSink
	metrics      Metrics
	now          func() time.Time
	pollInterval time.Duration
	passive      bool

	results chan any
	cmds    chan func()
	quit    chan struct{}
	timers  *timerRegistry
	gen     atomic.Uint64

	started     atomic.Bool
	disposeOnce sync.Once
	cancel      context.CancelFunc
	ctx         context.Context

	mu          sync.RWMutex
	lifecycle   Lifecycle
	position    *throttle.AcceptedPosition
	address     *geocode.AddressDetails
	routeState  throttle.RouteState
	dest        *geo.Coordinate
	permissions permission.Tracker

	// loop-only
	ready         bool
	unavailable   bool
	acceptedSeq   uint64
	addressSeq    uint64
	destVersion   int
	routeTimer    int
	routeInFlight bool
}

type permissionResult struct {
	gen   uint64
	state permission.State
}

type fixResult struct {
	gen uint64
	fix fix.Fix
	err error
}

// geocodeResult carries the acceptance sequence number of the fix it was
// resolved for.
type geocodeResult struct {
	gen  uint64
	seq  uint64
	addr *geocode.AddressDetails
	err  error
}

type routeTick struct {
	gen uint64
}

type pollTick struct {
	gen uint64
}

type routeResult struct {
	gen         uint64
	from        geo.Coordinate
	destVersion int
	drawn       bool
	err         error
}

func New(deps Deps, opts ...Option) (*Session, error) {
	if deps.Backend == nil {
		return nil, errors.New("tracking session requires a render backend")
	}
	if deps.Gate == nil {
		deps.Gate = permission.DelegatedGate{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}

	s := &Session{
		backend:    deps.Backend,
		gate:       deps.Gate,
		fixes:      deps.Fixes,
		geocoder:   deps.Geocoder,
		logger:     deps.Logger,
		profile:    routing.Driving,
		updates:    throttle.Tracking(),
		routes:     throttle.DefaultRouteThrottle(),
		now:        time.Now,
		results:    make(chan any, 32),
		cmds:       make(chan func(), 16),
		quit:       make(chan struct{}),
		timers:     newTimerRegistry(),
		routeTimer: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := routing.ParseProfile(string(s.profile)); err != nil {
		return nil, err
	}
	return s, nil
}

// Start launches the session goroutine. Cancelling ctx disposes the session.
// Calling Start more than once, or after Dispose, does nothing.
func (s *Session) Start(ctx context.Context) {
	if s.isDisposed() || !s.started.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SessionStarted()
	}
	go s.run()
}

// Dispose tears the session down. It is safe to call any number of times
// and from callbacks.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		s.gen.Add(1)
		s.backend.BeginDispose()
		s.timers.clear()
		close(s.quit)

		s.mu.Lock()
		s.lifecycle = Disposed
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		if err := s.backend.Close(); err != nil {
			s.logger.Debug("closing render backend", "error", err)
		}
		if s.metrics != nil && s.started.Load() {
			s.metrics.SessionEnded()
		}
	})
}

// SetDestination replaces the destination. A nil destination stops route
// maintenance.
func (s *Session) SetDestination(c *geo.Coordinate) {
	if s.isDisposed() {
		return
	}
	var dest *geo.Coordinate
	if c != nil {
		d := *c
		dest = &d
	}
	select {
	case s.cmds <- func() { s.applyDestination(dest) }:
	case <-s.quit:
	}
}

func (s *Session) Lifecycle() Lifecycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifecycle
}

// Position returns the last accepted fix, or nil before the first one.
func (s *Session) Position() *fix.Fix {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.position == nil {
		return nil
	}
	f := s.position.Fix
	return &f
}

func (s *Session) Address() *geocode.AddressDetails {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

func (s *Session) RouteState() throttle.RouteState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.routeState
}

func (s *Session) Permission() permission.State {
	return s.permissions.State()
}

func (s *Session) Destination() *geo.Coordinate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dest
}

func (s *Session) isDisposed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *Session) run() {
	defer s.Dispose()

	if s.passive {
		s.setLifecycle(Tracking)
		s.logger.Debug("tracking disabled, session is passive")
	} else {
		s.setLifecycle(RequestingPermission)
		s.requestPermission()
	}

	events := s.backend.Events()
	for {
		select {
		case ev := <-events:
			s.handleEvent(ev)
		case r := <-s.results:
			s.handleResult(r)
		case cmd := <-s.cmds:
			if !s.isDisposed() {
				cmd()
			}
		case <-s.ctx.Done():
			return
		case <-s.quit:
			return
		}
	}
}

func (s *Session) setLifecycle(l Lifecycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle != Disposed {
		s.lifecycle = l
	}
}

// post delivers a worker result to the session goroutine unless the session
// is gone.
func (s *Session) post(r any) {
	select {
	case s.results <- r:
	case <-s.quit:
	}
}

func (s *Session) current(gen uint64) bool {
	return gen == s.gen.Load() && !s.isDisposed()
}

func (s *Session) requestPermission() {
	gen := s.gen.Load()
	go func() {
		state := s.gate.Request(s.ctx)
		s.post(permissionResult{gen: gen, state: state})
	}()
}

func (s *Session) readFix() {
	if s.fixes == nil {
		return
	}
	gen := s.gen.Load()
	go func() {
		f, err := s.fixes.GetFix(s.ctx)
		s.post(fixResult{gen: gen, fix: f, err: err})
	}()
}

func (s *Session) handleResult(r any) {
	switch r := r.(type) {
	case permissionResult:
		if s.current(r.gen) {
			s.onPermission(r.state)
		}
	case fixResult:
		if s.current(r.gen) {
			s.onFixResult(r)
		}
	case pollTick:
		if s.current(r.gen) {
			s.readFix()
		}
	case geocodeResult:
		if s.current(r.gen) {
			s.onAddress(r)
		}
	case routeTick:
		if s.current(r.gen) {
			s.onRouteTick()
		}
	case routeResult:
		s.routeInFlight = false
		if s.current(r.gen) {
			s.onRouteResult(r)
		}
	}
}

func (s *Session) handleEvent(ev render.Event) {
	if s.isDisposed() {
		return
	}
	switch ev.Type {
	case render.EventReady:
		s.ready = true
		if s.callbacks.OnReady != nil {
			s.callbacks.OnReady()
		}
		s.refreshMarker()
	case render.EventLocation:
		if s.passive {
			return
		}
		if s.permissions.State() == permission.Denied && s.permissions.Set(permission.Granted) {
			s.logger.Info("location permission granted by surface")
		}
		s.onFix(ev.Fix())
	case render.EventPermissionDenied:
		s.onSurfaceDenied()
	case render.EventLocationUnavailable:
		s.onSurfaceUnavailable()
	}
}

func (s *Session) onPermission(state permission.State) {
	if !s.permissions.Set(state) {
		s.logger.Debug("ignoring permission transition", "from", s.permissions.State().String(), "to", state.String())
		return
	}

	if state != permission.Granted {
		s.logger.Info("location permission not granted", "state", state.String())
		s.emitError(&apperrors.PermissionError{State: state.String()})
		return
	}

	if s.position == nil {
		s.setLifecycle(AwaitingFirstFix)
	}
	s.readFix()
}

func (s *Session) onSurfaceDenied() {
	if s.permissions.State() == permission.Denied {
		return
	}
	if !s.permissions.Set(permission.Denied) {
		return
	}
	s.logger.Info("surface reported location permission denied")
	s.timers.stop(s.routeTimer)
	s.routeTimer = -1
	s.emitError(&apperrors.PermissionError{State: permission.Denied.String()})
}

// onSurfaceUnavailable reports a surface without location support once. The
// permission state is left alone since the user denied nothing.
func (s *Session) onSurfaceUnavailable() {
	if s.passive || s.unavailable {
		return
	}
	s.unavailable = true
	s.logger.Info("surface reported location unavailable")
	s.emitError(apperrors.NewLocationError(apperrors.LocationProviderDisabled, apperrors.ErrProviderDisabled))
}

func (s *Session) onFixResult(r fixResult) {
	if r.err != nil {
		if s.metrics != nil {
			s.metrics.FixInvalid()
		}
		s.logger.Debug("fix read failed", "error", r.err)
		s.emitError(r.err)
	} else {
		s.onFix(r.fix)
	}

	if s.pollInterval > 0 {
		gen := s.gen.Load()
		s.timers.after(s.pollInterval, func() { s.post(pollTick{gen: gen}) })
	}
}

func (s *Session) onFix(f fix.Fix) {
	s.mu.RLock()
	last := s.position
	s.mu.RUnlock()

	// arrival time, so a device clock jumping around cannot stall the throttle
	at := s.now()
	decision := s.updates.Accept(last, f, at)
	if !decision.Accepted {
		if s.metrics != nil {
			s.metrics.FixRejected()
		}
		return
	}

	s.acceptedSeq++
	s.mu.Lock()
	s.position = &throttle.AcceptedPosition{Fix: f, AcceptedAt: at}
	if s.lifecycle != Disposed {
		s.lifecycle = Tracking
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.FixAccepted()
	}
	if decision.First {
		s.logger.Info("first fix accepted", "lat", f.Latitude, "lng", f.Longitude, "accuracy", f.Accuracy)
	}

	s.setMarker(f.Coordinate())
	if s.callbacks.OnLocation != nil {
		s.callbacks.OnLocation(f)
	}
	if s.sink != nil {
		s.sink.Record(f)
	}
	s.geocode(f, s.acceptedSeq)
	s.maybeScheduleRoute()
}

func (s *Session) setMarker(c geo.Coordinate) {
	if s.isDisposed() {
		return
	}
	if err := s.backend.SetMarker(c); err != nil {
		s.logger.Warn("failed to update marker", "error", err)
	}
}

// refreshMarker repeats the last marker once the surface reports ready,
// since commands sent before that may have been lost.
func (s *Session) refreshMarker() {
	if s.passive {
		if d := s.Destination(); d != nil {
			s.setMarker(*d)
		}
		return
	}
	if p := s.Position(); p != nil {
		s.setMarker(p.Coordinate())
	}
}

func (s *Session) geocode(f fix.Fix, seq uint64) {
	if s.geocoder == nil {
		return
	}
	gen := s.gen.Load()
	go func() {
		addr, err := s.geocoder.Resolve(s.ctx, f.Latitude, f.Longitude)
		s.post(geocodeResult{gen: gen, seq: seq, addr: addr, err: err})
	}()
}

func (s *Session) onAddress(r geocodeResult) {
	// a slower lookup for an older fix must not replace a newer address, even
	// when the newer lookup came back empty
	if r.seq < s.addressSeq {
		s.logger.Debug("discarding stale address", "seq", r.seq, "current", s.addressSeq)
		return
	}
	s.addressSeq = r.seq
	if r.err != nil || r.addr == nil {
		return
	}

	s.mu.Lock()
	s.address = r.addr
	s.mu.Unlock()

	if s.callbacks.OnAddress != nil {
		s.callbacks.OnAddress(r.addr)
	}
}

func (s *Session) applyDestination(dest *geo.Coordinate) {
	s.mu.Lock()
	changed := (s.dest == nil) != (dest == nil) || (dest != nil && *s.dest != *dest)
	s.dest = dest
	if changed {
		s.routeState = throttle.RouteState{}
	}
	s.mu.Unlock()

	if !changed {
		return
	}
	s.destVersion++
	s.timers.stop(s.routeTimer)
	s.routeTimer = -1

	if s.passive && s.ready && dest != nil {
		s.setMarker(*dest)
	}
	s.maybeScheduleRoute()
}

func (s *Session) routingAllowed() bool {
	return !s.passive && !s.isDisposed() && s.permissions.State() != permission.Denied
}

func (s *Session) maybeScheduleRoute() {
	if !s.routingAllowed() || s.routeInFlight || s.routeTimer >= 0 {
		return
	}

	s.mu.RLock()
	pos, dest, state := s.position, s.dest, s.routeState
	s.mu.RUnlock()
	if pos == nil || dest == nil {
		return
	}
	if !s.routes.ShouldRedraw(state, pos.Fix.Coordinate(), s.now()) {
		return
	}

	gen := s.gen.Load()
	s.routeTimer = s.timers.after(s.routes.Debounce(state), func() {
		s.post(routeTick{gen: gen})
	})
}

func (s *Session) onRouteTick() {
	s.routeTimer = -1
	if !s.routingAllowed() || s.routeInFlight {
		return
	}

	s.mu.RLock()
	pos, dest, state := s.position, s.dest, s.routeState
	s.mu.RUnlock()
	if pos == nil || dest == nil {
		return
	}

	from, to := pos.Fix.Coordinate(), *dest
	isUpdate := state.HasDrawnOnce
	gen, version := s.gen.Load(), s.destVersion
	s.routeInFlight = true

	go func() {
		drawn, err := s.backend.DrawRoute(s.ctx, from, to, s.profile, isUpdate)
		s.post(routeResult{gen: gen, from: from, destVersion: version, drawn: drawn, err: err})
	}()
}

func (s *Session) onRouteResult(r routeResult) {
	switch {
	case r.err != nil:
		s.observeRoute("error")
		s.logger.Warn("route draw failed", "profile", s.profile, "error", r.err)
	case !r.drawn:
		s.observeRoute("no_route")
	case r.destVersion != s.destVersion:
		// drawn for a destination that has since changed
		s.observeRoute("stale")
	default:
		s.observeRoute("drawn")
		s.mu.Lock()
		s.routeState = s.routeState.Drawn(r.from, s.now())
		s.mu.Unlock()
	}

	// only retry when something changed while the draw was in flight
	if p := s.Position(); p != nil && (p.Coordinate() != r.from || r.destVersion != s.destVersion) {
		s.maybeScheduleRoute()
	}
}

func (s *Session) observeRoute(result string) {
	if s.metrics != nil {
		s.metrics.RouteDraw(result)
	}
}

func (s *Session) emitError(err error) {
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(err)
	}
}
