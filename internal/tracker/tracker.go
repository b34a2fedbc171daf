// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package tracker turns the noisy position readings of a Source into a continuously updated,
// accuracy-weighted position estimate while following the location permission of the host.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geopin/internal/geobus"
	"github.com/wneessen/geopin/internal/logger"
	"github.com/wneessen/geopin/internal/loop"
)

// EstimateFunc receives every recomputed estimate.
type EstimateFunc func(Estimate)

// ErrorFunc receives every error the tracker surfaces.
type ErrorFunc func(*Error)

// Tracker acquires positions from a Source and averages them over a sliding window. All
// state transitions happen on the tracker's own event loop; subscribers are invoked from
// that loop as well.
type Tracker struct {
	source Source
	log    *logger.Logger
	clock  clockwork.Clock
	rec    Recorder

	windowSize  int
	fallback    float64
	settleDelay time.Duration
	promptFix   FixOptions
	grantedFix  FixOptions
	watchFix    FixOptions

	estimates *geobus.Bus[Estimate]
	errs      *geobus.Bus[*Error]

	state    atomic.Int32
	estimate atomic.Pointer[Estimate]

	mu      sync.Mutex
	session *session

	watchMu    sync.Mutex
	watch      Handle
	watchOwner *session
	watchTok   *watchToken
}

// watchToken identifies one Watch call. Deliveries from a cleared watch that are still
// queued on the loop are dropped.
type watchToken struct {
	cleared atomic.Bool
}

// session holds everything belonging to one Start/Stop lifecycle.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	loop   *loop.Loop
	alive  atomic.Bool
	unsubs []func()
	once   sync.Once

	notifyMu   sync.Mutex
	stopNotify func()

	// Only accessed on the loop goroutine.
	window       *Window
	requested    bool
	settle       *loop.Timer
	fetching     bool
	watchPending bool
}

// New returns a new Tracker for the given Source. A nil Source is valid and makes the
// tracker report that geolocation is unsupported once started.
func New(source Source, log *logger.Logger, opts ...Option) *Tracker {
	if log == nil {
		log = logger.Discard()
	}
	t := &Tracker{
		source:      source,
		log:         log,
		clock:       clockwork.NewRealClock(),
		rec:         nopRecorder{},
		windowSize:  DefaultWindowSize,
		fallback:    DefaultFallbackAccuracy,
		settleDelay: DefaultSettleDelay,
		promptFix:   DefaultPromptFix,
		grantedFix:  DefaultGrantedFix,
		watchFix:    DefaultWatchFix,
		estimates:   geobus.New[Estimate](),
		errs:        geobus.New[*Error](),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins the permission check and position acquisition. onEstimate and onError may be
// nil and stay subscribed until Stop is called. Calling Start on a started tracker is a no-op.
// The tracker is stopped when ctx is done.
func (t *Tracker) Start(ctx context.Context, onEstimate EstimateFunc, onError ErrorFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != nil {
		return
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		ctx:    sctx,
		cancel: cancel,
		loop:   loop.New(t.clock, 0),
		window: NewWindow(t.windowSize, t.fallback),
	}
	s.alive.Store(true)
	if onEstimate != nil {
		s.unsubs = append(s.unsubs, t.estimates.Subscribe(onEstimate))
	}
	if onError != nil {
		s.unsubs = append(s.unsubs, t.errs.Subscribe(onError))
	}
	t.session = s
	t.estimate.Store(nil)
	t.estimates.Reset()
	t.errs.Reset()
	t.setState(StateUnknown)

	go s.loop.Run(sctx)
	go func() {
		<-sctx.Done()
		t.teardown(s)
	}()

	t.log.Debug("starting location tracker", slog.String("source", t.sourceName()))
	s.post(func() { t.begin(s) })
}

// Stop stops the tracker and releases the continuous watch. It does not wait for the event
// loop, so it may be called from within an estimate or error callback. Stop is safe to call
// multiple times and before Start.
func (t *Tracker) Stop() {
	t.mu.Lock()
	s := t.session
	t.session = nil
	t.mu.Unlock()
	if s == nil {
		return
	}

	t.teardown(s)
	t.log.Debug("location tracker stopped")
}

// Subscribe registers additional callbacks. The returned function removes them again.
func (t *Tracker) Subscribe(onEstimate EstimateFunc, onError ErrorFunc) func() {
	var unsubs []func()
	if onEstimate != nil {
		unsubs = append(unsubs, t.estimates.Subscribe(onEstimate))
	}
	if onError != nil {
		unsubs = append(unsubs, t.errs.Subscribe(onError))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	return State(t.state.Load())
}

// Watching reports whether a continuous watch is active.
func (t *Tracker) Watching() bool {
	t.watchMu.Lock()
	defer t.watchMu.Unlock()
	return t.watch != nil
}

// Estimate returns the most recent estimate, if there is one.
func (t *Tracker) Estimate() (Estimate, bool) {
	est := t.estimate.Load()
	if est == nil {
		return Estimate{}, false
	}
	return *est, true
}

// SetPermission notifies the tracker about a permission change reported out of band.
func (t *Tracker) SetPermission(p Permission) {
	s := t.current()
	if s == nil {
		return
	}
	s.post(func() {
		t.log.Debug("location permission changed", slog.String("permission", p.String()))
		t.applyPermission(s, p)
	})
}

// Refresh asks the tracker to recheck its situation, e.g. after the system resumed from
// sleep. While denied the permission is queried again, otherwise a one-shot request is
// issued if no acquisition is active.
func (t *Tracker) Refresh() {
	s := t.current()
	if s == nil {
		return
	}
	s.post(func() { t.refresh(s) })
}

func (t *Tracker) current() *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

func (s *session) post(fn func()) bool {
	return s.loop.Post(func() {
		if !s.alive.Load() {
			return
		}
		fn()
	})
}

func (t *Tracker) begin(s *session) {
	if t.source == nil {
		t.setState(StateDenied)
		t.emitError(NewError(KindUnsupported, MsgUnsupported, nil))
		return
	}

	if notifier, ok := t.source.(PermissionNotifier); ok {
		go t.subscribePermission(s, notifier)
	}

	querier, ok := t.source.(PermissionQuerier)
	if !ok {
		t.request(s)
		return
	}
	go func() {
		perm, err := querier.QueryPermission(s.ctx)
		s.post(func() {
			if err != nil {
				t.log.Debug("permission query failed, requesting location directly", logger.Err(err))
				t.request(s)
				return
			}
			t.log.Debug("queried location permission", slog.String("permission", perm.String()))
			t.applyPermission(s, perm)
		})
	}()
}

func (t *Tracker) subscribePermission(s *session, notifier PermissionNotifier) {
	stop, err := notifier.NotifyPermission(s.ctx, func(perm Permission) {
		s.post(func() {
			t.log.Debug("location permission changed", slog.String("permission", perm.String()))
			t.applyPermission(s, perm)
		})
	})
	if err != nil {
		t.log.Debug("permission change notifications unavailable", logger.Err(err))
		return
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if !s.alive.Load() {
		stop()
		return
	}
	s.stopNotify = stop
}

func (t *Tracker) applyPermission(s *session, perm Permission) {
	switch perm {
	case PermissionGranted:
		t.grant(s)
	case PermissionDenied:
		t.deny(s, nil)
	default:
		switch t.State() {
		case StateDenied:
			s.requested = false
			t.armRequest(s)
		case StateUnknown:
			t.armRequest(s)
		}
	}
}

// armRequest schedules the prompting request after the settle delay.
func (t *Tracker) armRequest(s *session) {
	if s.requested || s.settle != nil {
		return
	}
	s.settle = s.loop.After(t.settleDelay, func() {
		if !s.alive.Load() {
			return
		}
		s.settle = nil
		t.request(s)
	})
}

func (t *Tracker) stopSettle(s *session) {
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
}

// request issues the prompting one-shot request at most once per lifecycle.
func (t *Tracker) request(s *session) {
	if s.requested {
		return
	}
	s.requested = true
	t.setState(StatePrompting)
	t.fetch(s, t.promptFix)
}

func (t *Tracker) grant(s *session) {
	t.stopSettle(s)
	s.requested = true

	prev := t.State()
	if prev == StateGranted {
		if !s.fetching && !s.watchPending && !t.watchingFor(s) {
			t.fetch(s, t.grantedFix)
		}
		return
	}

	t.setState(StateGranted)
	if !s.fetching {
		t.fetch(s, t.grantedFix)
	}
	if prev == StateDenied {
		t.startWatch(s)
	}
}

func (t *Tracker) deny(s *session, cause error) {
	t.stopSettle(s)
	prev := t.setState(StateDenied)
	t.releaseWatch(s)
	if prev != StateDenied {
		t.log.Warn("location permission denied", slog.String("source", t.sourceName()))
		t.emitError(NewError(KindPermissionDenied, MsgPermissionDenied, cause))
	}
}

func (t *Tracker) refresh(s *session) {
	switch t.State() {
	case StateDenied:
		querier, ok := t.source.(PermissionQuerier)
		if !ok {
			return
		}
		go func() {
			perm, err := querier.QueryPermission(s.ctx)
			if err != nil {
				t.log.Debug("permission query failed", logger.Err(err))
				return
			}
			s.post(func() {
				if perm != PermissionDenied {
					t.applyPermission(s, perm)
				}
			})
		}()
	case StatePrompting:
		if !s.fetching && !s.watchPending && !t.watchingFor(s) {
			t.fetch(s, t.promptFix)
		}
	case StateGranted:
		if !s.fetching && !s.watchPending && !t.watchingFor(s) {
			t.fetch(s, t.grantedFix)
		}
	}
}

func (t *Tracker) fetch(s *session, opts FixOptions) {
	s.fetching = true
	go func() {
		ctx, cancel := withTimeout(s.ctx, opts.Timeout)
		defer cancel()
		sample, err := t.source.CurrentFix(ctx, opts)
		s.post(func() { t.fetched(s, sample, err) })
	}()
}

func (t *Tracker) fetched(s *session, sample Sample, err error) {
	s.fetching = false
	if t.State() == StateDenied {
		t.log.Debug("ignoring location fix while permission is denied")
		return
	}

	if err != nil {
		e := Classify(err)
		if e.Kind == KindPermissionDenied {
			t.deny(s, e)
			return
		}
		t.log.Warn("failed to get location", slog.String("source", t.sourceName()), logger.Err(err))
		t.emitError(surface(e, MsgFetchFailed))
		if t.State() == StateGranted {
			t.startWatch(s)
		}
		return
	}

	t.setState(StateGranted)
	t.ingest(s, sample)
	if !s.alive.Load() {
		return
	}
	t.startWatch(s)
}

func (t *Tracker) startWatch(s *session) {
	if s.watchPending || t.watchingFor(s) {
		return
	}
	s.watchPending = true
	tok := &watchToken{}
	go func() {
		handle, err := t.source.Watch(s.ctx, t.watchFix,
			func(sample Sample) {
				s.post(func() { t.watched(s, tok, sample) })
			},
			func(err error) {
				s.post(func() {
					if !tok.cleared.Load() {
						t.watchFailed(s, err)
					}
				})
			},
		)
		if err == nil {
			t.adoptWatch(s, handle, tok)
		} else {
			tok.cleared.Store(true)
		}
		s.post(func() {
			s.watchPending = false
			if err != nil {
				t.watchFailed(s, err)
				return
			}
			if t.State() != StateGranted {
				t.releaseWatch(s)
			}
		})
	}()
}

func (t *Tracker) watched(s *session, tok *watchToken, sample Sample) {
	if tok.cleared.Load() {
		t.log.Debug("ignoring location sample from a released watch")
		return
	}
	if t.State() != StateGranted {
		t.log.Debug("ignoring location sample", slog.String("state", t.State().String()))
		return
	}
	t.ingest(s, sample)
}

func (t *Tracker) watchFailed(s *session, err error) {
	if t.State() == StateDenied {
		return
	}
	e := Classify(err)
	if e.Kind == KindPermissionDenied {
		t.deny(s, e)
		return
	}
	t.log.Warn("location watch failed", slog.String("source", t.sourceName()), logger.Err(err))
	t.emitError(surface(e, MsgWatchFailed))
}

func (t *Tracker) adoptWatch(s *session, handle Handle, tok *watchToken) {
	if handle == nil {
		tok.cleared.Store(true)
		return
	}
	t.watchMu.Lock()
	defer t.watchMu.Unlock()
	if !s.alive.Load() || t.watch != nil {
		tok.cleared.Store(true)
		handle.Clear()
		return
	}
	t.watch = handle
	t.watchOwner = s
	t.watchTok = tok
	t.log.Debug("location watch started", slog.String("source", t.sourceName()))
}

func (t *Tracker) releaseWatch(s *session) {
	t.watchMu.Lock()
	if t.watch == nil || t.watchOwner != s {
		t.watchMu.Unlock()
		return
	}
	handle := t.watch
	t.watchTok.cleared.Store(true)
	t.watch = nil
	t.watchOwner = nil
	t.watchTok = nil
	t.watchMu.Unlock()

	handle.Clear()
	t.log.Debug("location watch released", slog.String("source", t.sourceName()))
}

func (t *Tracker) watchingFor(s *session) bool {
	t.watchMu.Lock()
	defer t.watchMu.Unlock()
	return t.watch != nil && t.watchOwner == s
}

func (t *Tracker) ingest(s *session, sample Sample) {
	est, err := s.window.Add(sample, t.clock.Now())
	if err != nil {
		t.log.Debug("rejected location sample", slog.String("source", t.sourceName()), logger.Err(err))
		t.rec.SampleRejected(t.sourceName())
		return
	}
	t.rec.SampleAccepted(t.sourceName())
	t.estimate.Store(&est)
	t.rec.EstimateEmitted(est)
	t.estimates.Publish(est)
}

func (t *Tracker) emitError(e *Error) {
	t.rec.ErrorEmitted(e.Kind)
	t.errs.Publish(e)
}

func (t *Tracker) teardown(s *session) {
	s.once.Do(func() {
		s.alive.Store(false)
		s.cancel()
		t.releaseWatch(s)

		s.notifyMu.Lock()
		stop := s.stopNotify
		s.stopNotify = nil
		s.notifyMu.Unlock()
		if stop != nil {
			stop()
		}

		for _, unsub := range s.unsubs {
			unsub()
		}

		t.mu.Lock()
		if t.session == s {
			t.session = nil
		}
		if t.session == nil {
			t.setState(StateUnknown)
		}
		t.mu.Unlock()
	})
}

// setState stores the new state and returns the previous one.
func (t *Tracker) setState(state State) State {
	prev := State(t.state.Swap(int32(state)))
	if prev != state {
		t.rec.StateChanged(state)
		t.log.Debug("location tracker state changed", slog.String("from", prev.String()),
			slog.String("to", state.String()))
	}
	return prev
}

func (t *Tracker) sourceName() string {
	if t.source == nil {
		return "none"
	}
	return t.source.Name()
}

// surface returns the error as it is shown to the user, using fallback if the source did not
// provide a message.
func surface(e *Error, fallback string) *Error {
	return &Error{Kind: e.Kind, Message: e.Text(fallback), Err: e.Err}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
