package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"hgu-gateway/internal/catalog"
	"hgu-gateway/internal/logger"
	"hgu-gateway/internal/metrics"
	"hgu-gateway/internal/model"
)

const (
	defaultSupervisorInterval = 5 * time.Second
	defaultEventInterval      = 100 * time.Millisecond
	defaultStaleAfter         = 60 * time.Second
	loopPause                 = time.Second
	closeTimeout              = 5 * time.Second
)

var (
	ErrConnect      = errors.New("controller connection failed")
	ErrNoNodes      = errors.New("no catalog node could be resolved")
	ErrSubscription = errors.New("subscription failed")
	ErrRunning      = errors.New("session already running")
)

// Sink receives decoded samples. *pipeline.Pipeline satisfies it.
type Sink interface {
	Enqueue(s model.SensorSample) error
}

// Options configures a Session.
type Options struct {
	Catalog   *catalog.Catalog
	Transport Transport
	Sink      Sink

	SubscriptionInterval time.Duration
	AutoReconnect        bool
	ReconnectDelay       time.Duration
	// MaxReconnectAttempts of zero means unlimited.
	MaxReconnectAttempts int

	SupervisorInterval time.Duration
	EventInterval      time.Duration
	StaleAfter         time.Duration

	Logger      *zap.SugaredLogger
	Metrics     *metrics.Collectors
	Performance *metrics.Performance
}

// Stats is a point-in-time view of the session.
type Stats struct {
	State              State     `json:"state"`
	Nodes              int       `json:"nodes"`
	Subscribed         int       `json:"subscribed"`
	Messages           uint64    `json:"messages"`
	SubscriptionErrors uint64    `json:"subscription_errors"`
	ReconnectAttempts  int       `json:"reconnect_attempts"`
	LastData           time.Time `json:"last_data"`
	Exhausted          bool      `json:"exhausted"`
}

// Session owns one controller connection, its subscription and the loops
// that keep it alive.
type Session struct {
	opts Options
	log  *zap.SugaredLogger
	tr   Transport
	perf *metrics.Performance
	now  func() time.Time

	// defs is the handle arena: handle h refers to defs[h-1].
	defs []model.SensorDefinition

	connMu      sync.Mutex
	state       *fsm.FSM
	nodes       []Item
	handles     map[uint32]int
	attempts    int
	lastAttempt time.Time
	lastProbe   time.Time

	lastData  atomic.Int64
	messages  atomic.Uint64
	subErrors atomic.Uint64
	exhausted atomic.Bool
	running   atomic.Bool

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

// New validates opts and returns a disconnected session.
func New(opts Options) (*Session, error) {
	if opts.Catalog == nil || opts.Catalog.Len() == 0 {
		return nil, catalog.ErrEmpty
	}
	if opts.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("session: sink is required")
	}
	if opts.SubscriptionInterval <= 0 {
		opts.SubscriptionInterval = time.Second
	}
	if opts.SupervisorInterval <= 0 {
		opts.SupervisorInterval = defaultSupervisorInterval
	}
	if opts.EventInterval <= 0 {
		opts.EventInterval = defaultEventInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.Performance == nil {
		opts.Performance = &metrics.Performance{}
	}

	s := &Session{
		opts:    opts,
		log:     logger.OrNop(opts.Logger).Named("session"),
		tr:      opts.Transport,
		perf:    opts.Performance,
		now:     time.Now,
		defs:    opts.Catalog.All(),
		handles: make(map[uint32]int),
		done:    make(chan struct{}),
	}
	s.state = newStateMachine(func(from, to State) {
		s.log.Debugw("state change", "from", from, "to", to)
		opts.Metrics.State(string(to), AllStates)
	})
	opts.Metrics.State(string(StateDisconnected), AllStates)
	return s, nil
}

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Current()) }

// fire ignores cancellation so teardown transitions still land.
func (s *Session) fire(ctx context.Context, event string) {
	if err := s.state.Event(context.WithoutCancel(ctx), event); err != nil {
		var noop fsm.NoTransitionError
		if !errors.As(err, &noop) {
			s.log.Warnw("invalid state transition", "event", event, "state", s.State(), "error", err)
		}
	}
}

// Connect opens the transport, resolves the catalog and subscribes to every
// node the controller accepts. It is a no-op when already connected.
func (s *Session) Connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) error {
	switch s.State() {
	case StateDisconnected, StateFailed:
	default:
		return nil
	}

	s.fire(ctx, eventConnect)
	s.log.Infow("connecting to controller")
	if err := s.tr.Open(ctx); err != nil {
		s.failLocked(ctx)
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	s.fire(ctx, eventOpened)

	nodes := s.discoverLocked(ctx)
	if len(nodes) == 0 {
		s.failLocked(ctx)
		return ErrNoNodes
	}

	accepted, err := s.tr.Subscribe(ctx, s.opts.SubscriptionInterval, nodes)
	if err != nil {
		s.failLocked(ctx)
		return fmt.Errorf("%w: %v", ErrSubscription, err)
	}
	handles := make(map[uint32]int, len(accepted))
	for _, h := range accepted {
		if h == 0 || int(h) > len(s.defs) {
			s.log.Warnw("controller accepted unknown handle", "handle", h)
			continue
		}
		handles[h] = int(h - 1)
	}
	if len(handles) == 0 {
		s.failLocked(ctx)
		return fmt.Errorf("%w: no monitored item accepted", ErrSubscription)
	}

	s.nodes = nodes
	s.handles = handles
	s.lastData.Store(s.now().UnixMilli())
	s.lastProbe = time.Time{}
	s.fire(ctx, eventSubscribed)
	s.log.Infow("subscription active", "nodes", len(nodes), "monitored", len(handles), "catalog", len(s.defs))
	return nil
}

// discoverLocked resolves every catalog address and keeps the ones the
// controller can read. Failures are per node.
func (s *Session) discoverLocked(ctx context.Context) []Item {
	nodes := make([]Item, 0, len(s.defs))
	for i, def := range s.defs {
		addr, err := ParseAddress(def.Address)
		if err != nil {
			s.log.Warnw("skipping sensor", "sensor", def.ID, "error", err)
			continue
		}
		item := Item{Handle: uint32(i + 1), Address: addr, Digital: def.Digital}
		if err := s.tr.Read(ctx, item); err != nil {
			s.log.Warnw("sensor not readable", "sensor", def.ID, "address", def.Address, "error", err)
			continue
		}
		nodes = append(nodes, item)
	}
	return nodes
}

func (s *Session) failLocked(ctx context.Context) {
	s.fire(ctx, eventFail)
	s.closeTransport(ctx)
	s.fire(ctx, eventDisconnect)
}

// Disconnect removes the subscription and closes the transport. Calling it
// on a disconnected session does nothing.
func (s *Session) Disconnect(ctx context.Context) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.disconnectLocked(ctx)
}

func (s *Session) disconnectLocked(ctx context.Context) {
	if s.State() == StateDisconnected {
		return
	}
	if len(s.handles) > 0 {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		err := s.tr.Unsubscribe(uctx)
		cancel()
		if err != nil {
			s.log.Warnw("unsubscribe failed", "error", err)
		}
	}
	s.closeTransport(ctx)
	s.fire(ctx, eventDisconnect)
	s.log.Infow("disconnected from controller")
}

func (s *Session) closeTransport(ctx context.Context) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := s.tr.Close(cctx); err != nil {
		s.log.Debugw("transport close", "error", err)
	}
	s.nodes = nil
	s.handles = make(map[uint32]int)
}

// Start launches the supervisor and event loops.
func (s *Session) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.loop(loopCtx, "supervisor", s.opts.SupervisorInterval, s.supervise)
	go s.loop(loopCtx, "events", s.opts.EventInterval, s.poll)
	return nil
}

// Stop cancels both loops and waits for them. It leaves the connection as is.
func (s *Session) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.cancel()
	s.wg.Wait()
}

// Done is closed once the reconnect budget is exhausted.
func (s *Session) Done() <-chan struct{} { return s.done }

// Exhausted reports whether the session gave up reconnecting.
func (s *Session) Exhausted() bool { return s.exhausted.Load() }

// loop runs step every interval until ctx ends or step reports it is finished.
// A panicking step is logged and the loop resumes after a pause.
func (s *Session) loop(ctx context.Context, name string, every time.Duration, step func(context.Context) bool) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		finished, panicked := s.guard(ctx, name, step)
		if finished {
			s.log.Infow("loop finished", "loop", name)
			return
		}
		if panicked {
			select {
			case <-ctx.Done():
				return
			case <-time.After(loopPause):
			}
		}
	}
}

func (s *Session) guard(ctx context.Context, name string, step func(context.Context) bool) (finished, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("loop panic recovered", "loop", name, "panic", r)
			panicked = true
		}
	}()
	return step(ctx), false
}

// supervise is one supervisor tick: reconnect when down, probe when stale.
func (s *Session) supervise(ctx context.Context) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.exhausted.Load() {
		return true
	}
	switch s.State() {
	case StateDisconnected, StateFailed:
		return s.reconnectLocked(ctx)
	case StateSubscriptionActive, StateConnected:
		s.probeLocked(ctx)
	}
	return false
}

func (s *Session) reconnectLocked(ctx context.Context) bool {
	if !s.opts.AutoReconnect {
		return false
	}
	now := s.now()
	if !s.lastAttempt.IsZero() {
		// Whole seconds on both sides: sub-second delays wait zero seconds.
		elapsed := int64(now.Sub(s.lastAttempt) / time.Second)
		if elapsed < s.opts.ReconnectDelay.Milliseconds()/1000 {
			return false
		}
	}

	s.perf.AddReconnect()
	s.opts.Metrics.Reconnect()
	err := s.connectLocked(ctx)
	if err == nil {
		s.log.Infow("reconnected", "after_attempts", s.attempts+1)
		s.attempts = 0
		s.lastAttempt = time.Time{}
		return false
	}

	s.attempts++
	s.lastAttempt = now
	s.log.Warnw("reconnect failed", "attempt", s.attempts, "max", s.opts.MaxReconnectAttempts, "error", err)
	if s.opts.MaxReconnectAttempts > 0 && s.attempts >= s.opts.MaxReconnectAttempts {
		s.exhausted.Store(true)
		s.doneOnce.Do(func() { close(s.done) })
		s.log.Errorw("reconnect attempts exhausted, giving up", "attempts", s.attempts)
		return true
	}
	return false
}

func (s *Session) probeLocked(ctx context.Context) {
	now := s.now()
	if now.Sub(time.UnixMilli(s.lastData.Load())) < s.opts.StaleAfter {
		return
	}
	if !s.lastProbe.IsZero() && now.Sub(s.lastProbe) < s.opts.StaleAfter {
		return
	}
	s.lastProbe = now
	if len(s.nodes) == 0 {
		return
	}
	node := s.nodes[0]
	if err := s.tr.Read(ctx, node); err != nil {
		s.log.Warnw("stale data probe failed, dropping connection", "address", node.Address, "error", err)
		s.disconnectLocked(ctx)
		return
	}
	s.log.Debugw("stale data probe ok", "address", node.Address)
}

// poll is one event loop tick.
func (s *Session) poll(ctx context.Context) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	switch s.State() {
	case StateConnected, StateSubscriptionActive:
	default:
		return false
	}

	notes, err := s.tr.Poll(ctx)
	for _, n := range notes {
		s.dispatchLocked(n)
	}
	if err != nil {
		if IsRetriable(err) {
			s.log.Debugw("transient transport error", "error", err)
			return false
		}
		s.log.Warnw("transport error, dropping connection", "error", err)
		s.disconnectLocked(ctx)
	}
	return false
}

// dispatchLocked is the data-change handler.
func (s *Session) dispatchLocked(n Notification) {
	s.messages.Add(1)
	s.opts.Metrics.Notification()

	idx, ok := s.handles[n.Handle]
	if !ok {
		s.subErrors.Add(1)
		s.log.Debugw("notification for unknown handle", "handle", n.Handle)
		return
	}
	def := s.defs[idx]
	if n.Value == nil {
		s.subErrors.Add(1)
		s.log.Debugw("notification without value", "sensor", def.ID)
		return
	}

	now := s.now()
	sample, err := decodeSample(def, n, now)
	if err != nil {
		s.subErrors.Add(1)
		s.log.Warnw("cannot decode value", "sensor", def.ID, "error", err)
		return
	}
	s.lastData.Store(now.UnixMilli())
	if err := s.opts.Sink.Enqueue(sample); err != nil {
		s.log.Debugw("sample not accepted", "sensor", def.ID, "error", err)
	}
}

// Stats returns counters and connection details.
func (s *Session) Stats() Stats {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return Stats{
		State:              s.State(),
		Nodes:              len(s.nodes),
		Subscribed:         len(s.handles),
		Messages:           s.messages.Load(),
		SubscriptionErrors: s.subErrors.Load(),
		ReconnectAttempts:  s.attempts,
		LastData:           time.UnixMilli(s.lastData.Load()),
		Exhausted:          s.exhausted.Load(),
	}
}

// Check is the readiness probe: nil only while the subscription is active.
func (s *Session) Check() error {
	if st := s.State(); st != StateSubscriptionActive {
		return fmt.Errorf("controller session is %s", st)
	}
	return nil
}

// Alive is the liveness probe: it fails once reconnecting was given up.
func (s *Session) Alive() error {
	if s.exhausted.Load() {
		return errors.New("controller reconnect attempts exhausted")
	}
	return nil
}
