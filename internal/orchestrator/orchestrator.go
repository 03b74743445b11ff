// Package orchestrator drives peer sessions from signaling events for one
// participant of a streaming session.
//
// Every bus message, timer and transport callback is posted onto a single
// event loop per Orchestrator, which is the only goroutine that touches the
// session map, the candidate queue and the active source.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"vico_home/actorcast/internal/credentials"
	"vico_home/actorcast/internal/domain"
	"vico_home/actorcast/internal/metrics"
	"vico_home/actorcast/internal/peer"
	"vico_home/actorcast/internal/signal"
	"vico_home/actorcast/internal/stream"
)

const (
	DefaultSettleDelay = 500 * time.Millisecond

	taskBuffer = 256
)

var (
	ErrStopped        = errors.New("orchestrator stopped")
	ErrAlreadyStarted = errors.New("orchestrator already started")
	ErrNotStarted     = errors.New("orchestrator not started")
)

// Config configures an Orchestrator.
type Config struct {
	LocalID     string
	DisplayName string
	Session     string

	Transport domain.Transport
	Bus       signal.Bus

	// Credentials is used as is when set. Otherwise a Manager is built
	// around CredentialService, which may be nil for STUN only.
	Credentials       *credentials.Manager
	CredentialService domain.CredentialService

	Metrics metrics.Collector

	// SettleDelay is how long an actor waits after Start before its first
	// announcement. Zero means DefaultSettleDelay.
	SettleDelay time.Duration

	// OnRemoteTrack runs on the event loop for every inbound track. It must
	// not block or call back into the Orchestrator synchronously.
	OnRemoteTrack func(from string, t domain.RemoteTrack)

	LoggerFactory logging.LoggerFactory
}

// Orchestrator owns the peer sessions of one local participant.
type Orchestrator struct {
	cfg     Config
	lf      logging.LoggerFactory
	log     logging.LeveledLogger
	metrics metrics.Collector
	creds   *credentials.Manager
	settleD time.Duration

	tasks    chan func()
	done     chan struct{}
	loopDone chan struct{}

	lifecycle sync.Mutex
	started   bool
	stopped   bool
	stopOnce  sync.Once

	// Owned by the event loop.
	role         domain.Role
	participants map[string]domain.Participant
	actorID      string
	sessions     map[string]*peer.Session
	queue        *peer.CandidateQueue
	stream       *stream.Controller
	channel      *signal.Channel
	settle       *time.Timer
	announced    bool
	remote       *RemoteStream
	lastErr      string
	provenance   domain.Provenance
	closing      bool

	statusMu   sync.RWMutex
	status     Snapshot
	remoteSnap *RemoteStream
}

// New creates an idle Orchestrator.
func New(cfg Config) *Orchestrator {
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	creds := cfg.Credentials
	if creds == nil {
		creds = credentials.NewManager(credentials.Config{
			Service:       cfg.CredentialService,
			LocalID:       cfg.LocalID,
			LoggerFactory: lf,
		})
	}
	settle := cfg.SettleDelay
	if settle == 0 {
		settle = DefaultSettleDelay
	}

	return &Orchestrator{
		cfg:          cfg,
		lf:           lf,
		log:          lf.NewLogger("orchestrator"),
		metrics:      m,
		creds:        creds,
		settleD:      settle,
		tasks:        make(chan func(), taskBuffer),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		participants: make(map[string]domain.Participant),
		sessions:     make(map[string]*peer.Session),
		queue:        peer.NewCandidateQueue(),
	}
}

// RoleFor derives the local role from session context: the participant
// whose id is the session's actor id is the actor, everyone else views.
func RoleFor(localID, actorID string) domain.Role {
	if localID != "" && localID == actorID {
		return domain.RoleActor
	}
	return domain.RoleViewer
}

// Start joins the session. Credentials are fetched in the background; until
// they arrive new sessions use the STUN fallback. Cancelling ctx stops the
// Orchestrator.
func (o *Orchestrator) Start(ctx context.Context, role domain.Role, source domain.MediaSource, participants []domain.Participant) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	if o.stopped {
		return ErrStopped
	}
	if o.started {
		return ErrAlreadyStarted
	}
	if o.cfg.Transport == nil {
		return errors.New("transport is required")
	}
	if o.cfg.Bus == nil {
		return errors.New("signaling bus is required")
	}

	ch, err := signal.Open(ctx, signal.ChannelConfig{
		Bus:           o.cfg.Bus,
		Session:       o.cfg.Session,
		LocalID:       o.cfg.LocalID,
		LoggerFactory: o.lf,
	})
	if err != nil {
		return fmt.Errorf("open signal channel: %w", err)
	}

	o.role = role
	o.channel = ch
	o.stream = stream.NewController(source, o.lf)
	for _, p := range participants {
		if p.ID == "" || p.ID == o.cfg.LocalID {
			continue
		}
		o.participants[p.ID] = p
		if role == domain.RoleViewer && p.Role == domain.RoleActor && o.actorID == "" {
			o.actorID = p.ID
		}
	}
	o.register(ch)
	o.creds.SetOnRefresh(func(set *domain.CredentialSet) {
		o.post(func() { o.applyCredentials(set) })
	})

	o.started = true
	go o.run()

	go func() {
		set := o.creds.Fetch(ctx)
		o.post(func() {
			o.applyCredentials(set)
			o.creds.ScheduleRefresh(set)
		})
	}()
	go func() {
		select {
		case <-ctx.Done():
			o.Stop()
		case <-o.done:
		}
	}()

	o.post(o.begin)
	return nil
}

// Stop leaves the session: announces departure, closes every session and
// the bus channel, and cancels pending timers. It is idempotent, safe
// before Start, and must not be called from OnRemoteTrack.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.lifecycle.Lock()
		o.stopped = true
		started := o.started
		o.lifecycle.Unlock()

		if started {
			finished := make(chan struct{})
			o.tasks <- func() {
				defer close(finished)
				o.teardown()
			}
			<-finished
		}
		close(o.done)
		if started {
			<-o.loopDone
		}
	})
}

// SetLocalSource swaps the active source on every live session. A nil or
// empty source stops streaming. Viewers ignore it.
func (o *Orchestrator) SetLocalSource(src domain.MediaSource) error {
	return o.do(func() { o.setSource(src) })
}

// RemoveParticipant drops a participant and closes its session, for callers
// that learn about departures from presence rather than signaling.
func (o *Orchestrator) RemoveParticipant(id string) error {
	return o.do(func() {
		delete(o.participants, id)
		o.removeSession(id)
		if o.role == domain.RoleViewer && id == o.actorID {
			o.actorID = ""
		}
	})
}

func (o *Orchestrator) run() {
	defer close(o.loopDone)
	for {
		select {
		case <-o.done:
			return
		case f := <-o.tasks:
			if o.closing {
				continue
			}
			f()
			o.publishStatus()
		}
	}
}

// post queues f on the loop. It reports false once the Orchestrator has
// stopped.
func (o *Orchestrator) post(f func()) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case <-o.done:
		return false
	case o.tasks <- f:
		return true
	}
}

// do runs f on the loop and waits for it.
func (o *Orchestrator) do(f func()) error {
	o.lifecycle.Lock()
	started, stopped := o.started, o.stopped
	o.lifecycle.Unlock()
	if stopped {
		return ErrStopped
	}
	if !started {
		return ErrNotStarted
	}

	finished := make(chan struct{})
	if !o.post(func() {
		defer close(finished)
		f()
		o.publishStatus()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-o.loopDone:
		return ErrStopped
	}
}

func (o *Orchestrator) begin() {
	o.log.Infof("%s %s joined session %s", o.role, o.cfg.LocalID, o.cfg.Session)
	switch o.role {
	case domain.RoleActor:
		if o.stream.Active() {
			o.scheduleAnnounce()
		}
	case domain.RoleViewer:
		if o.actorID != "" {
			o.requestStream(o.actorID)
		}
	}
}

func (o *Orchestrator) scheduleAnnounce() {
	if o.settle != nil {
		o.settle.Stop()
	}
	o.settle = time.AfterFunc(o.settleD, func() { o.post(o.announce) })
}

// announce broadcasts ActorStreaming. Without a source it does nothing.
func (o *Orchestrator) announce() {
	o.settle = nil
	src := o.stream.Source()
	if src == nil {
		o.log.Debugf("no source, not announcing")
		return
	}
	o.send(domain.EventActorStreaming, "", domain.Announcement{Name: o.cfg.DisplayName, SourceID: src.ID()})
	o.announced = true
}

func (o *Orchestrator) requestStream(actorID string) {
	o.log.Infof("requesting stream from %s", actorID)
	o.send(domain.EventViewerRequest, actorID, domain.Announcement{Name: o.cfg.DisplayName})
}

func (o *Orchestrator) setSource(src domain.MediaSource) {
	if o.role != domain.RoleActor {
		o.log.Warnf("viewer cannot set a local source")
		return
	}

	res := o.stream.SetSource(src, o.liveSessions())
	o.metrics.SourceSwap(res.Empty)
	if res.Empty {
		o.stopStreaming()
		return
	}

	for id, err := range res.Failed {
		if s := o.sessions[id]; s != nil {
			o.failSession(s, fmt.Errorf("swap source: %w", err))
		}
	}
	for _, id := range res.Renegotiate {
		o.createOfferForViewer(id)
	}
	if o.settle == nil {
		o.announce()
	}
}

// stopStreaming closes every session and tells viewers the stream is gone.
func (o *Orchestrator) stopStreaming() {
	if o.settle != nil {
		o.settle.Stop()
		o.settle = nil
	}
	o.closeAll()
	o.queue.Reset()
	if o.announced {
		o.send(domain.EventActorStopped, "", nil)
		o.announced = false
	}
}

func (o *Orchestrator) teardown() {
	if o.settle != nil {
		o.settle.Stop()
		o.settle = nil
	}
	o.creds.Stop()

	switch o.role {
	case domain.RoleActor:
		if o.announced {
			o.send(domain.EventActorStopped, "", nil)
			o.announced = false
		}
	case domain.RoleViewer:
		if o.actorID != "" {
			o.send(domain.EventViewerLeave, o.actorID, nil)
		}
	}

	o.closeAll()
	o.queue.Reset()
	o.remote = nil
	if err := o.channel.Close(); err != nil {
		o.log.Debugf("close signal channel: %v", err)
	}
	o.closing = true
	o.log.Infof("%s left session %s", o.cfg.LocalID, o.cfg.Session)
}

func (o *Orchestrator) send(t domain.EventType, to string, payload any) {
	if err := o.channel.Send(t, to, payload); err != nil {
		o.recordError("signaling: %v", err)
	}
}

func (o *Orchestrator) recordError(format string, args ...any) {
	o.lastErr = fmt.Sprintf(format, args...)
	o.log.Warnf("%s", o.lastErr)
}

// applyCredentials records a fetched set and hands it to live sessions for
// later gathering. Their current candidate pairs keep the old servers, and
// transports that cannot reconfigure leave it to sessions created afterwards.
func (o *Orchestrator) applyCredentials(set *domain.CredentialSet) {
	o.provenance = set.Provenance
	o.metrics.CredentialFetch(set.Provenance)

	for _, s := range o.liveSessions() {
		err := s.Reconfigure(set.Servers)
		switch {
		case errors.Is(err, domain.ErrReconfigureUnsupported):
			o.log.Debugf("%s keeps its ice servers: %v", s.RemoteID, err)
		case err != nil:
			o.log.Warnf("reconfigure %s: %v", s.RemoteID, err)
		}
	}
}
