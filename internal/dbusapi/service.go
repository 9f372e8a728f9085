package dbusapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/linuxdeepin/dde-zone/internal/events"
)

const (
	// DefaultPollInterval bounds how long the receive loop sleeps without
	// traffic before checking that the connection is still alive.
	DefaultPollInterval = time.Second

	inboxSize   = 64
	signalQueue = 16
)

// Conn is the subset of *dbus.Conn the service uses.
type Conn interface {
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	Eavesdrop(ch chan<- *dbus.Message)
	Send(msg *dbus.Message, ch chan *dbus.Call) *dbus.Call
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
	Connected() bool
	Close() error
}

// Config controls the service runtime.
type Config struct {
	BusName      string
	PollInterval time.Duration
	// SignalRate and SignalBurst throttle TestSignal emissions caused by
	// detection changes, which the shell may toggle rapidly.
	SignalRate  rate.Limit
	SignalBurst int
}

// DefaultConfig returns the settings used by the daemon.
func DefaultConfig() Config {
	return Config{
		BusName:      BusName,
		PollInterval: DefaultPollInterval,
		SignalRate:   rate.Limit(10),
		SignalBurst:  5,
	}
}

// Service owns one bus connection: it claims the well-known name, feeds
// every inbound frame through the Dispatcher in arrival order, and emits
// TestSignal on the same connection.
type Service struct {
	conn    Conn
	disp    *Dispatcher
	cfg     Config
	inbox   chan *dbus.Message
	signals chan map[string]float64
	limiter *rate.Limiter
}

// Dial connects to the session bus, or to address if it is not empty.
func Dial(ctx context.Context, address string) (*dbus.Conn, error) {
	if address == "" {
		return dbus.ConnectSessionBus(dbus.WithContext(ctx))
	}
	return dbus.Connect(address, dbus.WithContext(ctx))
}

// NewService creates a service over conn. Zero Config fields take their
// defaults.
func NewService(conn Conn, disp *Dispatcher, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.BusName == "" {
		cfg.BusName = def.BusName
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SignalRate == 0 {
		cfg.SignalRate = def.SignalRate
	}
	if cfg.SignalBurst <= 0 {
		cfg.SignalBurst = def.SignalBurst
	}
	return &Service{
		conn:    conn,
		disp:    disp,
		cfg:     cfg,
		inbox:   make(chan *dbus.Message, inboxSize),
		signals: make(chan map[string]float64, signalQueue),
		limiter: rate.NewLimiter(cfg.SignalRate, cfg.SignalBurst),
	}
}

// Start claims the bus name, replacing the current owner if it allows it,
// and then routes all inbound frames to the receive loop.
func (s *Service) Start() error {
	reply, err := s.conn.RequestName(s.cfg.BusName, dbus.NameFlagReplaceExisting|dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("dbus: request name %s: %w", s.cfg.BusName, err)
	}
	switch reply {
	case dbus.RequestNameReplyPrimaryOwner, dbus.RequestNameReplyAlreadyOwner:
	default:
		return fmt.Errorf("%w: %s (reply %d)", ErrNameTaken, s.cfg.BusName, reply)
	}

	// The name request above needs its reply delivered normally, so the
	// inbox is only installed once the name is ours.
	s.conn.Eavesdrop(s.inbox)
	slog.Info("dbus: service registered", "name", s.cfg.BusName, "path", ObjectPath)
	return nil
}

// Run processes frames one at a time until ctx is cancelled. A wake with no
// traffic only checks the connection; if it has gone away Run returns
// ErrDisconnected.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-s.inbox:
			// godbus closes the eavesdrop channel when the connection dies.
			if !ok {
				return ErrDisconnected
			}
			s.handle(msg)
		case payload := <-s.signals:
			s.emit(payload)
		case <-ticker.C:
			if !s.conn.Connected() {
				return ErrDisconnected
			}
		}
	}
}

// EmitSignal queues a TestSignal for the receive loop to send. It never
// blocks; if the queue is full the signal is dropped and false returned.
func (s *Service) EmitSignal(payload map[string]float64) bool {
	select {
	case s.signals <- payload:
		return true
	default:
		slog.Warn("dbus: signal queue full, dropping signal", "payload", payload)
		return false
	}
}

// Forward converts zone events from bus into TestSignal emissions until ctx
// is cancelled. Detection signals are rate limited; action changes are not.
// Throttled detection changes are coalesced: the latest value is sent once
// the limiter allows, so listeners always end on the current state.
func (s *Service) Forward(ctx context.Context, bus *events.Bus) {
	id := "dbus-" + uuid.NewString()
	ch := bus.Subscribe(id)
	defer bus.Unsubscribe(id)

	var (
		timer    *time.Timer
		trailing <-chan time.Time
		pending  events.Event
		lastSent = -1 // detection value last emitted, -1 before the first
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	sendDetected := func(ev events.Event) {
		v := 0
		if ev.Detected {
			v = 1
		}
		if v == lastSent {
			return
		}
		lastSent = v
		s.EmitSignal(SignalPayload(ev))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-trailing:
			trailing = nil
			sendDetected(pending)
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind != events.KindDetected {
				s.EmitSignal(SignalPayload(ev))
				continue
			}
			if trailing != nil {
				pending = ev
				continue
			}
			if s.limiter.Allow() {
				sendDetected(ev)
				continue
			}
			slog.Debug("dbus: detection signal throttled", "detected", ev.Detected)
			pending = ev
			delay := s.limiter.Reserve().Delay()
			if timer == nil {
				timer = time.NewTimer(delay)
			} else {
				timer.Reset(delay)
			}
			trailing = timer.C
		}
	}
}

// Close releases the connection.
func (s *Service) Close() error {
	return s.conn.Close()
}

func (s *Service) handle(msg *dbus.Message) {
	switch msg.Type {
	case dbus.TypeMethodCall:
		reply := s.disp.Handle(msg)
		if reply == nil {
			return
		}
		if call := s.conn.Send(reply, nil); call != nil && call.Err != nil {
			slog.Warn("dbus: failed to send reply", "err", call.Err)
		}
	case dbus.TypeSignal:
		s.handleSignal(msg)
	default:
		slog.Debug("dbus: ignoring frame", "type", msg.Type)
	}
}

func (s *Service) handleSignal(msg *dbus.Message) {
	member, _ := headerString(msg, dbus.FieldMember)
	var name string
	if len(msg.Body) > 0 {
		name, _ = msg.Body[0].(string)
	}
	switch {
	case member == "NameLost" && name == s.cfg.BusName:
		slog.Warn("dbus: lost bus name to another process", "name", name)
	case member == "NameAcquired" && name == s.cfg.BusName:
		slog.Debug("dbus: bus name acquired", "name", name)
	default:
		slog.Debug("dbus: ignoring signal", "member", member)
	}
}

func (s *Service) emit(payload map[string]float64) {
	if err := s.conn.Emit(ObjectPath, Interface+"."+SignalName, payload); err != nil {
		slog.Warn("dbus: failed to emit signal", "signal", SignalName, "err", err)
		return
	}
	slog.Debug("dbus: signal emitted", "signal", SignalName, "payload", payload)
}

// SignalPayload builds the a{sd} argument of TestSignal for ev: the
// detection flag as 0 or 1 under "detected", or the changed settings key
// mapped to 1.
func SignalPayload(ev events.Event) map[string]float64 {
	if ev.Kind == events.KindDetected {
		v := 0.0
		if ev.Detected {
			v = 1
		}
		return map[string]float64{"detected": v}
	}
	return map[string]float64{ev.Key: 1}
}
