package irc

import (
	"sync"
	"time"
)

// Supervisor owns a named Session's lifecycle across reconnects: creating
// it, noticing when it drops, and deciding whether/when to bring it back.
// Grounded on the teacher's Connection.Loop()/Reconnect() pair, generalized
// from a single always-reconnecting connection into spec.md §6's named,
// independently governed sessions, and on
// original_source/ircrobots/bot.py's disconnected callback + backoff.
type Supervisor interface {
	CreateSession(name string, params ConnectionParams) *Session
	Disconnected(name string, err error)
	Disconnect(name string)
}

const maxReconnectDelay = 300 * time.Second

// DefaultSupervisor reconnects a dropped session after an exponentially
// growing delay (doubling from ConnectionParams.ReconnectSeconds, capped at
// maxReconnectDelay), resetting back to the initial delay once a
// reconnected session reaches RPL_WELCOME.
type DefaultSupervisor struct {
	mu       sync.Mutex
	sessions map[string]*supervisedSession
}

type supervisedSession struct {
	params  ConnectionParams
	session *Session
	delay   time.Duration
	stopped bool
}

// NewDefaultSupervisor builds an empty supervisor.
func NewDefaultSupervisor() *DefaultSupervisor {
	return &DefaultSupervisor{sessions: make(map[string]*supervisedSession)}
}

// CreateSession registers name, dials params' transport, and runs the
// handshake; a dial or handshake failure schedules the same backoff a later
// unexpected disconnect would.
func (d *DefaultSupervisor) CreateSession(name string, params ConnectionParams) *Session {
	d.mu.Lock()
	d.sessions[name] = &supervisedSession{
		params: params,
		delay:  initialDelay(params),
	}
	d.mu.Unlock()

	return d.connect(name, params)
}

func (d *DefaultSupervisor) connect(name string, params ConnectionParams) *Session {
	session := NewSession(params)
	session.OnDisconnect = func(err error) { d.Disconnected(name, err) }
	session.Reconnect = func(newParams ConnectionParams) error {
		d.mu.Lock()
		if sup, ok := d.sessions[name]; ok {
			sup.params = newParams
		}
		d.mu.Unlock()
		go d.reconnectNow(name)
		return nil
	}

	d.mu.Lock()
	if sup, ok := d.sessions[name]; ok {
		sup.session = session
	}
	d.mu.Unlock()

	transport, err := DialTransport(&params)
	if err != nil {
		go d.scheduleReconnect(name, err)
		return session
	}
	if err := session.Connect(transport); err != nil {
		go d.scheduleReconnect(name, err)
		return session
	}

	d.mu.Lock()
	if sup, ok := d.sessions[name]; ok {
		sup.delay = initialDelay(sup.params)
	}
	d.mu.Unlock()
	return session
}

// Disconnected applies the reconnect-with-backoff policy to name's session,
// unless Disconnect has already stopped it.
func (d *DefaultSupervisor) Disconnected(name string, err error) {
	d.scheduleReconnect(name, err)
}

func (d *DefaultSupervisor) scheduleReconnect(name string, _ error) {
	d.mu.Lock()
	sup, ok := d.sessions[name]
	if !ok || sup.stopped {
		d.mu.Unlock()
		return
	}
	delay := sup.delay
	next := sup.delay * 2
	if next > maxReconnectDelay {
		next = maxReconnectDelay
	}
	sup.delay = next
	params := sup.params
	d.mu.Unlock()

	time.Sleep(delay)

	d.mu.Lock()
	stopped := d.sessions[name] == nil || d.sessions[name].stopped
	d.mu.Unlock()
	if stopped {
		return
	}
	d.connect(name, params)
}

func (d *DefaultSupervisor) reconnectNow(name string) {
	d.mu.Lock()
	sup, ok := d.sessions[name]
	d.mu.Unlock()
	if !ok || sup.stopped {
		return
	}
	d.connect(name, sup.params)
}

// Disconnect stops future reconnect attempts for name and tears down its
// current session, if any.
func (d *DefaultSupervisor) Disconnect(name string) {
	d.mu.Lock()
	sup, ok := d.sessions[name]
	if ok {
		sup.stopped = true
	}
	d.mu.Unlock()
	if ok && sup.session != nil {
		sup.session.Disconnect()
	}
}

func initialDelay(params ConnectionParams) time.Duration {
	if params.ReconnectSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(params.ReconnectSeconds) * time.Second
}
