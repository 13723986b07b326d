package broker

import (
	"context"
	"time"

	"github.com/jobmq/jobmq/config"
	"github.com/jobmq/jobmq/protocol"

	log "github.com/sirupsen/logrus"
)

// Router is the central routing state machine. It owns the worker and
// scheduler registries and the waiting buffer exclusively; every mutation
// happens on the event loop goroutine.
type Router struct {
	config *config.Config
	clock  protocol.Clock

	frontend protocol.Socket
	backend  protocol.Socket

	frontendSock *protocol.RouterSocket
	backendSock  *protocol.RouterSocket
	poller       *protocol.Poller

	workers    *WorkerRegistry
	schedulers *SchedulerRegistry
	waiting    *WaitingBuffer

	lastWorkerHeartbeat    time.Duration
	lastSchedulerHeartbeat time.Duration

	receivedDisconnect bool
	state              *state
}

// NewRouter creates a router from a configuration snapshot.
func NewRouter(cfg *config.Config) *Router {
	return newRouter(cfg, protocol.NewSystemClock())
}

func newRouter(cfg *config.Config, clock protocol.Clock) *Router {
	return &Router{
		config:     cfg,
		clock:      clock,
		workers:    NewWorkerRegistry(cfg.HeartbeatTimeout, cfg.WorkerCleanupInterval),
		schedulers: NewSchedulerRegistry(cfg.HeartbeatTimeout, cfg.SchedulerCleanupInterval),
		waiting:    NewWaitingBuffer(cfg.HWM),
		state:      newState(),
	}
}

// Bind binds the frontend and backend endpoints in listen mode. A bind
// failure is the one unrecoverable error the router surfaces.
func (r *Router) Bind() error {
	frontend, err := protocol.NewRouterSocket(r.config.FrontendAddr)
	if err != nil {
		r.state.setLastError(err)
		return err
	}

	backend, err := protocol.NewRouterSocket(r.config.BackendAddr)
	if err != nil {
		frontend.Close()
		r.state.setLastError(err)
		return err
	}

	poller, err := protocol.NewPoller(frontend, backend)
	if err != nil {
		frontend.Close()
		backend.Close()
		r.state.setLastError(err)
		return err
	}

	r.frontendSock = frontend
	r.backendSock = backend
	r.frontend = frontend
	r.backend = backend
	r.poller = poller
	r.state.setStatus(StatusListening)

	log.WithFields(log.Fields{
		"frontend": r.config.FrontendAddr,
		"backend":  r.config.BackendAddr,
	}).Info("router listening")

	return nil
}

// Close unbinds both endpoints and releases the poller.
func (r *Router) Close() {
	if r.poller != nil {
		r.poller.Destroy()
		r.poller = nil
	}
	if r.frontendSock != nil {
		_ = r.frontendSock.Close()
		r.frontendSock = nil
	}
	if r.backendSock != nil {
		_ = r.backendSock.Close()
		r.backendSock = nil
	}
	r.state.setStatus(StatusStopped)
}

// Status returns the router's service status.
func (r *Router) Status() string {
	return r.state.getStatus()
}

// ErrorCount returns the number of recoverable errors the router has
// absorbed.
func (r *Router) ErrorCount() int {
	return r.state.getErrorCount()
}

// LastError returns the most recent recoverable error, if any.
func (r *Router) LastError() error {
	return r.state.getLastError()
}

// Run drives the event loop until a DISCONNECT is received or the context
// is canceled. Each iteration polls both endpoints with a bounded wait so
// periodic maintenance still runs when no messages arrive.
func (r *Router) Run(ctx context.Context) error {
	r.state.setStatus(StatusRunning)
	log.Debug("starting router event loop")

	for {
		if r.receivedDisconnect {
			log.Info("received disconnect, stopping")
			r.state.setStatus(StatusStopped)
			return nil
		}

		select {
		case <-ctx.Done():
			r.state.setStatus(StatusStopped)
			return nil
		default:
		}

		now := r.clock.Monotonic()

		ready, err := r.poller.Wait(int(r.config.HeartbeatInterval / time.Millisecond))
		if err != nil {
			r.state.setLastError(err)
			r.state.setStatus(StatusStopped)
			return err
		}

		switch ready {
		case nil:
			log.WithFields(log.Fields{
				"timeout": r.config.HeartbeatInterval,
			}).Trace("no messages received for the timeout duration")
		case r.frontend:
			recv, rerr := r.frontend.RecvMessage()
			if rerr != nil {
				r.state.setLastError(rerr)
				log.WithFields(log.Fields{"error": rerr}).Error("failed to receive on frontend")
				break
			}
			r.handleFrontend(protocol.FramesToStrings(recv))
		case r.backend:
			recv, rerr := r.backend.RecvMessage()
			if rerr != nil {
				r.state.setLastError(rerr)
				log.WithFields(log.Fields{"error": rerr}).Error("failed to receive on backend")
				break
			}
			r.handleBackend(protocol.FramesToStrings(recv))
		}

		r.maintain(now)
	}
}

// maintain interleaves periodic heartbeat sends and dead-peer sweeps
// between poll cycles.
func (r *Router) maintain(now time.Duration) {
	if r.config.DisableHeartbeats {
		return
	}

	if now-r.lastWorkerHeartbeat >= r.config.HeartbeatInterval {
		r.lastWorkerHeartbeat = now
		for _, id := range r.workers.All() {
			r.sendHeartbeat(r.backend, id)
		}
	}

	if now-r.lastSchedulerHeartbeat >= r.config.HeartbeatInterval {
		r.lastSchedulerHeartbeat = now
		for _, id := range r.schedulers.All() {
			r.sendHeartbeat(r.frontend, id)
		}
	}

	r.workers.Sweep(now)
	r.schedulers.Sweep(now)
}

// sendAck acknowledges an INFORM, echoing the original message id.
func (r *Router) sendAck(socket protocol.Socket, recipient, msgid string) {
	log.WithFields(log.Fields{"peer": recipient}).Info("sending ACK")

	frames := protocol.RouterFrames(recipient, &protocol.Message{
		Command: protocol.CmdAck,
		ID:      msgid,
	})
	if err := socket.SendMessage(protocol.StringsToFrames(frames)); err != nil {
		r.state.setLastError(err)
		log.WithFields(log.Fields{
			"peer":  recipient,
			"error": err,
		}).Error("failed to send ACK")
	}
}

func (r *Router) sendHeartbeat(socket protocol.Socket, recipient string) {
	frames := protocol.RouterFrames(recipient, &protocol.Message{
		Command: protocol.CmdHeartbeat,
		ID:      protocol.NewMessageID(),
		Body:    []string{protocol.WallTimestamp(r.clock.Wall())},
	})
	if err := socket.SendMessage(protocol.StringsToFrames(frames)); err != nil {
		log.WithFields(log.Fields{
			"peer":  recipient,
			"error": err,
		}).Debug("failed to send heartbeat")
	}
}

// forward re-addresses raw inbound frames to a new recipient, stripping the
// original sender identity.
func (r *Router) forward(socket protocol.Socket, recipient string, frames []string) error {
	out := protocol.ForwardFrames(recipient, frames)
	return socket.SendMessage(protocol.StringsToFrames(out))
}
