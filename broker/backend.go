package broker

import (
	"github.com/jobmq/jobmq/protocol"

	log "github.com/sirupsen/logrus"
)

// handleBackend classifies one message from a worker. Any message from a
// known worker counts as a heartbeat; the only command accepted from an
// unknown sender is INFORM.
func (r *Router) handleBackend(frames []string) {
	message, err := protocol.ParseRouterMessage(frames)
	if err != nil {
		r.state.setLastError(err)
		log.WithFields(log.Fields{
			"frames": frames,
			"error":  err,
		}).Warn("invalid message on backend")
		return
	}

	if r.workers.Known(message.Sender) {
		r.workers.Touch(message.Sender, r.clock.Monotonic())
	} else if message.Command != protocol.CmdInform {
		log.WithFields(log.Fields{
			"sender":  message.Sender,
			"command": message.Command,
		}).Warn("unknown worker attempting command")
		return
	}

	switch message.Command {
	case protocol.CmdInform:
		r.informBackend(message)
	case protocol.CmdReady:
		r.onReady(message.Sender)
	case protocol.CmdHeartbeat:
		// Liveness already recorded above.
	case protocol.CmdReply:
		r.forwardReply(message)
	case protocol.CmdDisconnect:
		log.WithFields(log.Fields{"worker": message.Sender}).Info("worker disconnecting")
		r.workers.Remove(message.Sender)
	default:
		log.WithFields(log.Fields{
			"sender":  message.Sender,
			"command": message.Command,
		}).Warn("unexpected command on backend")
	}
}

// informBackend registers a worker announcing itself for a queue.
func (r *Router) informBackend(message *protocol.Message) {
	queue := message.Body[0]
	clientType := message.Body[1]

	log.WithFields(log.Fields{
		"sender": message.Sender,
		"type":   clientType,
		"queue":  queue,
	}).Info("received INFORM")

	if clientType != protocol.ClientTypeWorker {
		log.WithFields(log.Fields{
			"sender": message.Sender,
			"type":   clientType,
		}).Warn("unexpected client type on backend")
		return
	}

	r.workers.Add(message.Sender, queue, r.clock.Monotonic())
	r.sendAck(r.backend, message.Sender, message.ID)
}

// onReady hands the worker the oldest waiting message for its queue, or
// records the free slot. A worker returning from queue q serves only that
// queue's backlog, even if another queue has older waiting messages.
func (r *Router) onReady(sender string) {
	queues := r.workers.Queues(sender)
	if len(queues) == 0 {
		return
	}
	queue := queues[0]

	frames, ok := r.waiting.PopFront(queue)
	if !ok {
		r.workers.Requeue(sender)
		return
	}

	log.WithFields(log.Fields{"queue": queue}).Debug("forwarding waiting message")

	if err := r.forward(r.backend, sender, frames); err != nil {
		r.state.setLastError(err)
		log.WithFields(log.Fields{
			"worker": sender,
			"queue":  queue,
			"error":  err,
		}).Warn("failed to forward waiting message, returning it to the buffer")
		r.waiting.pushFront(queue, frames)
	}
}

// forwardReply relays a worker's reply to the client identity carried in
// the first body frame. The router keeps no in-flight request table, so
// replies without a return identity are dropped.
func (r *Router) forwardReply(message *protocol.Message) {
	if len(message.Body) == 0 || message.Body[0] == "" {
		log.WithFields(log.Fields{
			"worker": message.Sender,
			"msgid":  message.ID,
		}).Debug("reply without return identity, discarding")
		return
	}

	client := message.Body[0]
	frames := protocol.RouterFrames(client, &protocol.Message{
		Command: protocol.CmdReply,
		ID:      message.ID,
		Body:    message.Body[1:],
	})
	if err := r.frontend.SendMessage(protocol.StringsToFrames(frames)); err != nil {
		if protocol.IsPeerGone(err) {
			log.WithFields(log.Fields{"client": client}).Debug("client has gone away, dropping reply")
			return
		}
		r.state.setLastError(err)
		log.WithFields(log.Fields{
			"client": client,
			"error":  err,
		}).Error("failed to forward reply")
	}
}
