package broker

import (
	"errors"

	"github.com/jobmq/jobmq/protocol"

	log "github.com/sirupsen/logrus"
)

// handleFrontend classifies one message from a client or scheduler.
func (r *Router) handleFrontend(frames []string) {
	message, err := protocol.ParseRouterMessage(frames)
	if err != nil {
		r.state.setLastError(err)
		log.WithFields(log.Fields{
			"frames": frames,
			"error":  err,
		}).Warn("invalid message on frontend")
		return
	}

	// Any message from a known scheduler counts as a heartbeat.
	if r.schedulers.Known(message.Sender) {
		r.schedulers.Touch(message.Sender, r.clock.Monotonic())
		if message.Command == protocol.CmdHeartbeat {
			return
		}
	}

	switch message.Command {
	case protocol.CmdRequest:
		r.dispatchRequest(message, frames)
	case protocol.CmdInform:
		r.informFrontend(message)
	case protocol.CmdSchedule:
		r.forwardSchedule(frames)
	case protocol.CmdUnschedule:
		r.broadcastUnschedule(frames)
	case protocol.CmdDisconnect:
		r.receivedDisconnect = true
	case protocol.CmdHeartbeat:
		log.WithFields(log.Fields{"sender": message.Sender}).Debug("heartbeat from unknown frontend peer")
	default:
		log.WithFields(log.Fields{
			"sender":  message.Sender,
			"command": message.Command,
		}).Warn("unexpected command on frontend")
	}
}

// dispatchRequest forwards a job request to the least recently used
// available worker in the target queue, buffering when none is free. A
// destination that has gone away costs one availability slot and the
// dispatch retries against the rest of the list, so the retry is bounded by
// the queue's size at this instant.
func (r *Router) dispatchRequest(message *protocol.Message, frames []string) {
	queue := message.Body[0]

	for {
		worker, err := r.workers.PopAvailable(queue)
		switch {
		case errors.Is(err, errUnknownQueue):
			log.WithFields(log.Fields{
				"queue": queue,
				"msgid": message.ID,
			}).Warn("request for unrecognized queue, discarding message")
			return
		case errors.Is(err, errEmptyQueue):
			if berr := r.waiting.Enqueue(queue, frames); berr != nil {
				r.state.setLastError(berr)
				log.WithFields(log.Fields{
					"queue": queue,
					"msgid": message.ID,
				}).Warn("high water mark hit, discarding message")
				return
			}
			log.WithFields(log.Fields{
				"queue":   queue,
				"waiting": r.waiting.Len(queue),
			}).Warn("no available workers, buffering message")
			return
		}

		if serr := r.forward(r.backend, worker, frames); serr != nil {
			if protocol.IsPeerGone(serr) {
				log.WithFields(log.Fields{
					"worker": worker,
					"queue":  queue,
				}).Debug("worker has unexpectedly gone away, trying another")
				continue
			}
			r.state.setLastError(serr)
			log.WithFields(log.Fields{
				"worker": worker,
				"error":  serr,
			}).Error("failed to forward request")
			return
		}

		return
	}
}

// informFrontend registers a scheduler announcing itself. Workers register
// on the backend; a worker INFORM arriving here is a peer on the wrong
// endpoint.
func (r *Router) informFrontend(message *protocol.Message) {
	clientType := message.Body[1]

	log.WithFields(log.Fields{
		"sender": message.Sender,
		"type":   clientType,
	}).Info("received INFORM")

	if clientType != protocol.ClientTypeScheduler {
		log.WithFields(log.Fields{
			"sender": message.Sender,
			"type":   clientType,
		}).Warn("unexpected client type on frontend")
		return
	}

	r.schedulers.Add(message.Sender, r.clock.Monotonic())
	r.sendAck(r.frontend, message.Sender, message.ID)
}

// forwardSchedule hands a SCHEDULE to exactly one scheduler, advancing the
// round-robin order. Gone peers are skipped until the registry is
// exhausted.
func (r *Router) forwardSchedule(frames []string) {
	for i := 0; i < r.schedulers.Len(); i++ {
		scheduler, ok := r.schedulers.Next()
		if !ok {
			break
		}

		err := r.forward(r.frontend, scheduler, frames)
		if err == nil {
			return
		}
		if protocol.IsPeerGone(err) {
			log.WithFields(log.Fields{
				"scheduler": scheduler,
			}).Debug("scheduler has unexpectedly gone away, trying another")
			continue
		}

		r.state.setLastError(err)
		log.WithFields(log.Fields{
			"scheduler": scheduler,
			"error":     err,
		}).Error("failed to forward schedule")
		return
	}

	log.Warn("no reachable scheduler for SCHEDULE, discarding message")
}

// broadcastUnschedule forwards an UNSCHEDULE to every registered scheduler.
// Per-scheduler failures are independent and do not abort the broadcast.
func (r *Router) broadcastUnschedule(frames []string) {
	for _, scheduler := range r.schedulers.All() {
		if err := r.forward(r.frontend, scheduler, frames); err != nil {
			if protocol.IsPeerGone(err) {
				log.WithFields(log.Fields{
					"scheduler": scheduler,
				}).Debug("scheduler has unexpectedly gone away, schedule may still exist")
				continue
			}
			r.state.setLastError(err)
			log.WithFields(log.Fields{
				"scheduler": scheduler,
				"error":     err,
			}).Error("failed to forward unschedule")
		}
	}
}
