// Package worker implements the worker side of the bus: announce queue
// membership, offer execution slots with READY, and receive job requests.
package worker

import (
	"time"

	"github.com/jobmq/jobmq/protocol"

	log "github.com/sirupsen/logrus"
)

// livenessCycles is the number of silent poll cycles before the worker
// considers the router gone and reconnects.
const livenessCycles = 3

// Worker defines a single worker peer instance.
type Worker struct {
	broker string
	queue  string

	conn   protocol.Socket
	dealer *protocol.DealerSocket
	poller *protocol.Poller

	heartbeatAt time.Time
	liveness    int
	heartbeat   time.Duration
	reconnect   time.Duration

	replyID     string
	expectReply bool
	shutdown    bool
}

// NewWorker creates a worker for one queue and connects it to the router
// backend.
func NewWorker(broker, queue string) (w *Worker, err error) {
	w = &Worker{
		broker:    broker,
		queue:     queue,
		heartbeat: protocol.HeartbeatInterval,
		reconnect: protocol.HeartbeatInterval,
	}

	err = w.ConnectToBroker()

	return
}

// ConnectToBroker connects or reconnects to the router backend and
// re-announces the worker's queue membership.
func (w *Worker) ConnectToBroker() (err error) {
	w.Close()

	if w.dealer, err = protocol.NewDealerSocket(w.broker); err != nil {
		log.WithFields(log.Fields{"error": err}).Error("failed to create dealer")
		return
	}
	w.conn = w.dealer

	if w.poller, err = protocol.NewPoller(w.dealer); err != nil {
		log.WithFields(log.Fields{"error": err}).Error("failed to create socket poller")
		return
	}

	if err = w.sendToBroker(protocol.CmdInform, []string{w.queue, protocol.ClientTypeWorker}); err != nil {
		log.WithFields(log.Fields{"error": err}).Error("failed to announce worker to broker")
		return
	}

	w.liveness = livenessCycles
	w.heartbeatAt = time.Now().Add(w.heartbeat)

	log.WithFields(log.Fields{
		"broker": w.broker,
		"queue":  w.queue,
	}).Info("worker connected to broker")

	return
}

// Close the worker connection.
func (w *Worker) Close() {
	if w.poller != nil {
		w.poller.Destroy()
		w.poller = nil
	}
	if w.dealer != nil {
		w.dealer.Close()
		w.dealer = nil
		w.conn = nil
	}
}

// Shutdown requests the receive loop to bail after the poller timeout.
func (w *Worker) Shutdown() {
	w.shutdown = true
	time.Sleep(w.heartbeat)
}

// Terminated is true when a shutdown was requested.
func (w *Worker) Terminated() bool {
	return w.shutdown
}

// SetHeartbeat sets the heartbeat delay.
func (w *Worker) SetHeartbeat(heartbeat time.Duration) {
	w.heartbeat = heartbeat
}

// SetReconnect sets the reconnection delay.
func (w *Worker) SetReconnect(reconnect time.Duration) {
	w.reconnect = reconnect
}

// Reply sends the result of the previous request. The first reply frame is
// the return identity the requester embedded in the job body, empty when
// the job expects none.
func (w *Worker) Reply(reply []string) error {
	body := make([]string, 0, len(reply))
	body = append(body, reply...)
	return w.send(protocol.CmdReply, w.replyID, body)
}

// Recv sends a reply for the previous request, if any, announces a free
// slot with READY, and waits for the next request. It returns the request
// body (queue name first); the body is nil when the loop ends on shutdown
// or on a poller error.
func (w *Worker) Recv(reply []string) (msg []string, err error) {
	if len(reply) == 0 && w.expectReply {
		log.Trace("request completed without a reply")
	}

	if len(reply) > 0 {
		if err = w.Reply(reply); err != nil {
			log.WithError(err).Error("failed to send reply")
			return nil, err
		}
	}

	if err = w.sendToBroker(protocol.CmdReady, nil); err != nil {
		log.WithError(err).Error("failed to send ready")
		return nil, err
	}

	w.expectReply = true

	for {
		ready, perr := w.poller.Wait(int(w.heartbeat / time.Millisecond))
		if perr != nil {
			log.WithFields(log.Fields{"err": perr}).Error("an error occurred while the worker was receiving data")
			break
		}

		if w.shutdown {
			break
		}

		if ready == nil {
			log.WithFields(log.Fields{
				"timeout": w.heartbeat,
			}).Trace("no messages received on worker socket for the timeout duration")
			w.liveness--
			if w.liveness <= 0 {
				time.Sleep(w.reconnect)
				if err = w.ConnectToBroker(); err != nil {
					log.WithFields(log.Fields{"err": err}).Error("worker failed to connect to broker")
				}
			}
		} else {
			recv, _ := ready.RecvMessage()
			frames := protocol.FramesToStrings(recv)

			if len(frames) == 0 {
				continue
			}
			w.liveness = livenessCycles

			message, merr := protocol.ParsePeerMessage(frames)
			if merr != nil {
				log.WithError(merr).Error("received invalid message")
				continue
			}

			switch message.Command {
			case protocol.CmdRequest:
				log.WithFields(log.Fields{
					"msgid": message.ID,
					"queue": message.Body[0],
				}).Debug("received request")
				w.replyID = message.ID
				msg = message.Body
				return
			case protocol.CmdHeartbeat:
				log.Trace("worker received a heartbeat command")
			case protocol.CmdAck:
				log.WithFields(log.Fields{"msgid": message.ID}).Debug("registration acknowledged")
			case protocol.CmdDisconnect:
				log.Debug("worker received a disconnection command")
				if err = w.ConnectToBroker(); err != nil {
					log.WithFields(log.Fields{"err": err}).Error("worker failed to connect to broker")
				}
			default:
				log.WithField("command", message.Command).Warn("received unknown command")
			}
		}

		if time.Now().After(w.heartbeatAt) {
			if err = w.sendToBroker(protocol.CmdHeartbeat,
				[]string{protocol.WallTimestamp(time.Now())}); err != nil {
				log.WithFields(log.Fields{"err": err}).Error("worker failed to send heartbeat to broker")
			}
			w.heartbeatAt = time.Now().Add(w.heartbeat)
		}
	}

	log.Debug("worker recv completed")

	return
}

func (w *Worker) sendToBroker(command string, body []string) error {
	return w.send(command, protocol.NewMessageID(), body)
}

func (w *Worker) send(command, msgid string, body []string) error {
	frames := protocol.PeerFrames(&protocol.Message{
		Command: command,
		ID:      msgid,
		Body:    body,
	})
	return w.conn.SendMessage(protocol.StringsToFrames(frames))
}
