package scheduler

import (
	"context"
	"strconv"
	"time"

	"github.com/jobmq/jobmq/config"
	"github.com/jobmq/jobmq/protocol"

	log "github.com/sirupsen/logrus"
)

// livenessCycles is the number of silent poll cycles before the runtime
// considers the router gone and reconnects.
const livenessCycles = 3

// Runtime keeps the schedules. It connects to the router's frontend as a
// scheduler peer, fires cron and interval jobs at their times, and accepts
// SCHEDULE/UNSCHEDULE commands routed to it.
type Runtime struct {
	config   *config.Config
	endpoint string
	clock    protocol.Clock

	conn   protocol.Socket
	dealer *protocol.DealerSocket
	poller *protocol.Poller

	cronJobs     []*cronJob
	intervalJobs []*intervalJob

	liveness           int
	lastHeartbeat      time.Duration
	receivedDisconnect bool
}

// NewRuntime creates a scheduler runtime that will connect to the router
// frontend at endpoint.
func NewRuntime(cfg *config.Config, endpoint string) (*Runtime, error) {
	return newRuntime(cfg, endpoint, protocol.NewSystemClock())
}

func newRuntime(cfg *config.Config, endpoint string, clock protocol.Clock) (*Runtime, error) {
	jobs, err := loadCronJobs(cfg.CronJobs, clock.Wall())
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"jobs": len(jobs)}).Info("initializing scheduler")

	return &Runtime{
		config:   cfg,
		endpoint: endpoint,
		clock:    clock,
		cronJobs: jobs,
		liveness: livenessCycles,
	}, nil
}

// Connect dials the router frontend and announces the runtime with INFORM.
func (s *Runtime) Connect() error {
	s.Close()

	dealer, err := protocol.NewDealerSocket(s.endpoint)
	if err != nil {
		return err
	}

	poller, err := protocol.NewPoller(dealer)
	if err != nil {
		dealer.Close()
		return err
	}

	s.dealer = dealer
	s.conn = dealer
	s.poller = poller
	s.liveness = livenessCycles

	if err := s.sendInform(); err != nil {
		return err
	}

	log.WithFields(log.Fields{"endpoint": s.endpoint}).Info("scheduler connected to router")

	return nil
}

// Close releases the connection.
func (s *Runtime) Close() {
	if s.poller != nil {
		s.poller.Destroy()
		s.poller = nil
	}
	if s.dealer != nil {
		s.dealer.Close()
		s.dealer = nil
		s.conn = nil
	}
}

// Run drives the runtime loop until DISCONNECT or context cancellation.
func (s *Runtime) Run(ctx context.Context) error {
	log.Debug("starting scheduler event loop")

	for {
		if s.receivedDisconnect {
			log.Info("received disconnect, stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		ready, err := s.poller.Wait(int(s.config.HeartbeatInterval / time.Millisecond))
		if err != nil {
			return err
		}

		if ready != nil {
			recv, rerr := s.conn.RecvMessage()
			if rerr != nil {
				log.WithFields(log.Fields{"error": rerr}).Error("failed to receive from router")
			} else {
				s.liveness = livenessCycles
				s.handleMessage(protocol.FramesToStrings(recv))
			}
		} else {
			s.liveness--
			if s.liveness <= 0 {
				log.Warn("router silent, reconnecting")
				if cerr := s.Connect(); cerr != nil {
					log.WithFields(log.Fields{"error": cerr}).Error("failed to reconnect to router")
				}
			}
		}

		s.tick(s.clock.Wall(), s.clock.Monotonic())

		if !s.config.DisableHeartbeats {
			now := s.clock.Monotonic()
			if now-s.lastHeartbeat >= s.config.HeartbeatInterval {
				s.lastHeartbeat = now
				s.sendHeartbeat()
			}
		}
	}
}

// handleMessage dispatches one message from the router.
func (s *Runtime) handleMessage(frames []string) {
	message, err := protocol.ParsePeerMessage(frames)
	if err != nil {
		log.WithFields(log.Fields{
			"frames": frames,
			"error":  err,
		}).Warn("invalid message from router")
		return
	}

	switch message.Command {
	case protocol.CmdSchedule:
		s.onSchedule(message)
	case protocol.CmdUnschedule:
		s.onUnschedule(message)
	case protocol.CmdHeartbeat:
		// Liveness already reset on receive.
	case protocol.CmdAck:
		log.WithFields(log.Fields{"msgid": message.ID}).Debug("registration acknowledged")
	case protocol.CmdDisconnect:
		s.receivedDisconnect = true
	default:
		log.WithFields(log.Fields{"command": message.Command}).Warn("unexpected command from router")
	}
}

// onSchedule registers a new interval job and fires it once immediately.
// The job's handle is the message id of the SCHEDULE that created it.
func (s *Runtime) onSchedule(message *protocol.Message) {
	queue := message.Body[0]
	seconds, err := strconv.Atoi(message.Body[1])
	if err != nil || seconds <= 0 {
		log.WithFields(log.Fields{
			"interval": message.Body[1],
			"msgid":    message.ID,
		}).Warn("schedule with invalid interval, ignoring")
		return
	}
	payload := message.Body[2]

	log.WithFields(log.Fields{
		"queue":    queue,
		"interval": seconds,
		"handle":   message.ID,
	}).Info("received new schedule")

	iter := newIntervalIter(s.clock.Monotonic(), time.Duration(seconds)*time.Second)
	s.intervalJobs = append(s.intervalJobs, &intervalJob{
		handle:   message.ID,
		nextFire: iter.Next(),
		iter:     iter,
		queue:    queue,
		payload:  payload,
	})

	s.sendRequest(queue, payload)
}

// onUnschedule removes the job whose handle matches the first body frame.
func (s *Runtime) onUnschedule(message *protocol.Message) {
	handle := message.Body[0]

	for i, job := range s.intervalJobs {
		if job.handle == handle {
			s.intervalJobs = append(s.intervalJobs[:i], s.intervalJobs[i+1:]...)
			log.WithFields(log.Fields{"handle": handle}).Info("removed interval job")
			return
		}
	}
	for i, job := range s.cronJobs {
		if job.handle == handle {
			s.cronJobs = append(s.cronJobs[:i], s.cronJobs[i+1:]...)
			log.WithFields(log.Fields{"handle": handle}).Info("removed cron job")
			return
		}
	}

	log.WithFields(log.Fields{"handle": handle}).Warn("unschedule for unknown job")
}

// tick fires every due job. Cron jobs evaluate against the wall clock and
// re-seed strictly after the current instant, so a wall-clock step backward
// cannot produce a storm; interval jobs evaluate against the monotonic
// clock.
func (s *Runtime) tick(ts time.Time, m time.Duration) {
	for _, job := range s.cronJobs {
		if job.nextFire.After(ts) {
			continue
		}

		log.WithFields(log.Fields{
			"queue":    job.queue,
			"schedule": job.nextFire,
		}).Debug("firing cron job")

		s.sendRequest(job.queue, job.payload)
		job.nextFire = job.schedule.Next(ts)
	}

	for _, job := range s.intervalJobs {
		if job.nextFire > m {
			continue
		}

		log.WithFields(log.Fields{
			"queue":  job.queue,
			"handle": job.handle,
		}).Debug("firing interval job")

		s.sendRequest(job.queue, job.payload)
		job.nextFire = job.iter.Next()
	}
}

// CronJobCount returns the number of loaded cron jobs.
func (s *Runtime) CronJobCount() int {
	return len(s.cronJobs)
}

// IntervalJobCount returns the number of registered interval jobs.
func (s *Runtime) IntervalJobCount() int {
	return len(s.intervalJobs)
}

func (s *Runtime) sendRequest(queue, payload string) {
	frames := protocol.PeerFrames(&protocol.Message{
		Command: protocol.CmdRequest,
		ID:      protocol.NewMessageID(),
		Body:    []string{queue, payload},
	})
	if err := s.conn.SendMessage(protocol.StringsToFrames(frames)); err != nil {
		log.WithFields(log.Fields{
			"queue": queue,
			"error": err,
		}).Error("failed to send request")
	}
}

func (s *Runtime) sendInform() error {
	frames := protocol.PeerFrames(&protocol.Message{
		Command: protocol.CmdInform,
		ID:      protocol.NewMessageID(),
		Body:    []string{"", protocol.ClientTypeScheduler},
	})
	return s.conn.SendMessage(protocol.StringsToFrames(frames))
}

func (s *Runtime) sendHeartbeat() {
	frames := protocol.PeerFrames(&protocol.Message{
		Command: protocol.CmdHeartbeat,
		ID:      protocol.NewMessageID(),
		Body:    []string{protocol.WallTimestamp(s.clock.Wall())},
	})
	if err := s.conn.SendMessage(protocol.StringsToFrames(frames)); err != nil {
		log.WithFields(log.Fields{"error": err}).Debug("failed to send heartbeat")
	}
}
