// Package client provides the submission side of the bus: dispatch job
// requests to named queues and manage scheduling directives.
package client

import (
	"strconv"
	"time"

	"github.com/jobmq/jobmq/protocol"

	log "github.com/sirupsen/logrus"
)

// Client defines a single submission client instance.
type Client struct {
	broker  string
	conn    protocol.Socket
	dealer  *protocol.DealerSocket
	poller  *protocol.Poller
	timeout time.Duration
}

// NewClient creates a client connected to the router frontend.
func NewClient(broker string) (c *Client, err error) {
	c = &Client{
		broker:  broker,
		timeout: 2500 * time.Millisecond,
	}

	err = c.ConnectToBroker()

	return
}

// ConnectToBroker connects or reconnects to the router frontend.
func (c *Client) ConnectToBroker() (err error) {
	log.WithFields(log.Fields{"broker": c.broker}).Debug("connecting to broker")

	c.Close()

	if c.dealer, err = protocol.NewDealerSocket(c.broker); err != nil {
		log.WithFields(log.Fields{
			"broker": c.broker,
			"error":  err,
		}).Error("failed to create DEALER socket")
		return
	}
	c.conn = c.dealer

	if c.poller, err = protocol.NewPoller(c.dealer); err != nil {
		log.WithFields(log.Fields{
			"broker": c.broker,
			"error":  err,
		}).Error("failed to create poller")
		c.Close()
		return
	}

	return
}

// Close the client connection.
func (c *Client) Close() {
	if c.poller != nil {
		c.poller.Destroy()
		c.poller = nil
	}
	if c.dealer != nil {
		c.dealer.Close()
		c.dealer = nil
		c.conn = nil
	}
}

// SetTimeout sets the receive timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Request submits a job to a named queue and returns the message id.
func (c *Client) Request(queue string, body ...string) (string, error) {
	msgid := protocol.NewMessageID()
	frames := append([]string{queue}, body...)
	return msgid, c.send(protocol.CmdRequest, msgid, frames)
}

// Schedule asks a scheduler to run a job every interval seconds. The
// returned message id doubles as the job handle for Unschedule.
func (c *Client) Schedule(queue string, interval int, payload string) (string, error) {
	msgid := protocol.NewMessageID()
	return msgid, c.send(protocol.CmdSchedule, msgid,
		[]string{queue, strconv.Itoa(interval), payload})
}

// Unschedule removes the scheduled job with the given handle from every
// scheduler.
func (c *Client) Unschedule(handle string) error {
	return c.send(protocol.CmdUnschedule, protocol.NewMessageID(), []string{handle})
}

// Disconnect asks the router to shut down cleanly.
func (c *Client) Disconnect() error {
	return c.send(protocol.CmdDisconnect, protocol.NewMessageID(), nil)
}

// Recv waits for the next message from the router, such as a forwarded job
// reply. Returns nil when nothing arrives within the timeout.
func (c *Client) Recv() (*protocol.Message, error) {
	ready, err := c.poller.Wait(int(c.timeout / time.Millisecond))
	if err != nil {
		log.WithFields(log.Fields{"err": err}).Error("client failure while socket poller was waiting")
		return nil, err
	}
	if ready == nil {
		log.WithFields(log.Fields{
			"timeout": c.timeout,
		}).Warn("no messages received on client socket for the timeout duration")
		return nil, nil
	}

	recv, err := ready.RecvMessage()
	if err != nil {
		return nil, err
	}

	message, err := protocol.ParsePeerMessage(protocol.FramesToStrings(recv))
	if err != nil {
		log.WithError(err).Error("received invalid message")
		return nil, err
	}

	log.WithFields(log.Fields{
		"command": message.Command,
		"msgid":   message.ID,
	}).Debug("received message")

	return message, nil
}

func (c *Client) send(command, msgid string, body []string) error {
	frames := protocol.PeerFrames(&protocol.Message{
		Command: command,
		ID:      msgid,
		Body:    body,
	})
	return c.conn.SendMessage(protocol.StringsToFrames(frames))
}
