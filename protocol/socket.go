package protocol

import (
	"errors"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	czmq "github.com/zeromq/goczmq/v4"
)

// Socket is the message surface the router and peers operate on. The
// concrete implementations wrap czmq sockets; tests substitute fakes.
type Socket interface {
	SendMessage(frames [][]byte) error
	RecvMessage() ([][]byte, error)
}

// RouterSocket wraps a bound ROUTER socket. Sends to an identity the
// transport can no longer reach surface as ErrPeerGoneAway.
type RouterSocket struct {
	sock     *czmq.Sock
	endpoint string
}

// NewRouterSocket binds a ROUTER socket to the endpoint in listen mode.
func NewRouterSocket(endpoint string) (*RouterSocket, error) {
	sock, err := czmq.NewRouter(endpoint)
	if err != nil {
		log.WithFields(log.Fields{
			"endpoint": endpoint,
			"error":    err,
		}).Error("failed to bind endpoint")
		return nil, NewBindFailedError(endpoint, err)
	}

	// Mandatory routing makes sends to vanished identities fail instead of
	// being silently dropped.
	sock.SetOption(czmq.SockSetRouterMandatory(1))

	log.WithFields(log.Fields{"endpoint": endpoint}).Info("endpoint bound")

	return &RouterSocket{sock: sock, endpoint: endpoint}, nil
}

// SendMessage sends a multi-frame message to the identity in frame 0.
func (s *RouterSocket) SendMessage(frames [][]byte) error {
	if err := s.sock.SendMessage(frames); err != nil {
		if isHostUnreachable(err) {
			return ErrPeerGoneAway
		}
		return err
	}
	return nil
}

// RecvMessage receives one multi-frame message.
func (s *RouterSocket) RecvMessage() ([][]byte, error) {
	return s.sock.RecvMessage()
}

// Endpoint returns the bound address.
func (s *RouterSocket) Endpoint() string {
	return s.endpoint
}

// Close unbinds and destroys the socket.
func (s *RouterSocket) Close() (err error) {
	if s.sock != nil {
		err = s.sock.Unbind(s.endpoint)
		s.sock.Destroy()
		s.sock = nil
	}
	return
}

func (s *RouterSocket) raw() *czmq.Sock {
	return s.sock
}

// DealerSocket wraps a connected DEALER socket used by peers.
type DealerSocket struct {
	sock     *czmq.Sock
	endpoint string
}

// NewDealerSocket connects a DEALER socket to the endpoint.
func NewDealerSocket(endpoint string) (*DealerSocket, error) {
	sock, err := czmq.NewDealer(endpoint)
	if err != nil {
		log.WithFields(log.Fields{
			"endpoint": endpoint,
			"error":    err,
		}).Error("failed to connect endpoint")
		return nil, err
	}
	return &DealerSocket{sock: sock, endpoint: endpoint}, nil
}

// SendMessage sends a multi-frame message to the connected router.
func (s *DealerSocket) SendMessage(frames [][]byte) error {
	return s.sock.SendMessage(frames)
}

// RecvMessage receives one multi-frame message.
func (s *DealerSocket) RecvMessage() ([][]byte, error) {
	return s.sock.RecvMessage()
}

// Close destroys the socket.
func (s *DealerSocket) Close() {
	if s.sock != nil {
		s.sock.Destroy()
		s.sock = nil
	}
}

func (s *DealerSocket) raw() *czmq.Sock {
	return s.sock
}

func isHostUnreachable(err error) bool {
	if errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	return strings.Contains(err.Error(), "host unreachable")
}

// Poller multiplexes raw sockets with a bounded wait. Returning no socket is
// a legitimate tick.
type Poller struct {
	poller  *czmq.Poller
	sockets map[*czmq.Sock]Socket
}

// NewPoller creates a poller over the given router and dealer sockets.
func NewPoller(sockets ...Socket) (*Poller, error) {
	poller, err := czmq.NewPoller()
	if err != nil {
		return nil, err
	}

	p := &Poller{poller: poller, sockets: make(map[*czmq.Sock]Socket)}
	for _, s := range sockets {
		var sock *czmq.Sock
		switch v := s.(type) {
		case *RouterSocket:
			sock = v.raw()
		case *DealerSocket:
			sock = v.raw()
		default:
			continue
		}
		if err := poller.Add(sock); err != nil {
			poller.Destroy()
			return nil, err
		}
		p.sockets[sock] = s
	}

	return p, nil
}

// Wait blocks for up to timeout milliseconds and returns the ready socket,
// or nil on a tick with no readiness.
func (p *Poller) Wait(timeoutMs int) (Socket, error) {
	sock, err := p.poller.Wait(timeoutMs)
	if err != nil {
		return nil, err
	}
	if sock == nil {
		return nil, nil
	}
	return p.sockets[sock], nil
}

// Destroy releases the poller.
func (p *Poller) Destroy() {
	if p.poller != nil {
		p.poller.Destroy()
		p.poller = nil
	}
}
