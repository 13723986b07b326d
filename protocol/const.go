// Package protocol implements the EMQP wire protocol: frame schemas, the
// command set, socket construction and the clock sources shared by the
// router and its peers.
package protocol

import "time"

const (
	// Protocol is the version frame carried on every message.
	Protocol = "EMQP01"

	// HeartbeatInterval is the default period between outbound heartbeats.
	HeartbeatInterval = 15 * time.Second

	// HeartbeatTimeout is the default silence duration after which a peer
	// is considered dead.
	HeartbeatTimeout = 60 * time.Second
)

// Commands understood by the router and its peers.
const (
	CmdInform     = "INFORM"
	CmdReady      = "READY"
	CmdRequest    = "REQUEST"
	CmdReply      = "REPLY"
	CmdHeartbeat  = "HEARTBEAT"
	CmdAck        = "ACK"
	CmdSchedule   = "SCHEDULE"
	CmdUnschedule = "UNSCHEDULE"
	CmdDisconnect = "DISCONNECT"
)

// Peer types carried in the second INFORM body frame.
const (
	ClientTypeWorker    = "worker"
	ClientTypeScheduler = "scheduler"
)

// minBody is the minimum body frame count per command. Commands missing from
// the map accept an empty body.
var minBody = map[string]int{
	CmdInform:     2,
	CmdRequest:    1,
	CmdSchedule:   3,
	CmdUnschedule: 1,
	CmdHeartbeat:  1,
}

// commands is the closed command set; anything else fails to parse.
var commands = map[string]bool{
	CmdInform:     true,
	CmdReady:      true,
	CmdRequest:    true,
	CmdReply:      true,
	CmdHeartbeat:  true,
	CmdAck:        true,
	CmdSchedule:   true,
	CmdUnschedule: true,
	CmdDisconnect: true,
}
