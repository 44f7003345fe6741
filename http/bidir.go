package http

import "time"

// BiDirStreamConfig controls heartbeat timing of a long-lived connection.
type BiDirStreamConfig struct {
	// PingPeriod is how often a ping is sent to the peer.
	PingPeriod time.Duration

	// PongPeriod is how long the connection may go without receiving any
	// data before OnTimeout is consulted.
	PongPeriod time.Duration
}

// DefaultBiDirStreamConfig pings every 30 seconds and gives up after five
// silent minutes.
func DefaultBiDirStreamConfig() *BiDirStreamConfig {
	return &BiDirStreamConfig{
		PingPeriod: time.Second * 30,
		PongPeriod: time.Second * 300,
	}
}

// BiDirStreamConn is the lifecycle of a connection carrying messages of type
// I. OnStart is transport specific and lives on WSConn.
//
// The order of calls is:
//  1. HandleMessage for every message received
//  2. SendPing every PingPeriod
//  3. OnError when reading fails; a non-nil return closes the connection
//  4. OnTimeout when nothing arrived for PongPeriod
//  5. OnClose exactly once, whatever ended the connection
type BiDirStreamConn[I any] interface {
	SendPing() error

	// Name is used in logs.
	Name() string

	// ConnId identifies the connection. It must be stable once read.
	ConnId() string

	HandleMessage(msg I) error

	OnError(err error) error

	OnClose()

	// OnTimeout returns true to close the connection.
	OnTimeout() bool
}
