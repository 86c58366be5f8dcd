package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single write. A stream that cannot flush a frame
	// in this window has fallen far behind the 1 Hz tick cadence and is
	// better torn down so the client reconnects and resyncs.
	writeWait = 10 * time.Second

	// readWait bounds the gap between inbound frames. Each answer,
	// navigation or ping re-arms it, so only a client that went fully
	// silent is disconnected. Generous because a student may sit on one
	// question for minutes without touching anything.
	readWait = 5 * time.Minute
)

// WriteTyped sends a typed event frame with the stream's write deadline.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the stream.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Error: errMsg,
	})
}

// ReadJSON decodes the next action frame, re-arming the idle deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}
