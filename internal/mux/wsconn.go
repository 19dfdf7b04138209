package mux

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/coder/websocket"

	"github.com/drydock-sh/drydock/internal/proto"
)

// maxFrameSize bounds a single inbound WebSocket frame. Slightly above the
// protocol's input payload cap to leave room for the JSON envelope.
const maxFrameSize = proto.MaxInputSize + 4096

// WSConn adapts a WebSocket connection to the FrameConn contract. Writes
// are serialized so the output pump, the read loop, and administrative
// notices never interleave partial frames.
type WSConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func NewWSConn(conn *websocket.Conn) *WSConn {
	conn.SetReadLimit(maxFrameSize)
	return &WSConn{conn: conn}
}

func (w *WSConn) ReadFrame(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *WSConn) WriteFrame(ctx context.Context, msg proto.Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *WSConn) Close(code int, reason string) error {
	return w.conn.Close(websocket.StatusCode(code), reason)
}

var _ FrameConn = (*WSConn)(nil)
