package player

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jfelder/masterstream/internal/log"
	"github.com/jfelder/masterstream/pkg/protocol"
)

// Client connects a Controller to a streaming server. Control methods may
// be called from any goroutine; the read loop feeds the controller until
// the connection drops or Close is called.
type Client struct {
	ctrl *Controller

	mu     sync.RWMutex
	ws     *websocket.Conn
	wsMu   sync.Mutex // serializes writes
	closed bool

	// OnError receives stream errors from the server.
	OnError func(d *protocol.StreamErrorData)

	// OnEnd fires when the server reports the final chunk delivered.
	OnEnd func(d *protocol.StreamEndData)

	done chan struct{}
}

// NewClient creates a client feeding ctrl.
func NewClient(ctrl *Controller) *Client {
	return &Client{ctrl: ctrl, done: make(chan struct{})}
}

// Connect dials the stream endpoint and starts the read loop.
func (c *Client) Connect(url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.Dial(url, http.Header{})
	if err != nil {
		return fmt.Errorf("player: connect %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.ws = ws
	c.closed = false
	c.mu.Unlock()

	go c.readLoop()
	return nil
}

// Close tears the connection down and waits for the read loop.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	var err error
	if ws != nil {
		err = ws.Close()
	}
	<-c.done
	return err
}

// Done closes when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Start requests a track under a preset.
func (c *Client) Start(trackID, preset string, intensity float64, enhanced bool) error {
	msg, err := protocol.NewStartMessage(trackID, preset, intensity, enhanced)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// Seek jumps to a position. Buffered audio from the old position is
// discarded when the fresh stream header arrives.
func (c *Client) Seek(positionSeconds float64) error {
	c.ctrl.PrepareSeek()
	msg, err := protocol.NewSeekMessage(positionSeconds)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// PresetChange switches the mastering sound mid-stream. Audio already
// buffered under the old preset drains before the new sound is heard.
func (c *Client) PresetChange(preset string, intensity float64, enhanced bool) error {
	msg, err := protocol.NewPresetChangeMessage(preset, intensity, enhanced)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// Stop ends the stream.
func (c *Client) Stop() error {
	msg, err := protocol.NewStopMessage()
	if err != nil {
		return err
	}
	return c.send(msg)
}

func (c *Client) send(msg *protocol.Message) error {
	c.mu.RLock()
	ws, closed := c.ws, c.closed
	c.mu.RUnlock()
	if ws == nil || closed {
		return fmt.Errorf("player: not connected")
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		c.mu.RLock()
		ws, closed := c.ws, c.closed
		c.mu.RUnlock()
		if closed {
			return
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if !closed {
				log.Warn("connection lost", "err", err)
			}
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			log.Warn("unparseable server message", "err", err)
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeStreamStart:
		if d, err := msg.GetStreamStartData(); err == nil {
			c.ctrl.OnStreamStart(d)
		}
	case protocol.TypeChunk:
		d, err := msg.GetChunkData()
		if err != nil {
			return
		}
		if _, err := c.ctrl.OnChunk(d); err != nil {
			log.Warn("chunk decode failed", "index", d.Index, "err", err)
		}
	case protocol.TypeStreamEnd:
		if d, err := msg.GetStreamEndData(); err == nil {
			c.ctrl.OnStreamEnd(d)
			if c.OnEnd != nil {
				c.OnEnd(d)
			}
		}
	case protocol.TypeStreamError:
		if d, err := msg.GetStreamErrorData(); err == nil {
			log.Error("stream error", "code", d.Code, "fatal", d.Fatal, "err", d.Error)
			if c.OnError != nil {
				c.OnError(d)
			}
		}
	case protocol.TypePing:
		if d, err := msg.GetPingData(); err == nil {
			pong, err := protocol.NewPongMessage(d.ID, d.Timestamp, time.Now().UnixMilli())
			if err == nil {
				if err := c.send(pong); err != nil {
					log.Debug("pong send failed", "err", err)
				}
			}
		}
	case protocol.TypePong:
		// Latency is tracked server-side.
	}
}
