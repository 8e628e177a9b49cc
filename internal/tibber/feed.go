package tibber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tibberwatch/pkg/models"
)

const (
	feedReadLimit    = 1024 * 1024
	feedReadTimeout  = 60 * time.Second
	feedWriteTimeout = 10 * time.Second
	maxBackoff       = 60 * time.Second
)

// SampleHandler receives each validated realtime sample.
type SampleHandler func(sample models.RealtimeSample)

// Feed maintains a graphql-transport-ws subscription for one home's
// live measurements. It reconnects with capped backoff for the life of
// its context.
type Feed struct {
	wsURL  string
	token  string
	homeID string
	logger *zap.Logger

	onSample SampleHandler

	// OnInvalid is called for frames that fail schema validation,
	// after they have been logged and dropped.
	OnInvalid func(err error)
}

// NewFeed creates a realtime feed for one home.
func NewFeed(wsURL, token, homeID string, onSample SampleHandler, logger *zap.Logger) *Feed {
	return &Feed{
		wsURL:    wsURL,
		token:    token,
		homeID:   homeID,
		onSample: onSample,
		logger:   logger,
	}
}

// wsMessage is the graphql-transport-ws envelope.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Run connects and consumes the subscription until the context is
// cancelled, reconnecting on any failure.
func (f *Feed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		err := f.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("realtime feed disconnected, reconnecting",
			zap.String("home_id", f.homeID),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (f *Feed) runOnce(ctx context.Context) error {
	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", "graphql-transport-ws")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsURL, header)
	if err != nil {
		return fmt.Errorf("dialing websocket: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(feedReadLimit)

	if err := f.handshake(conn); err != nil {
		return err
	}
	if err := f.subscribe(conn); err != nil {
		return err
	}
	f.logger.Info("realtime feed connected", zap.String("home_id", f.homeID))

	// Close the socket when the context ends so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	return f.readLoop(conn)
}

func (f *Feed) handshake(conn *websocket.Conn) error {
	initPayload, err := json.Marshal(map[string]string{"token": f.token})
	if err != nil {
		return fmt.Errorf("encoding init payload: %w", err)
	}
	if err := f.write(conn, wsMessage{Type: "connection_init", Payload: initPayload}); err != nil {
		return fmt.Errorf("sending connection_init: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("waiting for connection_ack: %w", err)
	}
	if ack.Type != "connection_ack" {
		return fmt.Errorf("expected connection_ack, got %q", ack.Type)
	}
	return nil
}

func (f *Feed) subscribe(conn *websocket.Conn) error {
	query := strings.ReplaceAll(liveMeasurementQuery, "HOME_ID", f.homeID)
	payload, err := json.Marshal(graphqlRequest{Query: query})
	if err != nil {
		return fmt.Errorf("encoding subscription: %w", err)
	}
	if err := f.write(conn, wsMessage{ID: "1", Type: "subscribe", Payload: payload}); err != nil {
		return fmt.Errorf("sending subscribe: %w", err)
	}
	return nil
}

func (f *Feed) readLoop(conn *websocket.Conn) error {
	for {
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}

		switch msg.Type {
		case "next":
			f.handleNext(msg.Payload)
		case "ping":
			if err := f.write(conn, wsMessage{Type: "pong"}); err != nil {
				return fmt.Errorf("sending pong: %w", err)
			}
		case "error":
			return fmt.Errorf("subscription error: %s", string(msg.Payload))
		case "complete":
			return fmt.Errorf("subscription completed by server")
		}
	}
}

func (f *Feed) handleNext(payload json.RawMessage) {
	var data struct {
		Data struct {
			LiveMeasurement json.RawMessage `json:"liveMeasurement"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		f.dropInvalid(fmt.Errorf("decoding next payload: %w", err))
		return
	}

	sample, err := ParseSample(data.Data.LiveMeasurement)
	if err != nil {
		f.dropInvalid(err)
		return
	}
	f.onSample(sample)
}

// dropInvalid logs and discards a malformed frame. Prior state is
// untouched; the subscription keeps running.
func (f *Feed) dropInvalid(err error) {
	f.logger.Warn("dropping invalid realtime frame",
		zap.String("home_id", f.homeID),
		zap.Error(err))
	if f.OnInvalid != nil {
		f.OnInvalid(err)
	}
}

func (f *Feed) write(conn *websocket.Conn, msg wsMessage) error {
	conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return conn.WriteJSON(msg)
}
