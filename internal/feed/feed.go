// Package feed connects to an exchange WebSocket kline stream and pushes
// normalized candle events into a channel. It reconnects with exponential
// backoff and drops events rather than blocking the socket reader when the
// downstream channel is full.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"ta-enginev1/internal/model"
)

// Config holds configuration for the WebSocket feed.
type Config struct {
	URL       string // full stream URL, e.g. wss://stream.../ws/btcusdt@kline_1m
	Symbol    string
	Timeframe string

	// Reconnect policy
	MaxRetries   int           // 0 means retry forever
	RetryDelay   time.Duration // initial backoff, doubled per attempt
	MaxRetryWait time.Duration

	// Only forward closed candles; forming updates are skipped.
	ClosedOnly bool
}

// Feed ingests kline events from a WebSocket stream.
type Feed struct {
	cfg  Config
	conn *websocket.Conn

	// Optional hooks
	OnReconnect func()
	OnDrop      func()
	OnTick      func(model.CandleEvent)
}

// New creates a new Feed.
func New(cfg Config) *Feed {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryWait <= 0 {
		cfg.MaxRetryWait = 30 * time.Second
	}
	return &Feed{cfg: cfg}
}

// klineMessage mirrors the exchange kline payload shape.
type klineMessage struct {
	EventType string `json:"e"`
	Kline     struct {
		CloseTime int64  `json:"T"` // epoch ms
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

// Run connects and streams events into eventCh until ctx is cancelled.
// Reconnects on read errors with exponential backoff.
func (f *Feed) Run(ctx context.Context, eventCh chan<- model.CandleEvent) error {
	attempt := 0
	delay := f.cfg.RetryDelay

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := f.connect(ctx); err != nil {
			attempt++
			if f.cfg.MaxRetries > 0 && attempt > f.cfg.MaxRetries {
				return fmt.Errorf("feed: connect after %d attempts: %w", attempt-1, err)
			}
			log.Printf("[feed] connect error (attempt %d): %v, retrying in %s", attempt, err, delay)
			if f.OnReconnect != nil {
				f.OnReconnect()
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > f.cfg.MaxRetryWait {
				delay = f.cfg.MaxRetryWait
			}
			continue
		}

		attempt = 0
		delay = f.cfg.RetryDelay

		if err := f.readLoop(ctx, eventCh); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[feed] read loop ended: %v, reconnecting", err)
			if f.OnReconnect != nil {
				f.OnReconnect()
			}
		}
	}
}

func (f *Feed) connect(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", f.cfg.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", f.cfg.URL, err)
	}

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	f.conn = conn
	log.Printf("[feed] connected to %s", f.cfg.URL)
	return nil
}

func (f *Feed) readLoop(ctx context.Context, eventCh chan<- model.CandleEvent) error {
	defer f.closeConn()

	go func() {
		<-ctx.Done()
		f.closeConn()
	}()

	for {
		_, message, err := f.conn.ReadMessage()
		if err != nil {
			return err
		}

		event, ok := f.parse(message)
		if !ok {
			continue
		}
		if f.OnTick != nil {
			f.OnTick(event)
		}

		select {
		case eventCh <- event:
		default:
			if f.OnDrop != nil {
				f.OnDrop()
			}
			log.Println("[feed] event channel full, dropping event")
		}
	}
}

func (f *Feed) closeConn() {
	if f.conn == nil {
		return
	}
	f.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	f.conn.Close()
}

// parse converts a raw kline message into a CandleEvent. Non-kline messages
// and forming candles (when ClosedOnly is set) are skipped.
func (f *Feed) parse(raw []byte) (model.CandleEvent, bool) {
	var msg klineMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("[feed] parse error: %v", err)
		return model.CandleEvent{}, false
	}
	if msg.EventType != "kline" {
		return model.CandleEvent{}, false
	}
	if f.cfg.ClosedOnly && !msg.Kline.Closed {
		return model.CandleEvent{}, false
	}

	symbol := msg.Kline.Symbol
	if symbol == "" {
		symbol = f.cfg.Symbol
	}
	timeframe := msg.Kline.Interval
	if timeframe == "" {
		timeframe = f.cfg.Timeframe
	}

	return model.CandleEvent{
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: msg.Kline.CloseTime / 1000,
		Open:      toFloat(msg.Kline.Open),
		High:      toFloat(msg.Kline.High),
		Low:       toFloat(msg.Kline.Low),
		Close:     toFloat(msg.Kline.Close),
		Volume:    toFloat(msg.Kline.Volume),
	}, true
}

func toFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
