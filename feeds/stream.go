package feeds

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantfold/paperbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LIVE PRICE STREAM
// ═══════════════════════════════════════════════════════════════════════════════
//
// Optional WebSocket feed of mini-ticker events. Keeps an in-memory price
// cache so the quote service can skip the HTTP round-trip for symbols with
// a recent streamed price.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	streamReconnectDelay = 5 * time.Second
	streamPingInterval   = 30 * time.Second
	streamStaleAfter     = 10 * time.Second
)

// tickerMessage is one mini-ticker event on the wire.
type tickerMessage struct {
	Symbol string `json:"s"`
	Last   string `json:"c"`
	Open   string `json:"o"`
	High   string `json:"h"`
	Low    string `json:"l"`
	Volume string `json:"v"`
}

type streamedPrice struct {
	snapshot   types.PriceSnapshot
	receivedAt time.Time
}

// Stream maintains a WebSocket connection and the latest price per symbol.
type Stream struct {
	mu sync.RWMutex

	url       string
	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	prices map[string]streamedPrice

	now func() time.Time
}

// NewStream creates a stream for the given WebSocket URL.
func NewStream(url string) *Stream {
	return &Stream{
		url:    url,
		stopCh: make(chan struct{}),
		prices: make(map[string]streamedPrice),
		now:    time.Now,
	}
}

// Start connects and begins processing ticker events.
func (s *Stream) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.connectionLoop()
	log.Info().Str("url", s.url).Msg("📡 Price stream started")
}

// Stop closes the connection.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	close(s.stopCh)

	if s.conn != nil {
		s.conn.Close()
	}

	log.Info().Msg("Price stream stopped")
}

// Snapshot returns the streamed price for a symbol when one has arrived
// recently enough to trust.
func (s *Stream) Snapshot(symbol string) (types.PriceSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[symbol]
	if !ok || s.now().Sub(p.receivedAt) > streamStaleAfter {
		return types.PriceSnapshot{}, false
	}
	return p.snapshot, true
}

// connectionLoop maintains the WebSocket connection
func (s *Stream) connectionLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if err := s.connect(); err != nil {
			log.Error().Err(err).Msg("Stream connection failed, retrying...")
			time.Sleep(streamReconnectDelay)
			continue
		}

		// One pinger per connection; it must die with the connection so
		// reconnects never stack pingers.
		connDone := make(chan struct{})
		go s.pingLoop(connDone)
		s.readLoop()
		close(connDone)
		time.Sleep(streamReconnectDelay)
	}
}

func (s *Stream) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	log.Info().Msg("🔌 Stream connected")

	return nil
}

// pingLoop sends periodic pings to keep the connection alive. It exits when
// its connection's done channel closes.
func (s *Stream) pingLoop(connDone <-chan struct{}) {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-connDone:
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			connected := s.connected
			s.mu.RUnlock()

			if connected && conn != nil {
				conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}
}

// readLoop reads messages until the connection drops.
func (s *Stream) readLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Stream read error")
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			return
		}

		s.processMessage(message)
	}
}

// processMessage handles one wire message, which may be a single ticker
// event or a batch.
func (s *Stream) processMessage(data []byte) {
	var msgs []tickerMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		var msg tickerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		msgs = []tickerMessage{msg}
	}

	for _, msg := range msgs {
		s.applyTick(msg)
	}
}

func (s *Stream) applyTick(msg tickerMessage) {
	if msg.Symbol == "" {
		return
	}

	price, err := decimal.NewFromString(msg.Last)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return
	}

	open, _ := decimal.NewFromString(msg.Open)
	high, _ := decimal.NewFromString(msg.High)
	low, _ := decimal.NewFromString(msg.Low)
	volume, _ := decimal.NewFromString(msg.Volume)

	snap := types.PriceSnapshot{
		Symbol:    msg.Symbol,
		Price:     price,
		Open:      open,
		High:      high,
		Low:       low,
		Volume:    volume.IntPart(),
		Timestamp: s.now(),
	}
	if open.GreaterThan(decimal.Zero) {
		snap.Change = price.Sub(open)
		snap.PercentChange = snap.Change.Div(open).Mul(decimal.NewFromInt(100))
	}

	s.mu.Lock()
	s.prices[msg.Symbol] = streamedPrice{snapshot: snap, receivedAt: s.now()}
	s.mu.Unlock()
}
