package binance

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	listenKeyKeepAlive   = 30 * time.Minute
	listenKeyMaxAge      = 23 * time.Hour
	reconnectDelay       = 5 * time.Second
	reconnectDelayAbrupt = 10 * time.Second
	pingInterval         = 3 * time.Minute
	pongTimeout          = 10 * time.Second
)

// OrderTradeUpdate is the order payload of an ORDER_TRADE_UPDATE event.
// Field tags follow the stream's short names.
type OrderTradeUpdate struct {
	Symbol        string          `json:"s"`
	ClientOrderID string          `json:"c"`
	Side          OrderSide       `json:"S"`
	OrderType     OrderType       `json:"o"`
	OrigOrderType OrderType       `json:"ot"`
	PositionSide  PositionSide    `json:"ps"`
	ExecutionType string          `json:"x"`
	Status        OrderStatus     `json:"X"`
	OrderID       int64           `json:"i"`
	AvgPrice      decimal.Decimal `json:"ap"`
	RealizedPnl   decimal.Decimal `json:"rp"`
}

type orderTradeEvent struct {
	EventType string           `json:"e"`
	EventTime int64            `json:"E"`
	Order     OrderTradeUpdate `json:"o"`
}

// AccountPositionUpdate is one row of an ACCOUNT_UPDATE positions
// array.
type AccountPositionUpdate struct {
	Symbol        string          `json:"s"`
	PositionAmt   decimal.Decimal `json:"pa"`
	EntryPrice    decimal.Decimal `json:"ep"`
	UnrealizedPnl decimal.Decimal `json:"up"`
	PositionSide  PositionSide    `json:"ps"`
}

type accountUpdateEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Account   struct {
		Reason    string                  `json:"m"`
		Positions []AccountPositionUpdate `json:"P"`
	} `json:"a"`
}

// UserDataStream maintains the push channel for order fills and account
// changes. The poll loop stays authoritative; the stream only shortens
// reaction time, so handlers must tolerate missed and duplicate events.
type UserDataStream struct {
	mu         sync.Mutex
	client     *Client
	log        zerolog.Logger
	listenKey  string
	keyCreated time.Time
	conn       *websocket.Conn
	running    bool
	stopCh     chan struct{}
	reconnects int

	onOrderUpdate   func(*OrderTradeUpdate)
	onAccountUpdate func([]AccountPositionUpdate)
}

// NewUserDataStream builds a stream bound to the client's environment.
func NewUserDataStream(client *Client, logger zerolog.Logger) *UserDataStream {
	return &UserDataStream{
		client: client,
		log:    logger.With().Str("component", "user_stream").Logger(),
		stopCh: make(chan struct{}),
	}
}

// OnOrderUpdate registers the ORDER_TRADE_UPDATE handler. Dispatch is
// synchronous within a received event.
func (s *UserDataStream) OnOrderUpdate(cb func(*OrderTradeUpdate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOrderUpdate = cb
}

// OnAccountUpdate registers the ACCOUNT_UPDATE positions handler.
func (s *UserDataStream) OnAccountUpdate(cb func([]AccountPositionUpdate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAccountUpdate = cb
}

// Start obtains a listen key and launches the connect and keepalive
// loops. Calling Start on a running stream is a no-op.
func (s *UserDataStream) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	key, err := s.client.CreateListenKey()
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("starting user data stream: %w", err)
	}

	s.mu.Lock()
	s.listenKey = key
	s.keyCreated = time.Now()
	s.mu.Unlock()

	go s.connectLoop()
	go s.keepAliveLoop()
	s.log.Info().Msg("user data stream started")
	return nil
}

// Stop tears down the connection and closes the listen key.
func (s *UserDataStream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	conn := s.conn
	key := s.listenKey
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if key != "" {
		_ = s.client.CloseListenKey(key)
	}
	s.log.Info().Msg("user data stream stopped")
}

// IsRunning reports whether Start has been called and Stop has not.
func (s *UserDataStream) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Reconnects counts connection re-establishments since Start.
func (s *UserDataStream) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

func (s *UserDataStream) connectLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.mu.Lock()
		key := s.listenKey
		s.mu.Unlock()
		wsURL := s.client.StreamBaseURL() + "/ws/" + key

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("stream dial failed, retrying")
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
			s.sleep(reconnectDelay)
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.log.Info().Msg("user data stream connected")

		abrupt := s.readLoop(conn)

		select {
		case <-s.stopCh:
			return
		default:
		}

		delay := reconnectDelay
		if abrupt {
			delay = reconnectDelayAbrupt
		}
		s.mu.Lock()
		s.reconnects++
		s.mu.Unlock()
		s.log.Warn().Dur("sleep", delay).Msg("user data stream disconnected, reconnecting")
		s.sleep(delay)
	}
}

// readLoop pumps messages until the connection dies. It returns true
// when the close was abrupt (no close frame), which earns the longer
// backoff.
func (s *UserDataStream) readLoop(conn *websocket.Conn) bool {
	stopPing := make(chan struct{})
	defer close(stopPing)

	deadline := func() time.Time { return time.Now().Add(pingInterval + pongTimeout) }
	_ = conn.SetReadDeadline(deadline())
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(deadline()) })

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongTimeout)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			abrupt := websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
			s.log.Warn().Err(err).Msg("stream read ended")
			conn.Close()
			return abrupt
		}
		s.handleMessage(message)
	}
}

// sleep waits for d unless the stream is stopped first.
func (s *UserDataStream) sleep(d time.Duration) {
	select {
	case <-s.stopCh:
	case <-time.After(d):
	}
}

func (s *UserDataStream) handleMessage(message []byte) {
	var head struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(message, &head); err != nil {
		s.log.Warn().Err(err).Msg("unparseable stream event")
		return
	}

	switch head.EventType {
	case "ORDER_TRADE_UPDATE":
		var ev orderTradeEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			s.log.Warn().Err(err).Msg("bad ORDER_TRADE_UPDATE payload")
			return
		}
		s.mu.Lock()
		cb := s.onOrderUpdate
		s.mu.Unlock()
		if cb != nil {
			cb(&ev.Order)
		}

	case "ACCOUNT_UPDATE":
		var ev accountUpdateEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			s.log.Warn().Err(err).Msg("bad ACCOUNT_UPDATE payload")
			return
		}
		s.mu.Lock()
		cb := s.onAccountUpdate
		s.mu.Unlock()
		if cb != nil {
			cb(ev.Account.Positions)
		}

	case "listenKeyExpired":
		s.log.Warn().Msg("listen key expired, rotating")
		s.rotateListenKey()

	default:
		s.log.Debug().Str("event", head.EventType).Msg("ignoring stream event")
	}
}

// rotateListenKey swaps in a fresh key and drops the connection so the
// connect loop redials against it.
func (s *UserDataStream) rotateListenKey() {
	key, err := s.client.CreateListenKey()
	if err != nil {
		s.log.Error().Err(err).Msg("listen key rotation failed")
		return
	}
	s.mu.Lock()
	s.listenKey = key
	s.keyCreated = time.Now()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	s.log.Info().Msg("listen key rotated")
}

// keepAliveLoop refreshes the listen key every 30 minutes; keys expire
// server-side after 60. Keys are rotated outright before their 24-hour
// hard limit.
func (s *UserDataStream) keepAliveLoop() {
	ticker := time.NewTicker(listenKeyKeepAlive)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			key := s.listenKey
			created := s.keyCreated
			s.mu.Unlock()

			if time.Since(created) > listenKeyMaxAge {
				s.rotateListenKey()
				failures = 0
				continue
			}

			var err error
			for attempt := 1; attempt <= 3; attempt++ {
				if err = s.client.KeepAliveListenKey(key); err == nil {
					break
				}
				s.log.Warn().Err(err).Int("attempt", attempt).Msg("listen key keepalive failed")
				if attempt < 3 {
					s.sleep(5 * time.Second)
				}
			}
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 3 {
				s.log.Error().Err(err).Msg("keepalive failing repeatedly, rotating listen key")
				s.rotateListenKey()
				failures = 0
			}
		}
	}
}
