package repository

import (
	"context"
	"net/http"
	"sync"
	"time"

	"KellyMux/internal/domain/models"
	drepo "KellyMux/internal/domain/repository"
	xhttp "KellyMux/pkg/http"
	xlogger "KellyMux/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	subscriberBuffer = 16
	writeWait        = 5 * time.Second
	pingPeriod       = 30 * time.Second
)

// WSPublisherConfig configures the websocket output hub.
type WSPublisherConfig struct {
	Addr     string
	Path     string
	Envelope bool
}

// WSPublisher keeps the set of attached subscribers and broadcasts each
// aggregate to all of them. A subscriber whose buffer is full misses the
// update; late joiners get nothing until the next recompute.
type WSPublisher struct {
	cfg      WSPublisherConfig
	server   *xhttp.Server
	upgrader websocket.Upgrader
	logger   *xlogger.Logger
	metrics  drepo.Metrics

	mu      sync.RWMutex
	clients map[*subscriber]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

func NewWSPublisher(cfg WSPublisherConfig, logger *xlogger.Logger, metrics drepo.Metrics) *WSPublisher {
	if cfg.Path == "" {
		cfg.Path = "/stream"
	}
	p := &WSPublisher{
		cfg:     cfg,
		logger:  logger.Named("output.websocket"),
		metrics: orNoop(metrics),
		clients: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	p.server = xhttp.NewServer(p,
		xhttp.WithName("output"),
		xhttp.WithAddr(cfg.Addr),
		xhttp.WithLogger(logger),
	)
	return p
}

func (p *WSPublisher) RegisterRoutes(e *echo.Echo) {
	e.GET(p.cfg.Path, p.serveWS)
}

// Bind opens the output socket and starts accepting subscribers.
func (p *WSPublisher) Bind(context.Context) error {
	if err := p.server.Bind(); err != nil {
		return err
	}
	return p.server.Start()
}

// Addr returns the bound address.
func (p *WSPublisher) Addr() string { return p.server.Addr() }

// Subscribers returns the number of attached subscribers.
func (p *WSPublisher) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

func (p *WSPublisher) serveWS(c echo.Context) error {
	conn, err := p.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		p.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	sub := &subscriber{conn: conn, send: make(chan []byte, subscriberBuffer)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	p.clients[sub] = struct{}{}
	total := len(p.clients)
	p.wg.Add(1)
	p.mu.Unlock()
	p.logger.Info("subscriber connected",
		xlogger.String("remote", conn.RemoteAddr().String()),
		xlogger.Int("total", total),
	)

	go p.writePump(sub)
	p.readPump(sub)
	return nil
}

// readPump discards inbound frames and detects disconnects.
func (p *WSPublisher) readPump(sub *subscriber) {
	defer func() {
		p.mu.Lock()
		if _, ok := p.clients[sub]; ok {
			delete(p.clients, sub)
			sub.close()
		}
		p.mu.Unlock()
		_ = sub.conn.Close()
		p.wg.Done()
		p.logger.Info("subscriber disconnected", xlogger.String("remote", sub.conn.RemoteAddr().String()))
	}()
	sub.conn.SetReadLimit(512)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (p *WSPublisher) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *WSPublisher) Publish(_ context.Context, agg *models.TargetPortfolio) error {
	msg, err := models.EncodePortfolio(agg, p.cfg.Envelope)
	if err != nil {
		p.metrics.RecordPublish("websocket", err)
		return err
	}

	p.mu.RLock()
	dropped := 0
	for sub := range p.clients {
		select {
		case sub.send <- msg:
		default:
			dropped++
		}
	}
	p.mu.RUnlock()

	if dropped > 0 {
		p.logger.Debug("slow subscribers skipped", xlogger.Int("count", dropped))
	}
	p.metrics.RecordPublish("websocket", nil)
	return nil
}

// Close detaches every subscriber and shuts the output socket.
func (p *WSPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	err := p.server.Stop(ctx)

	p.mu.Lock()
	p.closed = true
	for sub := range p.clients {
		delete(p.clients, sub)
		sub.close()
	}
	p.mu.Unlock()

	if werr := waitGroup(ctx, &p.wg); werr != nil && err == nil {
		err = werr
	}
	return err
}

var _ drepo.OutputPublisher = (*WSPublisher)(nil)
