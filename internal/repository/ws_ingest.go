package repository

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	drepo "KellyMux/internal/domain/repository"
	xhttp "KellyMux/pkg/http"
	xlogger "KellyMux/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const maxMessageBytes = 1 << 20

// WSIngestConfig configures the websocket ingest listener.
type WSIngestConfig struct {
	Addr       string
	Path       string
	BufferSize int
}

// WSIngest accepts producer connections on a websocket endpoint. Every text
// or binary frame is one serialized portfolio. The same path also accepts a
// single portfolio per HTTP POST.
type WSIngest struct {
	cfg      WSIngestConfig
	server   *xhttp.Server
	upgrader websocket.Upgrader
	d        *dispatcher
	logger   *xlogger.Logger

	mu     sync.Mutex
	ctx    context.Context
	conns  map[*websocket.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewWSIngest(cfg WSIngestConfig, logger *xlogger.Logger, metrics drepo.Metrics) *WSIngest {
	if cfg.Path == "" {
		cfg.Path = "/ingest"
	}
	w := &WSIngest{
		cfg:    cfg,
		d:      newDispatcher("websocket", cfg.BufferSize, logger, metrics),
		logger: logger.Named("ingest.websocket"),
		ctx:    context.Background(),
		conns:  make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	w.server = xhttp.NewServer(w,
		xhttp.WithName("ingest"),
		xhttp.WithAddr(cfg.Addr),
		xhttp.WithLogger(logger),
	)
	return w
}

func (w *WSIngest) RegisterRoutes(e *echo.Echo) {
	e.GET(w.cfg.Path, w.serveWS)
	e.POST(w.cfg.Path, w.servePost)
}

func (w *WSIngest) Bind(context.Context) error { return w.server.Bind() }

// Addr returns the bound address.
func (w *WSIngest) Addr() string { return w.server.Addr() }

func (w *WSIngest) Start(ctx context.Context, h drepo.PortfolioHandler) error {
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()
	w.d.start(ctx, h)
	return w.server.Start()
}

func (w *WSIngest) runContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ctx
}

func (w *WSIngest) serveWS(c echo.Context) error {
	conn, err := w.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		w.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	conn.SetReadLimit(maxMessageBytes)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	w.conns[conn] = struct{}{}
	w.wg.Add(1)
	w.mu.Unlock()

	remote := conn.RemoteAddr().String()
	w.logger.Info("producer connected", xlogger.String("remote", remote))
	defer func() {
		w.mu.Lock()
		delete(w.conns, conn)
		w.mu.Unlock()
		_ = conn.Close()
		w.wg.Done()
		w.logger.Info("producer disconnected", xlogger.String("remote", remote))
	}()

	ctx := w.runContext()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				w.logger.Debug("read loop ended", xlogger.String("remote", remote), xlogger.Error(err))
			}
			return nil
		}
		p, ok := w.d.decode(msg, remote)
		if !ok {
			continue
		}
		if err := w.d.enqueue(ctx, p); err != nil {
			return nil
		}
	}
}

func (w *WSIngest) servePost(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxMessageBytes))
	if err != nil {
		return xhttp.BadRequestResponse(c, err.Error())
	}
	p, ok := w.d.decode(body, c.RealIP())
	if !ok {
		return xhttp.BadRequestResponse(c, "malformed portfolio")
	}
	if err := w.d.enqueue(c.Request().Context(), p); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("ingest is shutting down").WithError(err))
	}
	return xhttp.AcceptedResponse(c, map[string]string{"id": p.ID})
}

// Stop closes the listener and every producer connection, then waits for
// the read loops and the handler loop to exit.
func (w *WSIngest) Stop(ctx context.Context) error {
	err := w.d.stop(ctx)

	if serr := w.server.Stop(ctx); serr != nil && err == nil {
		err = serr
	}

	w.mu.Lock()
	w.closed = true
	for conn := range w.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	w.mu.Unlock()

	if werr := waitGroup(ctx, &w.wg); werr != nil && err == nil {
		err = werr
	}
	return err
}

var _ drepo.IngestListener = (*WSIngest)(nil)
