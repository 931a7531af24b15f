package api

import (
	"net/http"

	models "KellyMux/internal/domain/models"
	"KellyMux/internal/usecase"
	xhttp "KellyMux/pkg/http"
	xlogger "KellyMux/pkg/logger"

	"github.com/labstack/echo/v4"
)

// StateSource reports the service lifecycle phase, e.g. "running".
type StateSource func() string

// StateRunning is the only phase in which /healthz answers 200.
const StateRunning = "running"

// AdminEchoHandler serves the registry control plane.
type AdminEchoHandler struct {
	logger *xlogger.Logger
	admin  *usecase.AdminService
	mux    *usecase.Multiplexer
	state  StateSource
}

func NewAdminEchoHandler(logger *xlogger.Logger, admin *usecase.AdminService, mux *usecase.Multiplexer, state StateSource) *AdminEchoHandler {
	if state == nil {
		state = func() string { return "unknown" }
	}
	return &AdminEchoHandler{logger: logger.Named("admin"), admin: admin, mux: mux, state: state}
}

func (h *AdminEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/admin", h.Command)
	e.GET("/admin/clients", h.Clients)
	e.GET("/portfolio", h.Portfolio)
	e.GET("/healthz", h.Health)
}

// Command applies one ADD, UPDATE or REMOVE request. The body is always
// answered with {status, msg}; 200 for OK and 400 for ERROR.
func (h *AdminEchoHandler) Command(c echo.Context) error {
	req := &models.AdminRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return c.JSON(http.StatusBadRequest, h.admin.Reject(req, xhttp.Summary(verr)))
	}

	resp := h.admin.Execute(c.Request().Context(), req)
	status := http.StatusOK
	if resp.Status != models.StatusOK {
		status = http.StatusBadRequest
	} else {
		h.logger.Info("admin command applied",
			xlogger.String("cmd", req.Cmd),
			xlogger.String("client", req.ID),
		)
	}
	return c.JSON(status, resp)
}

func (h *AdminEchoHandler) Clients(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.mux.Clients())
}

func (h *AdminEchoHandler) Portfolio(c echo.Context) error {
	last := h.mux.Last()
	if last == nil || last.IsEmpty() {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no aggregate computed yet"))
	}
	return c.JSON(http.StatusOK, last)
}

// Health reports the lifecycle phase; anything but running is 503.
func (h *AdminEchoHandler) Health(c echo.Context) error {
	state := h.state()
	code := http.StatusOK
	if state != StateRunning {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]string{"status": state})
}
