package usecase

import (
	"context"
	"fmt"

	"KellyMux/internal/domain/models"
	domrepo "KellyMux/internal/domain/repository"
	xlogger "KellyMux/pkg/logger"
)

// AdminService applies registry commands. Every call yields exactly one response.
type AdminService struct {
	mux     *Multiplexer
	logger  *xlogger.Logger
	metrics domrepo.Metrics
}

func NewAdminService(mux *Multiplexer, logger *xlogger.Logger, metrics domrepo.Metrics) *AdminService {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if metrics == nil {
		metrics = domrepo.NoopMetrics{}
	}
	return &AdminService{mux: mux, logger: logger, metrics: metrics}
}

// Execute runs req against the registry. Requests are expected to be
// structurally validated already; missing fields are still answered with ERROR.
func (s *AdminService) Execute(ctx context.Context, req *models.AdminRequest) (resp models.AdminResponse) {
	cmd := commandLabel(req)
	defer func() {
		if r := recover(); r != nil {
			resp = models.Fail(fmt.Sprintf("internal error: %v", r))
		}
		s.record(cmd, resp)
	}()

	if req == nil {
		return models.Fail("empty request")
	}
	if req.ID == "" && cmd != "UNKNOWN" {
		return models.Fail("id is required")
	}

	switch cmd {
	case models.CmdAdd, models.CmdUpdate:
		if req.Mu == nil {
			return models.Fail("mu is required")
		}
		if req.Sigma == nil {
			return models.Fail("sigma is required")
		}
		if err := s.mux.UpsertClient(req.ID, models.StrategyParams{Mu: *req.Mu, Sigma: *req.Sigma}); err != nil {
			return models.Fail(err.Error())
		}
		return models.OK("Client updated")
	case models.CmdRemove:
		if !s.mux.RemoveClient(req.ID) {
			return models.OK("Client not registered; nothing removed")
		}
		return models.OK("Client removed")
	default:
		return models.Fail(fmt.Sprintf("Unknown command %q", req.Cmd))
	}
}

// Reject answers a request that failed validation before reaching Execute.
func (s *AdminService) Reject(req *models.AdminRequest, msg string) models.AdminResponse {
	resp := models.Fail(msg)
	s.record(commandLabel(req), resp)
	return resp
}

func (s *AdminService) record(cmd string, resp models.AdminResponse) {
	s.metrics.RecordAdmin(cmd, resp.Status)
	if resp.Status == models.StatusError {
		s.logger.Warn("admin command failed", xlogger.String("cmd", cmd), xlogger.String("msg", resp.Msg))
	}
}

// commandLabel bounds the metric label set to the known commands.
func commandLabel(req *models.AdminRequest) string {
	if req != nil {
		switch req.Cmd {
		case models.CmdAdd, models.CmdUpdate, models.CmdRemove:
			return req.Cmd
		}
	}
	return "UNKNOWN"
}
