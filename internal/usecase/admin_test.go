package usecase

import (
	"context"
	"testing"

	"KellyMux/internal/domain/models"
	domrepo "KellyMux/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func newAdmin(t *testing.T) (*AdminService, *Multiplexer) {
	t.Helper()
	m := newTestMux(t, testConfig())
	return NewAdminService(m, nil, nil), m
}

func TestAdminAddAndUpdate(t *testing.T) {
	s, m := newAdmin(t)
	ctx := context.Background()

	resp := s.Execute(ctx, &models.AdminRequest{Cmd: models.CmdAdd, ID: "C", Mu: f64(0.2), Sigma: f64(0.4)})
	assert.Equal(t, models.StatusOK, resp.Status)
	assert.NotEmpty(t, resp.Msg)
	p, ok := m.Params("C")
	require.True(t, ok)
	assert.Equal(t, models.StrategyParams{Mu: 0.2, Sigma: 0.4}, p)

	resp = s.Execute(ctx, &models.AdminRequest{Cmd: models.CmdUpdate, ID: "C", Mu: f64(0), Sigma: f64(0.1)})
	assert.Equal(t, models.StatusOK, resp.Status)
	p, _ = m.Params("C")
	assert.Equal(t, models.StrategyParams{Mu: 0, Sigma: 0.1}, p)
}

func TestAdminMalformedAddLeavesRegistryUnchanged(t *testing.T) {
	s, m := newAdmin(t)
	before := m.Registry()

	resp := s.Execute(context.Background(), &models.AdminRequest{Cmd: models.CmdAdd, ID: "C", Sigma: f64(0.4)})
	assert.Equal(t, models.StatusError, resp.Status)
	assert.NotEmpty(t, resp.Msg)
	assert.Equal(t, before, m.Registry())

	resp = s.Execute(context.Background(), &models.AdminRequest{Cmd: models.CmdAdd, ID: "C", Mu: f64(0.1), Sigma: f64(-1)})
	assert.Equal(t, models.StatusError, resp.Status)
	assert.Equal(t, before, m.Registry())
}

func TestAdminRemove(t *testing.T) {
	s, m := newAdmin(t)
	_, err := m.OnPortfolioReceived(portfolio("A", map[models.Instrument]float64{aapl: 1}))
	require.NoError(t, err)

	resp := s.Execute(context.Background(), &models.AdminRequest{Cmd: models.CmdRemove, ID: "A"})
	assert.Equal(t, models.StatusOK, resp.Status)
	_, ok := m.Params("A")
	assert.False(t, ok)

	resp = s.Execute(context.Background(), &models.AdminRequest{Cmd: models.CmdRemove, ID: "A"})
	assert.Equal(t, models.StatusOK, resp.Status)
	assert.Contains(t, resp.Msg, "nothing removed")
}

func TestAdminRejectsUnknownAndIncomplete(t *testing.T) {
	s, _ := newAdmin(t)
	ctx := context.Background()

	cases := map[string]*models.AdminRequest{
		"nil":         nil,
		"unknown cmd": {Cmd: "PURGE", ID: "A"},
		"lowercase":   {Cmd: "add", ID: "A", Mu: f64(1), Sigma: f64(1)},
		"missing id":  {Cmd: models.CmdRemove},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			resp := s.Execute(ctx, req)
			assert.Equal(t, models.StatusError, resp.Status)
			assert.NotEmpty(t, resp.Msg)
		})
	}
}

type adminCounts struct {
	domrepo.NoopMetrics
	got map[string]int
}

func (a *adminCounts) RecordAdmin(cmd, status string) { a.got[cmd+"/"+status]++ }

func TestAdminMetricsCoverRejectedRequests(t *testing.T) {
	counts := &adminCounts{got: map[string]int{}}
	s := NewAdminService(newTestMux(t, testConfig()), nil, counts)

	s.Execute(context.Background(), &models.AdminRequest{Cmd: models.CmdRemove, ID: "A"})
	resp := s.Reject(&models.AdminRequest{Cmd: models.CmdAdd, ID: "C"}, "mu is required")
	assert.Equal(t, models.StatusError, resp.Status)
	assert.Equal(t, "mu is required", resp.Msg)
	s.Reject(nil, "malformed request body")

	assert.Equal(t, map[string]int{
		"REMOVE/OK":     1,
		"ADD/ERROR":     1,
		"UNKNOWN/ERROR": 1,
	}, counts.got)
}
