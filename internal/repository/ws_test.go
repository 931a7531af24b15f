package repository

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"KellyMux/internal/domain/models"
	xlogger "KellyMux/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePortfolio = `{"multiplexer_id":"A","target_weights":[[{"type":"Equity","data":{"symbol":"AAPL","exchange":"NASDAQ"}},1.0]],"target_positions":null}`

func wsURL(addr, path string) string {
	return "ws://" + addr + path
}

func startWSIngest(t *testing.T, rec *recorder) *WSIngest {
	t.Helper()
	in := NewWSIngest(WSIngestConfig{Addr: "127.0.0.1:0", Path: "/ingest", BufferSize: 16}, xlogger.Nop(), nil)
	ctx := context.Background()
	require.NoError(t, in.Bind(ctx))
	require.NoError(t, in.Start(ctx, rec.handle))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = in.Stop(stopCtx)
	})
	return in
}

func TestWSIngestDeliversFramesInOrder(t *testing.T) {
	rec := newRecorder()
	in := startWSIngest(t, rec)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(in.Addr(), "/ingest"), nil)
	require.NoError(t, err)
	defer conn.Close()

	ids := []string{"p1", "p2", "p3"}
	for i, id := range ids {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage,
			[]byte(strings.Replace(samplePortfolio, `"A"`, `"`+id+`"`, 1))))
		if i == 0 {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"garbage":`)))
		}
	}
	assert.Equal(t, ids, rec.wait(t, len(ids)))
}

func TestWSIngestHTTPPost(t *testing.T) {
	rec := newRecorder()
	in := startWSIngest(t, rec)
	url := "http://" + in.Addr() + "/ingest"

	resp, err := http.Post(url, "application/json", bytes.NewBufferString(samplePortfolio))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(url, "application/json", bytes.NewBufferString(`{"target_weights":[]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, []string{"A"}, rec.wait(t, 1))
}

func TestWSIngestBindConflict(t *testing.T) {
	rec := newRecorder()
	first := startWSIngest(t, rec)

	second := NewWSIngest(WSIngestConfig{Addr: first.Addr()}, xlogger.Nop(), nil)
	assert.Error(t, second.Bind(context.Background()))
}

func TestWSIngestStopClosesProducers(t *testing.T) {
	in := NewWSIngest(WSIngestConfig{Addr: "127.0.0.1:0"}, xlogger.Nop(), nil)
	ctx := context.Background()
	require.NoError(t, in.Bind(ctx))
	require.NoError(t, in.Start(ctx, func(context.Context, *models.TargetPortfolio) {}))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(in.Addr(), "/ingest"), nil)
	require.NoError(t, err)
	defer conn.Close()

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, in.Stop(stopCtx))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestWSPublisherBroadcast(t *testing.T) {
	pub := NewWSPublisher(WSPublisherConfig{Addr: "127.0.0.1:0", Path: "/stream", Envelope: true}, xlogger.Nop(), nil)
	require.NoError(t, pub.Bind(context.Background()))
	defer pub.Close()

	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(pub.Addr(), "/stream"), nil)
		require.NoError(t, err)
		defer conn.Close()
		conns = append(conns, conn)
	}
	require.Eventually(t, func() bool { return pub.Subscribers() == 2 }, 2*time.Second, 10*time.Millisecond)

	agg := models.NewTargetPortfolio("KellyMux_Aggregated")
	agg.Weights[models.Instrument{Type: "Equity", Symbol: "AAPL", Exchange: "NASDAQ"}] = 1.125
	require.NoError(t, pub.Publish(context.Background(), agg))

	for _, conn := range conns {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(msg), `"type":"TargetPortfolio"`)

		got, err := models.DecodePortfolio(msg)
		require.NoError(t, err)
		assert.Equal(t, agg, got)
	}
}

func TestWSPublisherCloseDetachesSubscribers(t *testing.T) {
	pub := NewWSPublisher(WSPublisherConfig{Addr: "127.0.0.1:0"}, xlogger.Nop(), nil)
	require.NoError(t, pub.Bind(context.Background()))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(pub.Addr(), "/stream"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return pub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, pub.Close())
	assert.Equal(t, 0, pub.Subscribers())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
