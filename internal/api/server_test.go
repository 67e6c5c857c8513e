package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linktap/internal/analysis"
	"linktap/internal/arpcache"
	"linktap/internal/capture"
	"linktap/internal/metrics"
	"linktap/internal/models"
	"linktap/internal/netaddr"
	"linktap/internal/sniffer"
)

func newTestServer() (*Server, *arpcache.Cache, *analysis.TrafficStats, *metrics.Metrics) {
	cache := arpcache.New()
	cache.Set(net.ParseIP("10.0.0.9"), net.HardwareAddr{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb})
	cache.Set(net.ParseIP("10.0.0.5"), net.HardwareAddr{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa})

	stats := analysis.NewTrafficStats()
	stats.ProcessPacket(models.PacketData{SrcIP: "10.0.0.5", Length: 100, Protocol: "UDP", DstPort: 53})

	m := metrics.New(func() float64 { return float64(cache.Len()) }, nil)
	m.Poisoned(3)

	s := sniffer.New(capture.NewMock(), netaddr.StaticResolver{}, sniffer.Config{Interface: "eth0"})
	s.Register(&metrics.Module{Metrics: m})

	return NewServer(cache, stats, m, s), cache, stats, m
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestCacheEndpoints(t *testing.T) {
	srv, _, _, _ := newTestServer()

	rec := get(t, srv.Handler(), "/cache")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var entries []cacheEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Equal(t, []cacheEntry{
		{IP: "10.0.0.5", MAC: "aa:aa:aa:aa:aa:aa"},
		{IP: "10.0.0.9", MAC: "bb:bb:bb:bb:bb:bb"},
	}, entries)

	rec = get(t, srv.Handler(), "/cache/10.0.0.9")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bb:bb:bb:bb:bb:bb")

	assert.Equal(t, http.StatusNotFound, get(t, srv.Handler(), "/cache/10.0.0.77").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv.Handler(), "/cache/bogus").Code)
}

func TestStatsEndpoint(t *testing.T) {
	srv, _, _, _ := newTestServer()

	rec := get(t, srv.Handler(), "/stats?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap analysis.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(100), snap.TotalBytes)
	assert.Len(t, snap.TopTalkers, 1)

	assert.Equal(t, http.StatusBadRequest, get(t, srv.Handler(), "/stats?limit=-1").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _, _ := newTestServer()

	rec := get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "linktap_poison_frames_total 3")
	assert.Contains(t, body, "linktap_arp_cache_entries 2")
}

func TestModulesAndHealth(t *testing.T) {
	srv, _, _, _ := newTestServer()

	rec := get(t, srv.Handler(), "/modules")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "*metrics.Module")

	rec = get(t, srv.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"cache_entries":2`)
}

func TestNilSourcesAreNotRouted(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil)
	for _, path := range []string{"/cache", "/stats", "/metrics", "/modules"} {
		assert.Equal(t, http.StatusNotFound, get(t, srv.Handler(), path).Code, path)
	}
	assert.Equal(t, http.StatusOK, get(t, srv.Handler(), "/healthz").Code)
}

func TestServeAndShutdown(t *testing.T) {
	srv, _, _, _ := newTestServer()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/healthz")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-errc)

	_, err = http.Get("http://" + ln.Addr().String() + "/healthz")
	assert.Error(t, err)
}
