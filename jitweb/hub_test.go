package jitweb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/jitrt/jit"
	"github.com/colorfulnotion/jitrt/x86"
)

func newTestRuntime(t *testing.T) *jit.Runtime {
	t.Helper()
	rt, err := jit.NewRuntime(jit.Config{ServiceCode: 16 << 10, ServiceData: 4096, ChildCode: 4096, ChildData: 4096})
	require.NoError(t, err)
	t.Cleanup(rt.Finalize)
	return rt
}

func buildNamed(t *testing.T, rt *jit.Runtime, name string) {
	t.Helper()
	_, err := rt.BuildFunction(name, func(a *x86.Assembler, args [4]x86.Reg) {
		a.MovRegReg(x86.RAX, args[0])
		a.Ret()
	})
	require.NoError(t, err)
}

func startFeed(t *testing.T, rt *jit.Runtime) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	srv := NewServer(rt)
	ts := httptest.NewServer(srv.Handler(ctx, wg))
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts
}

func dialFeed(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, prefix string) {
	t.Helper()
	req := SubscriptionRequest{Method: SubFunctions, Params: map[string]string{"prefix": prefix}}
	require.NoError(t, conn.WriteJSON(req))
}

// nextPayload pops the next feed message, reading another websocket
// frame when the queue is empty. The write pump batches queued messages
// into one frame separated by newlines.
func nextPayload(t *testing.T, conn *websocket.Conn, queue *[]functionPayload) functionPayload {
	t.Helper()
	for len(*queue) == 0 {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err, "feed message expected")
		for _, line := range strings.Split(string(frame), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var p functionPayload
			require.NoError(t, json.Unmarshal([]byte(line), &p))
			*queue = append(*queue, p)
		}
	}
	p := (*queue)[0]
	*queue = (*queue)[1:]
	return p
}

// TestFeedReplayAndLive validates that a subscriber first receives the
// already-installed functions, then live announcements.
func TestFeedReplayAndLive(t *testing.T) {
	rt := newTestRuntime(t)
	buildNamed(t, rt, "warm")

	ts := startFeed(t, rt)
	conn := dialFeed(t, ts)
	subscribe(t, conn, "")

	var queue []functionPayload
	first := nextPayload(t, conn, &queue)
	assert.Equal(t, SubFunctions, first.Method)
	assert.Equal(t, "warm", first.Result.Name)
	assert.True(t, strings.HasPrefix(first.Result.Addr, "0x"))
	assert.Greater(t, first.Result.Size, 0)

	buildNamed(t, rt, "live")
	second := nextPayload(t, conn, &queue)
	assert.Equal(t, "live", second.Result.Name)
}

// TestFeedPrefixFilter validates per-client name filtering on both the
// replay and the live path.
func TestFeedPrefixFilter(t *testing.T) {
	rt := newTestRuntime(t)
	buildNamed(t, rt, "evm.add")
	buildNamed(t, rt, "spu.mul")

	ts := startFeed(t, rt)
	conn := dialFeed(t, ts)
	subscribe(t, conn, "evm.")

	var queue []functionPayload
	replayed := nextPayload(t, conn, &queue)
	assert.Equal(t, "evm.add", replayed.Result.Name)

	buildNamed(t, rt, "spu.next")
	buildNamed(t, rt, "evm.next")
	buildNamed(t, rt, "evm.tail")

	assert.Equal(t, "evm.next", nextPayload(t, conn, &queue).Result.Name,
		"filtered-out names must be skipped in order")
	assert.Equal(t, "evm.tail", nextPayload(t, conn, &queue).Result.Name)
}

// TestSymbolsEndpoint validates the JSON snapshot of the registry.
func TestSymbolsEndpoint(t *testing.T) {
	rt := newTestRuntime(t)
	buildNamed(t, rt, "alpha")
	buildNamed(t, rt, "beta")

	ts := startFeed(t, rt)
	resp, err := http.Get(ts.URL + "/symbols")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []symbolEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 2)
	names := []string{out[0].Name, out[1].Name}
	assert.Contains(t, names, "alpha")
	assert.Contains(t, names, "beta")
}

// TestStatsEndpoint validates the JSON snapshot of arena occupancy.
func TestStatsEndpoint(t *testing.T) {
	rt := newTestRuntime(t)
	buildNamed(t, rt, "one")

	ts := startFeed(t, rt)
	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out []statsEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 4, "one entry per partition class")
	assert.Equal(t, "service-code", out[0].Class)
	assert.Equal(t, 1, out[0].Functions)
	assert.Greater(t, out[0].Used, 0)
}
