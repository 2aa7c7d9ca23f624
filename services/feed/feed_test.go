package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solpulse/solpulse/domain"
	"github.com/solpulse/solpulse/infrastructure/logging"
	"github.com/solpulse/solpulse/services/store"
)

const testMint = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
const testPool = "58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2"

func TestParseFrame_TopLevelKeys(t *testing.T) {
	for _, key := range []string{"mint", "address", "tokenAddress"} {
		raw := []byte(`{"` + key + `":"` + testMint + `"}`)
		m, ok := ParseFrame(raw)
		require.True(t, ok, "key %s", key)
		assert.Equal(t, testMint, m.TokenAddress)
	}
}

func TestParseFrame_NestedUnderData(t *testing.T) {
	raw := []byte(`{"data":{"mint":"` + testMint + `"}}`)
	m, ok := ParseFrame(raw)
	require.True(t, ok)
	assert.Equal(t, testMint, m.TokenAddress)
}

func TestParseFrame_PoolFromMigrationEvent(t *testing.T) {
	raw := []byte(`{"mint":"` + testMint + `","pool_address":"` + testPool + `"}`)
	m, ok := ParseFrame(raw)
	require.True(t, ok)
	assert.Equal(t, testPool, m.PoolAddress)
	assert.Equal(t, "raydium", m.Dex)
}

func TestParseFrame_ExplicitDex(t *testing.T) {
	raw := []byte(`{"mint":"` + testMint + `","pool_address":"` + testPool + `","dex":"orca"}`)
	m, ok := ParseFrame(raw)
	require.True(t, ok)
	assert.Equal(t, "orca", m.Dex)
}

func TestParseFrame_Rejects(t *testing.T) {
	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{"message":"Successfully subscribed"}`),
		[]byte(`{"mint":"tooshort"}`),
		[]byte(`{"mint":"` + strings.Repeat("O", 44) + `"}`), // O is not base58
		[]byte(`{"mint":123}`),
		[]byte(`[1,2,3]`),
		[]byte(`{}`),
	}
	for _, raw := range cases {
		_, ok := ParseFrame(raw)
		assert.False(t, ok, "frame %s must be ignored", raw)
	}
}

func TestValidAddress(t *testing.T) {
	assert.True(t, validAddress(testMint))
	assert.False(t, validAddress(""))
	assert.False(t, validAddress(strings.Repeat("a", 45)))
	assert.False(t, validAddress(strings.Repeat("l", 40))) // l excluded from base58
}

func TestReconnectDelay_GrowthAndCap(t *testing.T) {
	for attempt, wantBase := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		5: 16 * time.Second,
		6: 30 * time.Second, // capped
		9: 30 * time.Second,
	} {
		got := reconnectDelay(attempt, time.Second, 30*time.Second)
		assert.GreaterOrEqual(t, got, wantBase, "attempt %d", attempt)
		assert.Less(t, got, wantBase+time.Second, "attempt %d jitter bound", attempt)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	repo   *store.Memory
	tokens []string
}

func (r *recordingSink) UpsertMonitored(ctx context.Context, address string) (*domain.Token, error) {
	r.mu.Lock()
	r.tokens = append(r.tokens, address)
	r.mu.Unlock()
	return r.repo.UpsertMonitored(ctx, address)
}

func (r *recordingSink) UpsertPool(ctx context.Context, tokenAddress, poolAddress, dex string, active bool) error {
	return r.repo.UpsertPool(ctx, tokenAddress, poolAddress, dex, active)
}

func (r *recordingSink) ingested() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tokens...)
}

func TestSubscriber_IngestsFromServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// the client must subscribe first
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		subscribed <- string(frame)

		// ack (ignored), then a migration event
		require.NoError(t, conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"message":"Successfully subscribed to migration events"}`)))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"mint":"`+testMint+`","pool_address":"`+testPool+`"}`)))

		// hold the connection open until the test finishes
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	sink := &recordingSink{repo: store.NewMemory()}
	sub := New("ws"+strings.TrimPrefix(srv.URL, "http"), sink, logging.New("test", "error", "text"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sub.Run(ctx) }()

	select {
	case frame := <-subscribed:
		assert.JSONEq(t, `{"method":"subscribeMigration"}`, frame)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription frame not received")
	}

	require.Eventually(t, func() bool {
		return len(sink.ingested()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	token, err := sink.repo.GetToken(context.Background(), testMint)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, domain.StatusMonitored, token.Status)

	pools, err := sink.repo.ListPools(context.Background(), testMint, true)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, testPool, pools[0].Address)
}

func TestSubscriber_ReconnectsAfterDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	connections := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		mu.Lock()
		connections++
		n := connections
		mu.Unlock()

		_, _, _ = conn.ReadMessage() // subscription frame
		if n == 1 {
			conn.Close() // drop the first connection immediately
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"mint":"`+testMint+`"}`))
		_, _, _ = conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	sink := &recordingSink{repo: store.NewMemory()}
	sub := New("ws"+strings.TrimPrefix(srv.URL, "http"), sink, logging.New("test", "error", "text"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sub.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(sink.ingested()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, connections, 2)
}

// Two failed dials grow the attempt counter, then every connection opens
// successfully and is dropped right after the subscription. Each successful
// open must reset the counter, so after several cycles it can only ever sit
// at 0 or 1 — without the reset it would keep the failed-dial count and grow
// with every drop.
func TestSubscriber_ResetsBackoffAfterSuccessfulOpen(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	connections := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		connections++
		n := connections
		mu.Unlock()

		if n <= 2 {
			// refuse the handshake so the dial itself fails
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// successful open: accept the subscription frame, then drop
		_, _, _ = conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	sink := &recordingSink{repo: store.NewMemory()}
	sub := New("ws"+strings.TrimPrefix(srv.URL, "http"), sink, logging.New("test", "error", "text"), nil)
	sub.backoffBase = 5 * time.Millisecond
	sub.backoffCap = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sub.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connections >= 6
	}, 5*time.Second, 5*time.Millisecond)

	assert.LessOrEqual(t, sub.attempt.Load(), int64(1))
}

func TestSubscriber_CancelStopsRun(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	sink := &recordingSink{repo: store.NewMemory()}
	sub := New("ws"+strings.TrimPrefix(srv.URL, "http"), sink, logging.New("test", "error", "text"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}
