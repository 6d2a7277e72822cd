package feeds

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linluma/xrpticker/shared/backoff"
	"github.com/linluma/xrpticker/shared/models"
)

// fakeSession scripts the server side of a websocket session: every request
// written is answered by the respond function.
type fakeSession struct {
	respond func(req accountInfoRequest) any // nil response stays silent

	mu       sync.Mutex
	closed   bool
	incoming chan []byte
}

func newFakeSession(respond func(req accountInfoRequest) any) *fakeSession {
	return &fakeSession{
		respond:  respond,
		incoming: make(chan []byte, 32),
	}
}

func (s *fakeSession) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("write on closed connection")
	}
	s.mu.Unlock()

	var req accountInfoRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	if s.respond == nil {
		return nil
	}
	if resp := s.respond(req); resp != nil {
		payload, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		s.incoming <- payload
	}
	return nil
}

func (s *fakeSession) ReadMessage() (int, []byte, error) {
	msg, ok := <-s.incoming
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, msg, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.incoming)
	}
	return nil
}

func (s *fakeSession) SetWriteDeadline(time.Time) error { return nil }
func (s *fakeSession) SetReadLimit(int64)               {}

func balanceResponse(id string, drops int64) map[string]any {
	return map[string]any{
		"id":     id,
		"status": "success",
		"result": map[string]any{
			"account_data": map[string]any{
				"Account": "r",
				"Balance": strconv.FormatInt(drops, 10),
			},
		},
	}
}

func errorResponse(id, code string) map[string]any {
	return map[string]any{
		"id":     id,
		"status": "error",
		"error":  code,
	}
}

func respondWithBalances(balances map[string]any) func(accountInfoRequest) any {
	return func(req accountInfoRequest) any {
		resp, ok := balances[req.Account]
		if !ok {
			return errorResponse(req.ID, "actNotFound")
		}
		switch v := resp.(type) {
		case int64:
			return balanceResponse(req.ID, v)
		case string:
			return errorResponse(req.ID, v)
		case map[string]any:
			v["id"] = req.ID
			return v
		}
		return nil
	}
}

func newTestXRPLFeed(addresses []string, dial dialFunc) *XRPLFeed {
	f := NewXRPLFeed(XRPLConfig{
		Addresses:      addresses,
		Endpoints:      []string{"wss://one.test", "wss://two.test", "wss://three.test"},
		RequestTimeout: 200 * time.Millisecond,
		SwitchPause:    time.Millisecond,
		Backoff:        backoff.NewCalculatorWith(time.Millisecond, 5*time.Millisecond, 2.0, 0),
	})
	// Bypass the production poll floor so tests run on millisecond cycles
	f.cfg.PollInterval = 5 * time.Millisecond
	if dial != nil {
		f.dial = dial
	}
	return f
}

func TestXRPLFeed_AggregatesMultipleWallets(t *testing.T) {
	addrA := "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	addrB := "rN7n7otQDd6FczFgLdSqtcsAUxDkw6fzRH"
	session := newFakeSession(respondWithBalances(map[string]any{
		addrA: int64(50_000_000),
		addrB: int64(75_000_000),
	}))

	f := newTestXRPLFeed([]string{addrA, addrB}, nil)
	data, err := f.fetchOnce(context.Background(), session, "wss://one.test")
	require.NoError(t, err)

	assert.Equal(t, int64(125_000_000), data.BalanceDrops)
	assert.InDelta(t, 125.0, data.BalanceXRP, 1e-9)
	assert.Equal(t, "2 wallets", data.Address)
	assert.Equal(t, "wss://one.test", data.Source)
}

func TestXRPLFeed_SingleWalletLabel(t *testing.T) {
	addr := "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	session := newFakeSession(respondWithBalances(map[string]any{
		addr: int64(42_000_000),
	}))

	f := newTestXRPLFeed([]string{addr}, nil)
	data, err := f.fetchOnce(context.Background(), session, "wss://one.test")
	require.NoError(t, err)

	assert.Equal(t, addr, data.Address)
	assert.Equal(t, int64(42_000_000), data.BalanceDrops)
}

func TestXRPLFeed_NoWalletsEmitsPlaceholder(t *testing.T) {
	session := newFakeSession(nil)

	f := newTestXRPLFeed(nil, nil)
	data, err := f.fetchOnce(context.Background(), session, "wss://one.test")
	require.NoError(t, err)

	assert.Equal(t, "No wallets", data.Address)
	assert.Equal(t, int64(0), data.BalanceDrops)
}

func TestXRPLFeed_AccountNotFoundIsZeroNotError(t *testing.T) {
	addrA := "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	addrB := "rN7n7otQDd6FczFgLdSqtcsAUxDkw6fzRH"
	session := newFakeSession(respondWithBalances(map[string]any{
		addrA: int64(50_000_000),
		// addrB missing => actNotFound
	}))

	f := newTestXRPLFeed([]string{addrA, addrB}, nil)
	data, err := f.fetchOnce(context.Background(), session, "wss://one.test")
	require.NoError(t, err)

	assert.Equal(t, int64(50_000_000), data.BalanceDrops)
	assert.Equal(t, "2 wallets", data.Address)
}

func TestXRPLFeed_BadBalancesResolveToZero(t *testing.T) {
	addr := "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"

	tests := []struct {
		name string
		resp map[string]any
	}{
		{
			"other error code",
			errorResponse("", "slowDown"),
		},
		{
			"missing account data",
			map[string]any{"status": "success", "result": map[string]any{}},
		},
		{
			"malformed balance",
			map[string]any{"status": "success", "result": map[string]any{
				"account_data": map[string]any{"Account": addr, "Balance": "not-a-number"},
			}},
		},
		{
			"balance above total issuance",
			map[string]any{"status": "success", "result": map[string]any{
				"account_data": map[string]any{"Account": addr, "Balance": "100000000000000001"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newFakeSession(respondWithBalances(map[string]any{addr: tt.resp}))
			f := newTestXRPLFeed([]string{addr}, nil)
			data, err := f.fetchOnce(context.Background(), session, "wss://one.test")
			require.NoError(t, err)
			assert.Equal(t, int64(0), data.BalanceDrops)
		})
	}
}

func TestXRPLFeed_SilentResponseTimesOutToZero(t *testing.T) {
	addr := "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	session := newFakeSession(func(accountInfoRequest) any { return nil })

	f := newTestXRPLFeed([]string{addr}, nil)
	f.cfg.RequestTimeout = 20 * time.Millisecond

	data, err := f.fetchOnce(context.Background(), session, "wss://one.test")
	require.NoError(t, err)
	assert.Equal(t, int64(0), data.BalanceDrops)
}

func TestXRPLFeed_FailoverExhaustionFails(t *testing.T) {
	var dials []string
	var mu sync.Mutex
	dial := func(ctx context.Context, endpoint string) (wsSession, error) {
		mu.Lock()
		dials = append(dials, endpoint)
		mu.Unlock()
		return nil, errors.New("handshake rejected")
	}

	f := newTestXRPLFeed([]string{"rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"}, dial)

	var failed atomic.Bool
	f.SetStatusHandler(func(s models.ServiceStatus) {
		if s.State == models.StateFailed {
			failed.Store(true)
		}
	})

	require.NoError(t, f.Start())
	defer f.Stop()

	require.Eventually(t, func() bool { return failed.Load() }, 5*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"wss://one.test", "wss://two.test", "wss://three.test"}, dials)
	assert.Equal(t, models.StateFailed, f.Status().State)
	assert.Equal(t, "All endpoints failed", f.Status().ErrorMessage)
}

func TestXRPLFeed_TransportErrorRetriesSameEndpoint(t *testing.T) {
	var dials []string
	var mu sync.Mutex
	dial := func(ctx context.Context, endpoint string) (wsSession, error) {
		mu.Lock()
		dials = append(dials, endpoint)
		mu.Unlock()
		// Session dies immediately: writes fail, reads see a closed channel
		session := newFakeSession(nil)
		session.Close()
		return session, nil
	}

	f := newTestXRPLFeed([]string{"rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"}, dial)

	require.NoError(t, f.Start())
	defer f.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dials) >= 3
	}, 5*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, endpoint := range dials {
		assert.Equal(t, "wss://one.test", endpoint, "transport failures must not fail over")
	}
	assert.Greater(t, f.Status().ReconnectAttempts, 0)
}

func TestXRPLFeed_RestartRewindsFailover(t *testing.T) {
	addr := "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	var allow atomic.Bool
	var dials []string
	var mu sync.Mutex

	dial := func(ctx context.Context, endpoint string) (wsSession, error) {
		mu.Lock()
		dials = append(dials, endpoint)
		mu.Unlock()
		if !allow.Load() {
			return nil, errors.New("handshake rejected")
		}
		return newFakeSession(respondWithBalances(map[string]any{addr: int64(1_000_000)})), nil
	}

	f := newTestXRPLFeed([]string{addr}, dial)

	require.NoError(t, f.Start())
	require.Eventually(t, func() bool {
		return f.Status().State == models.StateFailed
	}, 5*time.Second, time.Millisecond)

	var got atomic.Int64
	f.SetBalanceHandler(func(d models.WalletData) { got.Store(d.BalanceDrops) })

	allow.Store(true)
	require.NoError(t, f.Restart())
	defer f.Stop()

	require.Eventually(t, func() bool { return got.Load() == 1_000_000 }, 5*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// The restart began a fresh cycle at the highest-priority endpoint
	assert.Equal(t, "wss://one.test", dials[len(dials)-1])
	assert.Equal(t, models.StateConnected, f.Status().State)
}

func TestXRPLFeed_BalanceCallbackPanicDoesNotKillLoop(t *testing.T) {
	addr := "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	dial := func(ctx context.Context, endpoint string) (wsSession, error) {
		return newFakeSession(respondWithBalances(map[string]any{addr: int64(1_000_000)})), nil
	}

	f := newTestXRPLFeed([]string{addr}, dial)

	var ticks atomic.Int64
	f.SetBalanceHandler(func(models.WalletData) {
		ticks.Add(1)
		panic("consumer bug")
	})

	require.NoError(t, f.Start())
	defer f.Stop()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, models.StateConnected, f.Status().State)
}

func TestXRPLFeed_StopIsIdempotent(t *testing.T) {
	addr := "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	dial := func(ctx context.Context, endpoint string) (wsSession, error) {
		return newFakeSession(respondWithBalances(map[string]any{addr: int64(1)})), nil
	}

	f := newTestXRPLFeed([]string{addr}, dial)

	require.NoError(t, f.Stop()) // never started
	require.NoError(t, f.Start())
	require.NoError(t, f.Start()) // no-op

	require.Eventually(t, func() bool {
		return f.Status().State == models.StateConnected
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, f.Stop())
	require.NoError(t, f.Stop())
	assert.Equal(t, models.StateDisconnected, f.Status().State)
}

func TestXRPLFeed_FetchBalanceOnceWalksEndpoints(t *testing.T) {
	addr := "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	dial := func(ctx context.Context, endpoint string) (wsSession, error) {
		if endpoint != "wss://two.test" {
			return nil, errors.New("handshake rejected")
		}
		return newFakeSession(respondWithBalances(map[string]any{addr: int64(7_000_000)})), nil
	}

	f := newTestXRPLFeed([]string{addr}, dial)

	data, err := f.FetchBalanceOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7_000_000), data.BalanceDrops)
	assert.Equal(t, "wss://two.test", data.Source)
}
