package llm

import (
	"context"
	goerrors "errors"
	"io"
	"testing"
	"time"

	"github.com/khoste/vigil/session"
	"github.com/khoste/vigil/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// scriptedClient fails while failures > 0, then succeeds.
type scriptedClient struct {
	failures int
	calls    int
}

func (c *scriptedClient) ChatStream(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (Stream, error) {
	c.calls++
	if c.failures > 0 {
		c.failures--
		return nil, goerrors.New("boom")
	}
	return newSliceStream([]Delta{{Text: "ok"}, {Done: true}}), nil
}

func testFailover(clients map[string]*scriptedClient, order []string) *Failover {
	f := &Failover{
		limiter: rate.NewLimiter(rate.Inf, 1),
		inst:    NewInstrumentation(nil),
	}
	for i, name := range order {
		f.slots = append(f.slots, &slot{
			name:     name,
			priority: i,
			client:   clients[name],
			metrics:  NewProviderMetrics(),
		})
	}
	return f
}

func TestDispatchPrefersHighestPriority(t *testing.T) {
	clients := map[string]*scriptedClient{
		"primary":   {},
		"secondary": {},
	}
	f := testFailover(clients, []string{"primary", "secondary"})

	stream, err := f.ChatStream(context.Background(), nil, nil)
	require.NoError(t, err)
	msg, err := Collect(stream)
	require.NoError(t, err)

	assert.Equal(t, "ok", msg.Content)
	assert.Equal(t, 1, clients["primary"].calls)
	assert.Equal(t, 0, clients["secondary"].calls)
}

func TestNoMidCallFailover(t *testing.T) {
	clients := map[string]*scriptedClient{
		"primary":   {failures: 1},
		"secondary": {},
	}
	f := testFailover(clients, []string{"primary", "secondary"})

	// The failed call fails outright; the secondary is not tried within
	// the same call.
	_, err := f.ChatStream(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, 0, clients["secondary"].calls)
}

func TestUnhealthyProviderSkipped(t *testing.T) {
	clients := map[string]*scriptedClient{
		"primary":   {failures: 10},
		"secondary": {},
	}
	f := testFailover(clients, []string{"primary", "secondary"})

	for i := 0; i < unhealthyAfter; i++ {
		_, err := f.ChatStream(context.Background(), nil, nil)
		require.Error(t, err)
	}
	assert.Equal(t, []string{"secondary"}, f.AvailableProviders())

	// Subsequent calls land on the secondary.
	stream, err := f.ChatStream(context.Background(), nil, nil)
	require.NoError(t, err)
	_, err = Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, 1, clients["secondary"].calls)
}

func TestAllProvidersUnhealthy(t *testing.T) {
	clients := map[string]*scriptedClient{"only": {failures: 10}}
	f := testFailover(clients, []string{"only"})

	for i := 0; i < unhealthyAfter; i++ {
		_, err := f.ChatStream(context.Background(), nil, nil)
		require.Error(t, err)
	}

	_, err := f.ChatStream(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestProbeRecoversUnhealthyProvider(t *testing.T) {
	clients := map[string]*scriptedClient{"only": {failures: unhealthyAfter}}
	f := testFailover(clients, []string{"only"})

	for i := 0; i < unhealthyAfter; i++ {
		_, err := f.ChatStream(context.Background(), nil, nil)
		require.Error(t, err)
	}
	assert.Empty(t, f.AvailableProviders())

	require.NoError(t, f.Probe(context.Background(), "only"))
	assert.Equal(t, []string{"only"}, f.AvailableProviders())

	snap, ok := f.Metrics("only")
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, snap.Status)
}

func TestStreamOutcomeRecordedOnce(t *testing.T) {
	clients := map[string]*scriptedClient{"only": {}}
	f := testFailover(clients, []string{"only"})

	stream, err := f.ChatStream(context.Background(), nil, nil)
	require.NoError(t, err)

	for {
		_, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	stream.Close()

	snap, _ := f.Metrics("only")
	assert.Equal(t, 1, snap.Total)
	assert.Equal(t, 1, snap.Success)
}

func TestRateLimiterBlocksCaller(t *testing.T) {
	clients := map[string]*scriptedClient{"only": {}}
	f := testFailover(clients, []string{"only"})
	// One request per 100ms, burst of one.
	f.limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 1)

	start := time.Now()
	for i := 0; i < 2; i++ {
		stream, err := f.ChatStream(context.Background(), nil, nil)
		require.NoError(t, err)
		_, err = Collect(stream)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRateLimiterWaitAbortsOnCancel(t *testing.T) {
	clients := map[string]*scriptedClient{"only": {}}
	f := testFailover(clients, []string{"only"})
	f.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	// Drain the burst token.
	_, err := f.ChatStream(context.Background(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.ChatStream(ctx, nil, nil)
	assert.Error(t, err)
}

func TestSummarizeRendersTranscript(t *testing.T) {
	echo := &MockClient{}
	f := &Failover{
		limiter: rate.NewLimiter(rate.Inf, 1),
		inst:    NewInstrumentation(nil),
		slots: []*slot{{
			name:    "mock",
			client:  echo,
			metrics: NewProviderMetrics(),
		}},
	}

	summary, err := f.Summarize(context.Background(), []session.Message{
		{Role: session.RoleHuman, Content: "fix the bug"},
		{Role: session.RoleAI, Content: "done", ToolCalls: []session.ToolCall{{ID: "tc1", Name: "write_file"}}},
	})
	require.NoError(t, err)
	assert.Contains(t, summary, "fix the bug")
	assert.Contains(t, summary, "[called write_file]")
}
