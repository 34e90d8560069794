package llm

import (
	"context"
	goerrors "errors"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/khoste/vigil/config"
	"github.com/khoste/vigil/errors"
	"github.com/khoste/vigil/logging"
	"github.com/khoste/vigil/session"
	"github.com/khoste/vigil/tools"
	"golang.org/x/time/rate"
)

// ErrNoProvider is returned when no enabled, credentialed, healthy
// provider remains.
var ErrNoProvider = goerrors.New("no available provider")

// Failover wraps the configured providers behind one streaming-completion
// call. Each call goes to the single highest-priority available provider;
// there is no mid-call failover to the next provider — a failed call fails,
// and only future calls see the demoted provider.
type Failover struct {
	slots   []*slot
	limiter *rate.Limiter
	inst    *Instrumentation
}

type slot struct {
	name     string
	priority int
	client   Client
	metrics  *ProviderMetrics
}

// NewFailover constructs clients for every enabled provider whose
// credential resolves, sorted by priority. Providers that cannot be
// constructed are skipped with a warning; having zero usable providers is
// a configuration error.
func NewFailover(ctx context.Context, cfg *config.Config, inst *Instrumentation) (*Failover, error) {
	if inst == nil {
		inst = NewInstrumentation(nil)
	}

	var slots []*slot
	for _, p := range cfg.Providers {
		if !p.IsEnabled() {
			continue
		}
		model := p.Model
		if model == "" {
			model = cfg.Model
		}
		client, err := buildClient(ctx, p.Name, model, p.APIKeyEnv, p.BaseURL)
		if err != nil {
			logging.L().Warn("skipping provider", "provider", p.Name, "error", err)
			continue
		}
		slots = append(slots, &slot{
			name:     p.Name,
			priority: p.Priority,
			client:   client,
			metrics:  NewProviderMetrics(),
		})
	}
	if len(slots) == 0 {
		return nil, errors.New("no usable providers configured")
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].priority < slots[j].priority })

	rl := cfg.RateLimit
	if rl.Requests <= 0 {
		rl.Requests = 30
	}
	if rl.WindowSeconds <= 0 {
		rl.WindowSeconds = 60
	}
	limiter := rate.NewLimiter(rate.Limit(float64(rl.Requests)/float64(rl.WindowSeconds)), rl.Requests)

	return &Failover{slots: slots, limiter: limiter, inst: inst}, nil
}

func buildClient(ctx context.Context, name, model, keyEnv, baseURL string) (Client, error) {
	switch name {
	case "anthropic":
		return NewAnthropicClient(ctx, model, keyEnv, baseURL)
	case "openai":
		return NewOpenAIClient(ctx, model, keyEnv, baseURL)
	case "bedrock":
		return NewBedrockClient(ctx, model)
	case "gemini":
		return NewGeminiClient(ctx, model, keyEnv)
	case "mock":
		return &MockClient{}, nil
	default:
		return nil, errors.New("unknown provider '%s'", name)
	}
}

// AvailableProviders returns the names of providers eligible for the next
// call, sorted by priority. Unhealthy providers are excluded until a probe
// or manual success recovers them.
func (f *Failover) AvailableProviders() []string {
	var names []string
	for _, s := range f.slots {
		if s.metrics.Status() != StatusUnhealthy {
			names = append(names, s.name)
		}
	}
	return names
}

// Metrics returns a snapshot for the named provider, for diagnostics.
func (f *Failover) Metrics(name string) (Snapshot, bool) {
	for _, s := range f.slots {
		if s.name == name {
			return s.metrics.Snapshot(), true
		}
	}
	return Snapshot{}, false
}

// ChatStream dispatches the completion to the best available provider.
// The rate limiter is waited on first, so the caller blocks (not a
// worker) until a slot frees; ctx cancellation aborts the wait.
func (f *Failover) ChatStream(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (Stream, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrapf(err, "rate limiter wait aborted")
	}

	s := f.pick()
	if s == nil {
		return nil, ErrNoProvider
	}

	start := time.Now()
	logging.L().Info("dispatching completion", "provider", s.name)
	stream, err := s.client.ChatStream(ctx, messages, availableTools)
	if err != nil {
		f.recordFailure(s, err)
		return nil, errors.Wrapf(err, "provider '%s' call failed", s.name)
	}
	return &meteredStream{inner: stream, failover: f, slot: s, start: start}, nil
}

func (f *Failover) pick() *slot {
	for _, s := range f.slots {
		if s.metrics.Status() != StatusUnhealthy {
			return s
		}
	}
	return nil
}

func (f *Failover) recordSuccess(s *slot, start time.Time) {
	latency := time.Since(start)
	s.metrics.RecordSuccess(latency)
	f.inst.observeSuccess(s.name, latency)
}

func (f *Failover) recordFailure(s *slot, err error) {
	category := normalizeProviderError(err)
	s.metrics.RecordFailure(category)
	f.inst.observeFailure(s.name)
	logging.L().Warn("provider call failed", "provider", s.name, "category", category)
}

// Probe sends a trivial completion to the named provider and records the
// outcome, which is the only way an Unhealthy provider re-enters
// selection short of a manual success.
func (f *Failover) Probe(ctx context.Context, name string) error {
	for _, s := range f.slots {
		if s.name != name {
			continue
		}
		start := time.Now()
		stream, err := s.client.ChatStream(ctx, []session.Message{
			{Role: session.RoleHuman, Content: "Reply with the single word: ok"},
		}, nil)
		if err != nil {
			f.recordFailure(s, err)
			return errors.Wrapf(err, "probe of '%s' failed", name)
		}
		if _, err := Collect(stream); err != nil {
			f.recordFailure(s, err)
			return errors.Wrapf(err, "probe of '%s' failed", name)
		}
		f.recordSuccess(s, start)
		return nil
	}
	return errors.New("unknown provider '%s'", name)
}

// Summarize asks the best available provider for a prose summary of the
// conversation. The session package calls this through its Summarizer
// hook when the history exceeds its ceilings.
func (f *Failover) Summarize(ctx context.Context, msgs []session.Message) (string, error) {
	var b strings.Builder
	b.WriteString("Summarize the following conversation between a user and an AI coding agent. ")
	b.WriteString("Preserve decisions made, files touched, commands run, and any unresolved tasks. ")
	b.WriteString("Reply with the summary only.\n\n")
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		for _, tc := range m.ToolCalls {
			b.WriteString(" [called ")
			b.WriteString(tc.Name)
			b.WriteString("]")
		}
		b.WriteString("\n")
	}

	stream, err := f.ChatStream(ctx, []session.Message{
		{Role: session.RoleHuman, Content: b.String()},
	}, nil)
	if err != nil {
		return "", err
	}
	msg, err := Collect(stream)
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// meteredStream records the call outcome once the stream finishes. A
// stream that reaches Done or EOF counts as a success; a stream error
// counts as a failure. Both record at most once.
type meteredStream struct {
	inner    Stream
	failover *Failover
	slot     *slot
	start    time.Time
	recorded bool
}

func (m *meteredStream) Recv() (Delta, error) {
	d, err := m.inner.Recv()
	switch {
	case err == nil && d.Done, goerrors.Is(err, io.EOF):
		m.record(nil)
	case err != nil:
		m.record(err)
	}
	return d, err
}

func (m *meteredStream) record(err error) {
	if m.recorded {
		return
	}
	m.recorded = true
	if err != nil {
		m.failover.recordFailure(m.slot, err)
		return
	}
	m.failover.recordSuccess(m.slot, m.start)
}

func (m *meteredStream) Close() error {
	return m.inner.Close()
}
