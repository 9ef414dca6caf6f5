package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/warden/pkg/config"
	"github.com/homelab-ops/warden/pkg/masking"
	"github.com/homelab-ops/warden/pkg/metrics"
	"github.com/homelab-ops/warden/pkg/models"
)

// recordingSink collects invocations appended during a test.
type recordingSink struct {
	mu          sync.Mutex
	invocations []models.ToolInvocation
}

func (s *recordingSink) Append(inv models.ToolInvocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invocations = append(s.invocations, inv)
}

func (s *recordingSink) all() []models.ToolInvocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ToolInvocation(nil), s.invocations...)
}

// stubAuthorizer returns a canned decision (or error) and remembers whether
// it was consulted.
type stubAuthorizer struct {
	decision models.Decision
	decider  string
	err      error

	mu     sync.Mutex
	called int
}

func (a *stubAuthorizer) Authorize(ctx context.Context, _ *ExecContext, tool *Tool, args map[string]any) (*models.ApprovalRequest, error) {
	a.mu.Lock()
	a.called++
	a.mu.Unlock()

	req := &models.ApprovalRequest{
		ID:       "appr-test-1",
		Tool:     tool.Name,
		Args:     args,
		Decision: a.decision,
	}
	req.DeciderRef = a.decider
	if a.err != nil {
		return req, a.err
	}
	return req, nil
}

func (a *stubAuthorizer) timesCalled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.called
}

func echoTool(name string, risk Risk) *Tool {
	return &Tool{
		Name:        name,
		Description: "test tool",
		Risk:        risk,
		Family:      "containers",
		Params: []Param{
			{Name: "target", Type: TypeString, Required: true},
			{Name: "count", Type: TypeNumber},
		},
		Handler: func(_ context.Context, _ *ExecContext, args map[string]any) (string, error) {
			return fmt.Sprintf("ran against %v", args["target"]), nil
		},
	}
}

func testExecContext(sink InvocationSink) *ExecContext {
	return &ExecContext{
		IncidentID: "inc-test",
		Stage:      models.StageAnalyst,
		Severity:   "warning",
		Sink:       sink,
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	require.NoError(t, r.Register(echoTool("restart_container", RiskMutateCriticalCandidate)))
	require.NoError(t, r.Register(echoTool("http_probe", RiskRead)))

	tool, ok := r.Lookup("http_probe")
	require.True(t, ok)
	assert.Equal(t, RiskRead, tool.Risk)

	_, ok = r.Lookup("nonexistent")
	assert.False(t, ok)
}

func TestRegisterRejectsInvalidTools(t *testing.T) {
	tests := []struct {
		name   string
		tool   *Tool
		errMsg string
	}{
		{
			name:   "nil tool",
			tool:   nil,
			errMsg: "must have a name",
		},
		{
			name:   "empty name",
			tool:   &Tool{Risk: RiskRead, Handler: func(context.Context, *ExecContext, map[string]any) (string, error) { return "", nil }},
			errMsg: "must have a name",
		},
		{
			name:   "missing handler",
			tool:   &Tool{Name: "broken", Risk: RiskRead},
			errMsg: "has no handler",
		},
		{
			name: "invalid risk",
			tool: &Tool{Name: "broken", Risk: Risk("dangerous"),
				Handler: func(context.Context, *ExecContext, map[string]any) (string, error) { return "", nil }},
			errMsg: `invalid risk "dangerous"`,
		},
		{
			name: "invalid param type",
			tool: &Tool{Name: "broken", Risk: RiskRead,
				Params:  []Param{{Name: "x", Type: ParamType("integer")}},
				Handler: func(context.Context, *ExecContext, map[string]any) (string, error) { return "", nil }},
			errMsg: `invalid type "integer"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil, nil, nil)
			err := r.Register(tt.tool)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	require.NoError(t, r.Register(echoTool("http_probe", RiskRead)))

	err := r.Register(echoTool("http_probe", RiskRead))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateTool)
}

func TestListSortedByName(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	require.NoError(t, r.Register(echoTool("tcp_check", RiskRead)))
	require.NoError(t, r.Register(echoTool("dns_lookup", RiskRead)))
	require.NoError(t, r.Register(echoTool("http_probe", RiskRead)))

	var names []string
	for _, tool := range r.List() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"dns_lookup", "http_probe", "tcp_check"}, names)
	assert.Equal(t, []string{"dns_lookup", "http_probe", "tcp_check"}, r.Names())
}

func TestInvokeUnknownTool(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	sink := &recordingSink{}

	result := r.Invoke(context.Background(), testExecContext(sink), "nonexistent", nil)

	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "unknown tool")
	assert.Equal(t, models.InvocationError, result.Invocation.Outcome)
	assert.Equal(t, models.ErrorKindUnknownTool, result.Invocation.ErrorKind)

	// Even failed invocations land on the incident record.
	require.Len(t, sink.all(), 1)
	assert.Equal(t, "nonexistent", sink.all()[0].Name)
}

func TestInvokeBadArgs(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	handlerRan := false
	tool := echoTool("http_probe", RiskRead)
	tool.Handler = func(context.Context, *ExecContext, map[string]any) (string, error) {
		handlerRan = true
		return "", nil
	}
	require.NoError(t, r.Register(tool))
	sink := &recordingSink{}

	result := r.Invoke(context.Background(), testExecContext(sink), "http_probe",
		map[string]any{"count": 3.0}) // missing required "target"

	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, `missing required argument "target"`)
	assert.Equal(t, models.ErrorKindBadArgs, result.Invocation.ErrorKind)
	assert.False(t, handlerRan)
}

func TestInvokeReadToolSucceeds(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	require.NoError(t, r.Register(echoTool("http_probe", RiskRead)))
	sink := &recordingSink{}

	result := r.Invoke(context.Background(), testExecContext(sink), "http_probe",
		map[string]any{"target": "https://grafana.local"})

	assert.False(t, result.IsError)
	assert.Equal(t, "ran against https://grafana.local", result.Content)
	assert.Equal(t, models.InvocationOK, result.Invocation.Outcome)
	assert.Empty(t, result.Invocation.ErrorKind)
	assert.False(t, result.Invocation.EndedAt.Before(result.Invocation.StartedAt))
}

func TestInvokeReadToolSkipsAuthorizer(t *testing.T) {
	auth := &stubAuthorizer{decision: models.DecisionRejected}
	r := NewRegistry(auth, nil, nil)
	require.NoError(t, r.Register(echoTool("http_probe", RiskRead)))

	result := r.Invoke(context.Background(), testExecContext(nil), "http_probe",
		map[string]any{"target": "https://grafana.local"})

	assert.False(t, result.IsError)
	assert.Equal(t, 0, auth.timesCalled())
}

func TestInvokeMutatingConsultsAuthorizer(t *testing.T) {
	auth := &stubAuthorizer{decision: models.DecisionAutoApproved}
	r := NewRegistry(auth, nil, nil)
	require.NoError(t, r.Register(echoTool("restart_container", RiskMutateCriticalCandidate)))
	sink := &recordingSink{}

	result := r.Invoke(context.Background(), testExecContext(sink), "restart_container",
		map[string]any{"target": "jellyfin"})

	assert.False(t, result.IsError)
	assert.Equal(t, models.InvocationOK, result.Invocation.Outcome)
	assert.Equal(t, 1, auth.timesCalled())
	assert.Equal(t, "appr-test-1", result.Invocation.ApprovalID)
}

func TestInvokeRejectedByHuman(t *testing.T) {
	auth := &stubAuthorizer{decision: models.DecisionRejected, decider: "U024BE7LH"}
	r := NewRegistry(auth, nil, nil)
	handlerRan := false
	tool := echoTool("restart_container", RiskMutateCriticalCandidate)
	tool.Handler = func(context.Context, *ExecContext, map[string]any) (string, error) {
		handlerRan = true
		return "", nil
	}
	require.NoError(t, r.Register(tool))
	sink := &recordingSink{}

	result := r.Invoke(context.Background(), testExecContext(sink), "restart_container",
		map[string]any{"target": "postgres-main"})

	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "rejected by U024BE7LH")
	assert.Equal(t, models.InvocationDenied, result.Invocation.Outcome)
	assert.Equal(t, models.ErrorKindDenied, result.Invocation.ErrorKind)
	assert.Equal(t, "appr-test-1", result.Invocation.ApprovalID)
	assert.False(t, handlerRan)
}

func TestInvokeAutoRejected(t *testing.T) {
	for _, decision := range []models.Decision{models.DecisionAutoRejected, models.DecisionErrored} {
		t.Run(string(decision), func(t *testing.T) {
			auth := &stubAuthorizer{decision: decision}
			r := NewRegistry(auth, nil, nil)
			require.NoError(t, r.Register(echoTool("restart_container", RiskMutateCriticalCandidate)))

			result := r.Invoke(context.Background(), testExecContext(nil), "restart_container",
				map[string]any{"target": "postgres-main"})

			assert.True(t, result.IsError)
			assert.Equal(t, models.InvocationDenied, result.Invocation.Outcome)
			assert.Equal(t, models.ErrorKindAutoRejected, result.Invocation.ErrorKind)
		})
	}
}

func TestInvokeAuthorizeInterrupted(t *testing.T) {
	t.Run("wait error counts as auto rejection", func(t *testing.T) {
		auth := &stubAuthorizer{decision: models.DecisionPending, err: errors.New("approval channel closed")}
		r := NewRegistry(auth, nil, nil)
		require.NoError(t, r.Register(echoTool("restart_container", RiskMutateCriticalCandidate)))

		result := r.Invoke(context.Background(), testExecContext(nil), "restart_container",
			map[string]any{"target": "postgres-main"})

		assert.True(t, result.IsError)
		assert.Contains(t, result.Content, "approval interrupted")
		assert.Equal(t, models.ErrorKindAutoRejected, result.Invocation.ErrorKind)
	})

	t.Run("cancelled context is not an auto rejection", func(t *testing.T) {
		auth := &stubAuthorizer{decision: models.DecisionPending, err: context.Canceled}
		r := NewRegistry(auth, nil, nil)
		require.NoError(t, r.Register(echoTool("restart_container", RiskMutateCriticalCandidate)))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result := r.Invoke(ctx, testExecContext(nil), "restart_container",
			map[string]any{"target": "postgres-main"})

		assert.True(t, result.IsError)
		assert.Equal(t, models.ErrorKindCancelled, result.Invocation.ErrorKind)
	})
}

func TestInvokeDryRun(t *testing.T) {
	t.Run("mutating tool is not executed", func(t *testing.T) {
		auth := &stubAuthorizer{decision: models.DecisionAutoApproved}
		r := NewRegistry(auth, nil, nil)
		handlerRan := false
		tool := echoTool("restart_container", RiskMutateNonCritical)
		tool.Handler = func(context.Context, *ExecContext, map[string]any) (string, error) {
			handlerRan = true
			return "", nil
		}
		require.NoError(t, r.Register(tool))

		ec := testExecContext(&recordingSink{})
		ec.DryRun = true
		result := r.Invoke(context.Background(), ec, "restart_container",
			map[string]any{"target": "jellyfin"})

		assert.False(t, result.IsError)
		assert.Contains(t, result.Content, "[dry run]")
		assert.Equal(t, models.InvocationDryRun, result.Invocation.Outcome)
		assert.False(t, handlerRan)
	})

	t.Run("read tool still executes", func(t *testing.T) {
		r := NewRegistry(nil, nil, nil)
		require.NoError(t, r.Register(echoTool("http_probe", RiskRead)))

		ec := testExecContext(nil)
		ec.DryRun = true
		result := r.Invoke(context.Background(), ec, "http_probe",
			map[string]any{"target": "https://grafana.local"})

		assert.False(t, result.IsError)
		assert.Equal(t, models.InvocationOK, result.Invocation.Outcome)
	})
}

func TestInvokeHandlerError(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	tool := echoTool("http_probe", RiskRead)
	tool.Handler = func(context.Context, *ExecContext, map[string]any) (string, error) {
		return "", errors.New("connection refused")
	}
	require.NoError(t, r.Register(tool))

	result := r.Invoke(context.Background(), testExecContext(nil), "http_probe",
		map[string]any{"target": "https://down.local"})

	assert.True(t, result.IsError)
	assert.Equal(t, "connection refused", result.Content)
	assert.Equal(t, models.InvocationError, result.Invocation.Outcome)
	assert.Equal(t, models.ErrorKindToolExecError, result.Invocation.ErrorKind)
}

func TestInvokeHandlerTimeout(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	tool := echoTool("http_probe", RiskRead)
	tool.Handler = func(ctx context.Context, _ *ExecContext, _ map[string]any) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "too late", nil
		}
	}
	require.NoError(t, r.Register(tool))

	ec := testExecContext(nil)
	ec.ToolTimeout = 20 * time.Millisecond
	result := r.Invoke(context.Background(), ec, "http_probe",
		map[string]any{"target": "https://slow.local"})

	// A per-call timeout is a tool failure, not a cancellation: the
	// incident is still running and the agent may pick another tool.
	assert.True(t, result.IsError)
	assert.Equal(t, models.ErrorKindToolExecError, result.Invocation.ErrorKind)
}

func TestInvokeCancelledIncident(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	tool := echoTool("http_probe", RiskRead)
	tool.Handler = func(ctx context.Context, _ *ExecContext, _ map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	require.NoError(t, r.Register(tool))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := r.Invoke(ctx, testExecContext(nil), "http_probe",
		map[string]any{"target": "https://grafana.local"})

	assert.True(t, result.IsError)
	assert.Equal(t, models.ErrorKindCancelled, result.Invocation.ErrorKind)
}

func TestInvokeMasksRecordedArgs(t *testing.T) {
	masker := masking.NewService(&config.MaskingConfig{
		SecretKeys: []string{"password", "token"},
	})
	r := NewRegistry(nil, masker, nil)

	var handlerArgs map[string]any
	tool := echoTool("webhook_trigger", RiskRead)
	tool.Params = []Param{
		{Name: "target", Type: TypeString, Required: true},
		{Name: "password", Type: TypeString},
	}
	tool.Handler = func(_ context.Context, _ *ExecContext, args map[string]any) (string, error) {
		handlerArgs = args
		return "triggered", nil
	}
	require.NoError(t, r.Register(tool))
	sink := &recordingSink{}

	args := map[string]any{"target": "db1", "password": "hunter2"}
	result := r.Invoke(context.Background(), testExecContext(sink), "webhook_trigger", args)

	require.False(t, result.IsError)
	// The handler sees the real value; the record does not.
	assert.Equal(t, "hunter2", handlerArgs["password"])
	assert.Equal(t, masking.MaskedValue, result.Invocation.Args["password"])
	assert.Equal(t, "db1", result.Invocation.Args["target"])
	assert.Equal(t, masking.MaskedValue, sink.all()[0].Args["password"])
	// The caller's map is untouched.
	assert.Equal(t, "hunter2", args["password"])
}

func TestInvokeMasksResultContent(t *testing.T) {
	masker := masking.NewService(&config.MaskingConfig{
		SecretKeys:    []string{"password"},
		PatternGroups: []string{"secrets"},
	})
	r := NewRegistry(nil, masker, nil)
	tool := echoTool("http_probe", RiskRead)
	tool.Handler = func(context.Context, *ExecContext, map[string]any) (string, error) {
		return `{"status": "up", "db_password": "sup3rs3cr3t"}`, nil
	}
	require.NoError(t, r.Register(tool))

	result := r.Invoke(context.Background(), testExecContext(nil), "http_probe",
		map[string]any{"target": "https://db.local"})

	assert.NotContains(t, result.Content, "sup3rs3cr3t")
	assert.Contains(t, result.Content, masking.MaskedValue)
}

func TestInvokeClipsOversizedResult(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	tool := echoTool("http_probe", RiskRead)
	tool.Handler = func(context.Context, *ExecContext, map[string]any) (string, error) {
		return strings.Repeat("log line from a chatty container\n", 2000), nil
	}
	require.NoError(t, r.Register(tool))

	result := r.Invoke(context.Background(), testExecContext(nil), "http_probe",
		map[string]any{"target": "https://chatty.local"})

	assert.False(t, result.IsError)
	assert.Contains(t, result.Content, "[TRUNCATED:")
	assert.LessOrEqual(t, len(result.Content), DefaultMaxResultTokens*charsPerToken+200)
}

func TestInvokeRecordsMetrics(t *testing.T) {
	m := metrics.NewMetrics()
	r := NewRegistry(nil, nil, m)
	require.NoError(t, r.Register(echoTool("http_probe", RiskRead)))

	r.Invoke(context.Background(), testExecContext(nil), "http_probe",
		map[string]any{"target": "https://grafana.local"})
	r.Invoke(context.Background(), testExecContext(nil), "nonexistent", nil)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.ToolInvocationsTotal.WithLabelValues("http_probe", "ok")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.ToolInvocationsTotal.WithLabelValues("nonexistent", "error")))
}

func TestSchemaRendersParams(t *testing.T) {
	tool := echoTool("http_probe", RiskRead)
	schema := tool.Schema()

	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "target")
	assert.Contains(t, props, "count")
	assert.Equal(t, []string{"target"}, schema["required"])

	t.Run("no required key when nothing is required", func(t *testing.T) {
		optional := &Tool{Name: "x", Params: []Param{{Name: "a", Type: TypeString}}}
		_, hasRequired := optional.Schema()["required"]
		assert.False(t, hasRequired)
	})
}
