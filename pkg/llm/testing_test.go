package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedClientReplaysInOrder(t *testing.T) {
	client := NewScriptedClient(
		ToolTurn(Call("call_1", "http_probe", `{"url":"https://x"}`)),
		TextTurn("all clear"),
	)

	first, err := client.Run(context.Background(), "sys", nil, nil, Options{})
	require.NoError(t, err)
	require.Len(t, first.ToolCalls, 1)
	assert.Equal(t, "http_probe", first.ToolCalls[0].Name)

	second, err := client.Run(context.Background(), "sys", nil, nil, Options{})
	require.NoError(t, err)
	assert.True(t, second.Terminal())
	assert.Equal(t, "all clear", second.Content)
	assert.Equal(t, 0, client.Remaining())
}

func TestScriptedClientExhaustion(t *testing.T) {
	client := NewScriptedClient(TextTurn("only one"))

	_, err := client.Run(context.Background(), "", nil, nil, Options{})
	require.NoError(t, err)

	_, err = client.Run(context.Background(), "", nil, nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted")
}

func TestScriptedClientReturnsScriptedError(t *testing.T) {
	boom := errors.New("model fell over")
	client := NewScriptedClient(ErrTurn(boom))

	_, err := client.Run(context.Background(), "", nil, nil, Options{})
	assert.ErrorIs(t, err, boom)
}

func TestScriptedClientRecordsCalls(t *testing.T) {
	client := NewScriptedClient(TextTurn("done"))

	_, err := client.Run(context.Background(), "you are a healer",
		[]Message{{Role: RoleUser, Content: "fix it"}},
		[]ToolDefinition{{Name: "restart_container"}},
		Options{})
	require.NoError(t, err)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "you are a healer", calls[0].System)
	assert.Equal(t, "fix it", calls[0].Messages[0].Content)
	assert.Equal(t, "restart_container", calls[0].Tools[0].Name)
}

func TestScriptedClientFeedsCostSink(t *testing.T) {
	client := NewScriptedClient(TextTurn("done"))
	sink := &recordingCostSink{}

	_, err := client.Run(context.Background(), "", nil, nil, Options{Cost: sink})
	require.NoError(t, err)
	assert.Equal(t, 160, sink.usage.TotalTokens)
	assert.Greater(t, sink.usd, 0.0)
}
