package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/warden/pkg/config"
	"github.com/homelab-ops/warden/pkg/models"
	"github.com/homelab-ops/warden/pkg/tools"
)

type fakePoster struct {
	texts []string
	err   error
}

func (f *fakePoster) SendChatMessage(_ context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

type fakeSearcher struct {
	records  []models.ScoredRecord
	err      error
	gotQuery string
	gotK     int
}

func (f *fakeSearcher) SimilarText(_ context.Context, query string, k int) ([]models.ScoredRecord, error) {
	f.gotQuery = query
	f.gotK = k
	return f.records, f.err
}

func testExecContext() *tools.ExecContext {
	return &tools.ExecContext{
		IncidentID: "inc-test",
		Stage:      models.StageHealer,
		Severity:   "warning",
		Locks:      tools.NewKeyedMutex(),
	}
}

func TestRegisterAllCatalog(t *testing.T) {
	reg := tools.NewRegistry(nil, nil, nil)
	err := RegisterAll(reg, Deps{
		Chat:   &fakePoster{},
		Memory: &fakeSearcher{},
		Webhooks: []config.WebhookToolConfig{
			{Name: "restart-plex", URL: "http://hooks.local/plex", Method: "POST", Family: "containers"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"dns_lookup",
		"http_probe",
		"memory_similar",
		"send_chat_message",
		"tcp_check",
		"webhook_trigger",
	}, reg.Names())
}

func TestRegisterAllSkipsOptionalTools(t *testing.T) {
	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, RegisterAll(reg, Deps{Chat: &fakePoster{}}))

	names := reg.Names()
	assert.NotContains(t, names, "webhook_trigger")
	assert.NotContains(t, names, "memory_similar")
	assert.Contains(t, names, "http_probe")
	assert.Contains(t, names, "send_chat_message")
}

func TestRegisterAllRequiresChat(t *testing.T) {
	reg := tools.NewRegistry(nil, nil, nil)
	err := RegisterAll(reg, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat poster")
}
