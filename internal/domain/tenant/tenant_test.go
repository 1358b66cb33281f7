package tenant

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duerelay/duerelay/internal/domain/connection"
	"github.com/duerelay/duerelay/internal/domain/notification"
)

func validConfig() Config {
	return Config{
		LedgerLocator:       "https://docs.google.com/spreadsheets/d/abc/edit",
		PaymentInstructions: "pix@example.com",
		Rules:               DefaultRules(),
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing locator", mutate: func(c *Config) { c.LedgerLocator = "  " }, wantErr: true},
		{name: "missing instructions", mutate: func(c *Config) { c.PaymentInstructions = "" }, wantErr: true},
		{name: "no rule enabled", mutate: func(c *Config) { c.Rules = notification.Rules{} }, wantErr: true},
		{name: "reminder without offsets", mutate: func(c *Config) { c.Rules.ReminderOffsets = nil }, wantErr: true},
		{name: "non-positive offset", mutate: func(c *Config) { c.Rules.ReminderOffsets = []int{3, 0} }, wantErr: true},
		{name: "offsets ignored when reminders off", mutate: func(c *Config) {
			c.Rules.ReminderEnabled = false
			c.Rules.ReminderOffsets = nil
		}},
		{name: "valid filter", mutate: func(c *Config) { c.Rules.Filter = `Plano == "Mensal"` }},
		{name: "broken filter", mutate: func(c *Config) { c.Rules.Filter = `Plano ==` }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfigInvalid)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_Policy(t *testing.T) {
	cfg := validConfig()
	cfg.Templates.Late = "late {name}"

	p := cfg.Policy()
	assert.Equal(t, "pix@example.com", p.Instructions)
	assert.Equal(t, cfg.Rules, p.Rules)
	assert.Equal(t, "late {name}", p.Templates.Late)
}

func TestConfig_JSONNames(t *testing.T) {
	var cfg Config
	err := json.Unmarshal([]byte(`{"sheetUrl":"https://x","chavePix":"pix","rules":{"lateEnabled":true}}`), &cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://x", cfg.LedgerLocator)
	assert.Equal(t, "pix", cfg.PaymentInstructions)
	assert.True(t, cfg.Rules.LateEnabled)
}

func TestIssueToken(t *testing.T) {
	token, hash, err := IssueToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NotEqual(t, token, hash)

	assert.True(t, VerifyToken(hash, token))
	assert.False(t, VerifyToken(hash, token+"x"))
	assert.False(t, VerifyToken("", token))
	assert.False(t, VerifyToken(hash, ""))

	other, _, err := IssueToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestTenant_Status(t *testing.T) {
	pairing := &Tenant{ID: "acme", Connection: connection.StatePairing, Challenge: "qr"}
	v := pairing.Status()
	assert.False(t, v.Connected)
	require.NotNil(t, v.QRCode)
	assert.Equal(t, "qr", *v.QRCode)
	assert.Nil(t, v.ConnectedNumber)
	assert.False(t, v.HasConfig)

	cfg := validConfig()
	connected := &Tenant{ID: "acme", Connection: connection.StateConnected, Address: "5511987654321", Config: &cfg}
	v = connected.Status()
	assert.True(t, v.Connected)
	assert.Nil(t, v.QRCode)
	require.NotNil(t, v.ConnectedNumber)
	assert.Equal(t, "5511987654321", *v.ConnectedNumber)
	assert.True(t, v.HasConfig)

	raw, err := json.Marshal(pairing.Status())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"connectedNumber":null`)
}
