package connection

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/narvanalabs/pve-monitor/internal/models"
	"github.com/narvanalabs/pve-monitor/internal/pve"
	"github.com/narvanalabs/pve-monitor/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prefixDecrypter struct{}

func (prefixDecrypter) DecryptToken(ctx context.Context, value string) (string, error) {
	if strings.HasPrefix(value, "enc:") {
		if value == "enc:bad" {
			return "", errors.New("decryption failed")
		}
		return strings.TrimPrefix(value, "enc:"), nil
	}
	return value, nil
}

func TestSettingsFromConfig(t *testing.T) {
	verify := false
	c := config.ConnectionConfig{
		ID:         "lab",
		Name:       "Lab",
		Host:       "pve-a",
		Port:       8007,
		VerifySSL:  &verify,
		TokenName:  "monitor@pve!ro",
		TokenValue: "enc:plain-secret",
		Options:    config.OptionsConfig{ScanInterval: 45, IPMode: "any", IPPrefix: "10."},
	}

	s, err := SettingsFromConfig(context.Background(), c, prefixDecrypter{})
	require.NoError(t, err)
	assert.Equal(t, "plain-secret", s.TokenValue)
	assert.False(t, s.VerifySSL)
	assert.Equal(t, 8007, s.Port)
	assert.Equal(t, models.Options{ScanInterval: 45 * time.Second, IPMode: models.IPModeAny, IPPrefix: "10."}, s.Options)

	c.TokenValue = "enc:bad"
	_, err = SettingsFromConfig(context.Background(), c, prefixDecrypter{})
	assert.ErrorContains(t, err, "decrypting token")

	c.TokenValue = "plain"
	c.Options.ScanInterval = 2
	_, err = SettingsFromConfig(context.Background(), c, nil)
	assert.ErrorContains(t, err, "scan_interval")
}

func TestLoadAllSkipsFailures(t *testing.T) {
	bad := clusterClient()
	bad.ConnErr = &pve.APIError{StatusCode: 401, Path: "/version", Message: "no"}
	r := newRegistry(t, map[string]pve.Client{"a": clusterClient(), "b": bad}, RegistryConfig{})

	file := &config.ConnectionsFile{Connections: []config.ConnectionConfig{
		{ID: "a", Name: "a", Host: "pve-a", Port: 8006, TokenName: "t@pve!a", TokenValue: "enc:x",
			Options: config.OptionsConfig{ScanInterval: 20, IPMode: "prefer_192168", IPPrefix: "192.168."}},
		{ID: "b", Name: "b", Host: "pve-b", Port: 8006, TokenName: "t@pve!b", TokenValue: "y",
			Options: config.OptionsConfig{ScanInterval: 20, IPMode: "prefer_192168", IPPrefix: "192.168."}},
	}}

	loaded, err := r.LoadAll(context.Background(), file, prefixDecrypter{})
	assert.Equal(t, 1, loaded)
	require.Error(t, err)
	assert.True(t, pve.IsUnauthorized(err))

	conn, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "x", conn.Settings().TokenValue)
}
