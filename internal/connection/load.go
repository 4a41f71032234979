package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/narvanalabs/pve-monitor/internal/models"
	"github.com/narvanalabs/pve-monitor/pkg/config"
)

// TokenDecrypter turns a stored token value into plaintext. Plain values
// are expected to pass through unchanged.
type TokenDecrypter interface {
	DecryptToken(ctx context.Context, value string) (string, error)
}

// SettingsFromConfig converts one entry of the connections file.
func SettingsFromConfig(ctx context.Context, c config.ConnectionConfig, dec TokenDecrypter) (Settings, error) {
	token := c.TokenValue
	if dec != nil {
		plain, err := dec.DecryptToken(ctx, token)
		if err != nil {
			return Settings{}, fmt.Errorf("connection %s: decrypting token: %w", c.ID, err)
		}
		token = plain
	}

	opts := models.Options{
		ScanInterval: time.Duration(c.Options.ScanInterval) * time.Second,
		IPMode:       models.IPMode(c.Options.IPMode),
		IPPrefix:     c.Options.IPPrefix,
	}
	if err := opts.Validate(); err != nil {
		return Settings{}, fmt.Errorf("connection %s: %w", c.ID, err)
	}

	return Settings{
		ID:         c.ID,
		Name:       c.Name,
		Host:       c.Host,
		Port:       c.Port,
		VerifySSL:  c.VerifiesSSL(),
		TokenName:  c.TokenName,
		TokenValue: token,
		Options:    opts,
	}, nil
}

// LoadAll adds every connection of the file. A connection that fails to load
// is logged and skipped; the joined errors are returned along with the
// number of connections loaded.
func (r *Registry) LoadAll(ctx context.Context, file *config.ConnectionsFile, dec TokenDecrypter) (int, error) {
	var errs []error
	loaded := 0
	for _, c := range file.Connections {
		s, err := SettingsFromConfig(ctx, c, dec)
		if err == nil {
			_, err = r.Add(ctx, s)
		}
		if err != nil {
			r.logger.Error("failed to load connection", "connection_id", c.ID, "host", c.Host, "error", err)
			errs = append(errs, err)
			continue
		}
		loaded++
	}
	return loaded, errors.Join(errs...)
}
