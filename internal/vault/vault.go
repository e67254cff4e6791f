// internal/vault/vault.go
//
// Minimal HashiCorp Vault KV-v2 reader.
//
// Context
// -------
// Configuration values may carry the `vault:` scheme instead of a literal
// secret — `vault:secret/data/qrelay#dsn` reads field `dsn` from the KV-v2
// path `secret/data/qrelay`.  The config loader resolves these once at
// startup; nothing else in the process talks to Vault.
//
// Environment expectations
// ------------------------
//   - VAULT_ADDR  – scheme and host of the Vault server.
//   - VAULT_TOKEN – token (falls back to ~/.vault-token via the SDK).
package vault

import (
	"context"
	"fmt"
	"os"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"
)

// Scheme prefixes config values that must be resolved through Vault.
const Scheme = "vault:"

// Client is a read-only façade over the Vault SDK.  Safe for concurrent use.
type Client struct {
	api *vaultapi.Client
}

// New constructs a client from the standard VAULT_* environment.
func New(ctx context.Context) (*Client, error) {
	cfg := vaultapi.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}

	api, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		api.SetToken(tok)
	}
	return &Client{api: api}, nil
}

// Resolve parses a `vault:<path>#<field>` URI and returns the secret value.
func (c *Client) Resolve(ctx context.Context, uri string) (string, error) {
	ref := strings.TrimPrefix(uri, Scheme)
	path, field, ok := strings.Cut(ref, "#")
	if !ok || path == "" || field == "" {
		return "", fmt.Errorf("vault: malformed reference %q, want vault:<path>#<field>", uri)
	}
	return c.readField(ctx, path, field)
}

// readField fetches one field from a KV-v2 secret, tolerating both the
// wrapped (`data.data`) and flat layouts.
func (c *Client) readField(ctx context.Context, path, field string) (string, error) {
	sec, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("vault read %s: %w", path, err)
	}
	if sec == nil || sec.Data == nil {
		return "", fmt.Errorf("vault: no secret at %s", path)
	}

	data := sec.Data
	if inner, ok := data["data"].(map[string]any); ok {
		data = inner
	}
	val, ok := data[field].(string)
	if !ok {
		return "", fmt.Errorf("vault: field %q missing at %s", field, path)
	}
	return val, nil
}
