package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"
)

// itemReader is the subset of connect.Client used here.
type itemReader interface {
	GetItemsByTitle(title string, vaultQuery string) ([]onepassword.Item, error)
	GetItem(itemQuery string, vaultQuery string) (*onepassword.Item, error)
}

// OnePasswordSource reads the token from an item field in 1Password.
//
// Configuration is via environment variables:
//   - OP_CONNECT_HOST: URL of the 1Password Connect server
//   - OP_CONNECT_TOKEN: Access token for the Connect server
//   - OP_VAULT_ID: UUID of the vault holding the item
type OnePasswordSource struct {
	client  itemReader
	vaultID string
	item    string
	field   string
	logger  *slog.Logger

	// Cache to avoid repeated API calls
	mu     sync.RWMutex
	cached string
}

// NewOnePasswordSource creates a 1Password Connect token source.
func NewOnePasswordSource(cfg Config, logger *slog.Logger) (*OnePasswordSource, error) {
	if cfg.OnePasswordHost == "" || cfg.OnePasswordToken == "" || cfg.OnePasswordVault == "" {
		return nil, fmt.Errorf("1Password configuration incomplete: host, token, and vault are required")
	}
	client := connect.NewClientWithUserAgent(cfg.OnePasswordHost, cfg.OnePasswordToken, "selfheal-control-plane")
	return newOnePasswordSource(client, cfg, logger), nil
}

func newOnePasswordSource(client itemReader, cfg Config, logger *slog.Logger) *OnePasswordSource {
	item := cfg.OnePasswordItem
	if item == "" {
		item = DefaultOnePasswordItem
	}
	field := cfg.OnePasswordField
	if field == "" {
		field = DefaultOnePasswordField
	}
	return &OnePasswordSource{
		client:  client,
		vaultID: cfg.OnePasswordVault,
		item:    item,
		field:   field,
		logger:  logger,
	}
}

// Token implements TokenSource. The first successful lookup is cached;
// call Invalidate after a rotation.
func (s *OnePasswordSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	items, err := s.client.GetItemsByTitle(s.item, s.vaultID)
	if err != nil {
		if isNotFoundError(err) {
			return "", fmt.Errorf("item %q: %w", s.item, ErrNotFound)
		}
		return "", fmt.Errorf("listing items: %w", err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("item %q: %w", s.item, ErrNotFound)
	}

	item, err := s.client.GetItem(items[0].ID, s.vaultID)
	if err != nil {
		return "", fmt.Errorf("getting item: %w", err)
	}

	value := fieldValue(item, s.field)
	if value == "" {
		return "", fmt.Errorf("field %q of item %q: %w", s.field, s.item, ErrNotFound)
	}

	s.mu.Lock()
	s.cached = value
	s.mu.Unlock()

	s.logger.Info("loaded oracle token from 1Password", "item", s.item)
	return value, nil
}

// Invalidate drops the cached token.
func (s *OnePasswordSource) Invalidate() {
	s.mu.Lock()
	s.cached = ""
	s.mu.Unlock()
}

// fieldValue matches a field by ID first, then by label.
func fieldValue(item *onepassword.Item, name string) string {
	for _, f := range item.Fields {
		if f.ID == name {
			return f.Value
		}
	}
	for _, f := range item.Fields {
		if strings.EqualFold(f.Label, name) {
			return f.Value
		}
	}
	return ""
}

// isNotFoundError checks if an error is a "not found" error from 1Password.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	// The SDK returns different error types, check the message
	msg := err.Error()
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404") || strings.Contains(msg, "no items")
}
