package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/davidkvd/nomnom-studio/internal/infra"
	"github.com/davidkvd/nomnom-studio/internal/sqlinline"
)

const (
	ProviderEnhance = "enhance"
)

// Store reads and writes provider tokens kept in integration_tokens.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

func (s *Store) EnhanceAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderEnhance)
}

// Token returns the stored token, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	if s == nil || s.sql == nil {
		return "", nil
	}
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetEnhanceAPIKey(ctx context.Context, key string, props map[string]any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("enhance api key is required")
	}
	return s.upsert(ctx, ProviderEnhance, key, props)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}
