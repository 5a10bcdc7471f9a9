package cache

import (
	"context"

	"github.com/integration-core/core/internal/domain/cmd"
	"github.com/integration-core/core/internal/domain/cms"
	"github.com/integration-core/core/internal/domain/connection"
)

// ConnectionCache caches Connection by connection_key (§4.2).
type ConnectionCache struct {
	*LRU[string, connection.Connection]
	oauthLoader func(ctx context.Context, key string) (connection.OAuthProjection, error)
}

// NewConnectionCache builds a ConnectionCache with the given TTL/size and
// store loader.
func NewConnectionCache(cfg Config, loader Loader[string, connection.Connection], oauthLoader func(ctx context.Context, key string) (connection.OAuthProjection, error)) *ConnectionCache {
	return &ConnectionCache{LRU: New(cfg, loader), oauthLoader: oauthLoader}
}

// ReloadOAuthProjection bypasses the cache to fetch only the
// {oauth, secrets_service_id} projection for an OAuth-enabled connection,
// then patches the cached entry in place (§4.2 Connection cache note).
func (c *ConnectionCache) ReloadOAuthProjection(ctx context.Context, key string) (connection.OAuthProjection, error) {
	proj, err := c.oauthLoader(ctx, key)
	if err != nil {
		return connection.OAuthProjection{}, err
	}

	if cached, ok := c.peek(key); ok {
		cached.OAuth = proj.OAuth
		cached.SecretsServiceID = proj.SecretsServiceID
		c.Set(key, cached)
	}

	return proj, nil
}

// CMDKey identifies a Destination (§4.2): either a passthrough
// (platform, method, path) lookup or a unified (platform, model, action)
// lookup, depending on which fields are populated.
type CMDKey struct {
	Platform string
	Method   string
	Path     string
	Model    string
	Action   string
}

// CMDCache caches CMD by Destination key.
type CMDCache struct {
	*LRU[CMDKey, cmd.CMD]
}

// NewCMDCache builds a CMDCache.
func NewCMDCache(cfg Config, loader Loader[CMDKey, cmd.CMD]) *CMDCache {
	return &CMDCache{LRU: New(cfg, loader)}
}

// CMSKey identifies a CMS by (platform, common_model_name).
type CMSKey struct {
	Platform        string
	CommonModelName string
}

// CMSCache caches CMS by (platform, common_model_name).
type CMSCache struct {
	*LRU[CMSKey, cms.CMS]
}

// NewCMSCache builds a CMSCache.
func NewCMSCache(cfg Config, loader Loader[CMSKey, cms.CMS]) *CMSCache {
	return &CMSCache{LRU: New(cfg, loader)}
}

// SecretCache caches a connection's decrypted secret JSON, keyed by
// connection_key.
type SecretCache struct {
	*LRU[string, map[string]interface{}]
}

// NewSecretCache builds a SecretCache.
func NewSecretCache(cfg Config, loader Loader[string, map[string]interface{}]) *SecretCache {
	return &SecretCache{LRU: New(cfg, loader)}
}
