package memory

import (
	"context"
	"sync"

	"github.com/integration-core/core/internal/domain/cms"
	"github.com/integration-core/core/internal/domain/cmd"
	"github.com/integration-core/core/internal/domain/connection"
	coreerrors "github.com/integration-core/core/internal/errors"
)

// Catalog holds the CMD/CMS/Connection/Secret definitions the dispatcher
// resolves against, keyed the same way the Postgres store's lookup queries
// are keyed. It implements dispatcher.CMDResolver and dispatcher.CMSResolver
// directly, and serves dispatcher.SecretResolver and
// dispatcher.ConnectionResolver through its Secrets and Connections views,
// for tests and local development without a database.
type Catalog struct {
	mu sync.RWMutex

	// unified is keyed "platform::commonModelName::actionName".
	unified map[string]cmd.CMD
	// passthrough is keyed "platform::method".
	passthrough map[string][]cmd.CMD
	// schemas is keyed "platform::commonModelName".
	schemas map[string]cms.CMS
	// secrets and connections are keyed by connection key.
	secrets     map[string]map[string]interface{}
	connections map[string]connection.Connection
}

func NewCatalog() *Catalog {
	return &Catalog{
		unified:     map[string]cmd.CMD{},
		passthrough: map[string][]cmd.CMD{},
		schemas:     map[string]cms.CMS{},
		secrets:     map[string]map[string]interface{}{},
		connections: map[string]connection.Connection{},
	}
}

// PutCMD registers a CMD under both its unified key (platform, common
// model, action) and its passthrough key (platform, HTTP method), mirroring
// how a single stored row serves both lookup paths in Postgres.
func (c *Catalog) PutCMD(platform, commonModelName string, d cmd.CMD) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unified[unifiedKey(platform, commonModelName, string(d.ActionName))] = d
	c.passthrough[passthroughKey(platform, d.Action)] = append(c.passthrough[passthroughKey(platform, d.Action)], d)
}

// PutCMS registers a CMS under its (platform, common model) key.
func (c *Catalog) PutCMS(platform string, s cms.CMS) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas[platform+"::"+s.CommonModelName] = s
}

// PutSecret registers the decrypted secret document for a connection key.
func (c *Catalog) PutSecret(connectionKey string, secret map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secrets[connectionKey] = secret
}

// PutConnection registers a connection under its own Key.
func (c *Catalog) PutConnection(conn connection.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connections[conn.Key] = conn
}

func (c *Catalog) Unified(_ context.Context, platform, commonModelName, actionName string) (cmd.CMD, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.unified[unifiedKey(platform, commonModelName, actionName)]
	if !ok {
		return cmd.CMD{}, coreerrors.NotFound("no CMD for " + platform + "/" + commonModelName + "/" + actionName)
	}
	return d, nil
}

func (c *Catalog) PassthroughCandidates(_ context.Context, platform, method string) ([]cmd.CMD, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]cmd.CMD(nil), c.passthrough[passthroughKey(platform, method)]...), nil
}

func (c *Catalog) Get(_ context.Context, platform, commonModelName string) (cms.CMS, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schemas[platform+"::"+commonModelName], nil
}

// Secrets returns a dispatcher.SecretResolver view onto the catalog. A
// separate type is needed because dispatcher.CMSResolver.Get and
// dispatcher.SecretResolver.Get share a method name but not a signature, so
// one type cannot implement both directly.
func (c *Catalog) Secrets() *CatalogSecrets { return &CatalogSecrets{c: c} }

// Connections returns a dispatcher.ConnectionResolver view onto the
// catalog, for the same reason as Secrets.
func (c *Catalog) Connections() *CatalogConnections { return &CatalogConnections{c: c} }

// CatalogSecrets implements dispatcher.SecretResolver.
type CatalogSecrets struct{ c *Catalog }

func (s *CatalogSecrets) Get(_ context.Context, connectionKey string) (map[string]interface{}, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	secret, ok := s.c.secrets[connectionKey]
	if !ok {
		return nil, coreerrors.NotFound("no secret for connection " + connectionKey)
	}
	return secret, nil
}

// CatalogConnections implements dispatcher.ConnectionResolver.
type CatalogConnections struct{ c *Catalog }

func (cc *CatalogConnections) Get(_ context.Context, connectionKey string) (connection.Connection, error) {
	cc.c.mu.RLock()
	defer cc.c.mu.RUnlock()
	conn, ok := cc.c.connections[connectionKey]
	if !ok {
		return connection.Connection{}, coreerrors.NotFound("no connection for key " + connectionKey)
	}
	return conn, nil
}

func unifiedKey(platform, commonModelName, actionName string) string {
	return platform + "::" + commonModelName + "::" + actionName
}

func passthroughKey(platform, method string) string {
	return platform + "::" + method
}
