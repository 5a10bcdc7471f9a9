package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/integration-core/core/internal/domain/cms"
	"github.com/integration-core/core/internal/domain/cmd"
	"github.com/integration-core/core/internal/domain/connection"
)

func TestCatalog_UnifiedAndPassthroughLookup(t *testing.T) {
	c := NewCatalog()
	def := cmd.CMD{
		ConnectionPlatform: "stripe",
		ModelName:          "Customer",
		Action:             "GET",
		ActionName:         cmd.ActionGetOne,
		PlatformInfo:       cmd.APIPlatformInfo{BaseURL: "https://api.stripe.com", Path: "/customers/:id"},
	}
	c.PutCMD("stripe", "Customer", def)

	ctx := context.Background()
	got, err := c.Unified(ctx, "stripe", "Customer", "getOne")
	require.NoError(t, err)
	assert.Equal(t, def, got)

	candidates, err := c.PassthroughCandidates(ctx, "stripe", "GET")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, def, candidates[0])

	_, err = c.Unified(ctx, "stripe", "Customer", "getMany")
	assert.Error(t, err)
}

func TestCatalog_CMSSecretsConnections(t *testing.T) {
	c := NewCatalog()
	ctx := context.Background()

	c.PutCMS("stripe", cms.CMS{CommonModelName: "Customer", ToCommonModel: "return input;"})
	schema, err := c.Get(ctx, "stripe", "Customer")
	require.NoError(t, err)
	assert.Equal(t, "return input;", schema.ToCommonModel)

	c.PutSecret("test::stripe::default", map[string]interface{}{"apiKey": "sk_test"})
	secret, err := c.Secrets().Get(ctx, "test::stripe::default")
	require.NoError(t, err)
	assert.Equal(t, "sk_test", secret["apiKey"])

	_, err = c.Secrets().Get(ctx, "unknown")
	assert.Error(t, err)

	conn := connection.Connection{Platform: "stripe", Key: "test::stripe::default", Environment: connection.EnvironmentTest}
	c.PutConnection(conn)
	gotConn, err := c.Connections().Get(ctx, "test::stripe::default")
	require.NoError(t, err)
	assert.Equal(t, conn, gotConn)

	_, err = c.Connections().Get(ctx, "unknown")
	assert.Error(t, err)
}
