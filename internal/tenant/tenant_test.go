package tenant_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-engine/internal/tenant"
)

const tenantsYAML = `
tenants:
  acme:
    tax_id: B12345678
    active: true
    environment: production
    channel: FACeB2B
    certificate_password: env:ACME_CERT_PASSWORD
    email: facturas@acme.example
  sandbox:
    tax_id: 12345678Z
    active: false
    environment: stub
    certificate_password: plain-secret
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileProvider(t *testing.T) {
	ctx := context.Background()
	t.Setenv("ACME_CERT_PASSWORD", "from-env")

	p, err := tenant.NewFileProvider(writeFile(t, tenantsYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "sandbox"}, p.IDs())

	acme, err := p.Get(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, acme)
	assert.Equal(t, "acme", acme.TenantID)
	assert.Equal(t, "B12345678", acme.TaxID)
	assert.True(t, acme.Active)
	assert.Equal(t, tenant.EnvironmentProduction, acme.Environment)
	assert.Equal(t, tenant.ChannelFACeB2B, acme.Channel)
	assert.Equal(t, "from-env", acme.ResolvePassword())

	sandbox, err := p.Get(ctx, "sandbox")
	require.NoError(t, err)
	assert.Equal(t, tenant.EnvironmentStub, sandbox.Environment)
	assert.Equal(t, tenant.ChannelFACe, sandbox.Channel, "channel defaults to FACe")
	assert.Equal(t, "plain-secret", sandbox.ResolvePassword())

	missing, err := p.Get(ctx, "ghost")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFileProvider_Errors(t *testing.T) {
	_, err := tenant.NewFileProvider(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	_, err = tenant.NewFileProvider(writeFile(t, "tenants:\n  x:\n    environment: mars\n"))
	assert.ErrorContains(t, err, "unknown environment")
}

func TestFileProvider_ReloadKeepsPreviousOnFailure(t *testing.T) {
	path := writeFile(t, tenantsYAML)
	p, err := tenant.NewFileProvider(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("tenants:\n  x:\n    channel: pigeon\n"), 0o600))
	require.Error(t, p.Reload())
	assert.Equal(t, []string{"acme", "sandbox"}, p.IDs())
}

func TestStaticProvider(t *testing.T) {
	ctx := context.Background()
	p := tenant.NewStaticProvider(tenant.Config{TenantID: "acme", TaxID: "B12345678", Active: true})

	c, err := p.Get(ctx, "acme")
	require.NoError(t, err)
	c.TaxID = "mutated"

	again, _ := p.Get(ctx, "acme")
	assert.Equal(t, "B12345678", again.TaxID, "Get returns a copy")

	p.Put(tenant.Config{TenantID: "beta"})
	beta, err := p.Get(ctx, "beta")
	require.NoError(t, err)
	assert.NotNil(t, beta)

	none, err := p.Get(ctx, "ghost")
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestParse(t *testing.T) {
	env, err := tenant.ParseEnvironment(" PROD ")
	require.NoError(t, err)
	assert.Equal(t, tenant.EnvironmentProduction, env)

	env, err = tenant.ParseEnvironment("")
	require.NoError(t, err)
	assert.Equal(t, tenant.EnvironmentStaging, env)

	ch, err := tenant.ParseChannel("b2b")
	require.NoError(t, err)
	assert.Equal(t, tenant.ChannelFACeB2B, ch)

	_, err = tenant.ParseChannel("fax")
	assert.Error(t, err)
}

func TestResolvePassword_UnsetVariable(t *testing.T) {
	c := tenant.Config{CertificatePassword: "env:EINVOICE_TEST_UNSET_VARIABLE"}
	assert.Empty(t, c.ResolvePassword())
}
