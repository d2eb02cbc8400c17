package provision_test

import (
	"context"
	"os"
	"testing"

	"github.com/brightcampus/schoolcore/internal/provision"
	"github.com/brightcampus/schoolcore/pkg/database"
	"github.com/brightcampus/schoolcore/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	ctx := context.Background()
	var err error
	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		panic("failed to create integration suite: " + err.Error())
	}
	defer suite.Cleanup(ctx)
	os.Exit(m.Run())
}

// S7: Provisioning idempotence. Calling provision() twice yields the same
// table_count and zero new table creations on the second call.
func TestProvision_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := provision.New(suite.DB, suite.Logger)

	first := p.Provision(ctx, "demo_idempotent")
	require.True(t, first.Success, first.Error)
	assert.GreaterOrEqual(t, first.TableCount, 1)

	second := p.Provision(ctx, "demo_idempotent")
	require.True(t, second.Success, second.Error)
	assert.Equal(t, first.TableCount, second.TableCount)
	assert.Equal(t, 0, second.TablesCreated, "re-running provision must create zero new tables")
}

func TestProvision_RejectsInvalidSchemaName(t *testing.T) {
	ctx := context.Background()
	p := provision.New(suite.DB, suite.Logger)

	res := p.Provision(ctx, "Not-A-Valid-Schema; DROP TABLE users;--")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestVerify_ReportsCriticalSetAndReadiness(t *testing.T) {
	ctx := context.Background()
	p := provision.New(suite.DB, suite.Logger)

	res := p.Provision(ctx, "demo_verify")
	require.True(t, res.Success, res.Error)

	v := p.Verify(ctx, "demo_verify")
	assert.True(t, v.CriticalSetComplete)
	assert.GreaterOrEqual(t, v.TableCount, 50)
	// No admin user has been created yet, so the tenant is not ready for
	// live even though the schema itself is structurally complete.
	assert.Equal(t, 0, v.AdminCount)
	assert.False(t, v.ReadyForLive)
}

func TestValidSchemaName(t *testing.T) {
	cases := map[string]bool{
		"acme":              true,
		"acme_school_1":     true,
		"_leading_ok":       true,
		"":                  false,
		"Acme":              false,
		"acme-school":       false,
		"acme; drop table":  false,
		"1acme":             false,
	}
	for name, want := range cases {
		assert.Equal(t, want, database.ValidSchemaName(name), "schema %q", name)
	}
}
