package seed

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pharmacy/m/domain"
	"pharmacy/m/internal/auth"
	"pharmacy/m/internal/testutil"
)

func TestLoadDrugs(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	csv := `name,description,price,stock_quantity,image_url,requires_prescription
Aspirin 75mg,Low dose,1.20,50,,false
Warfarin 1mg,,4.00,10,https://example.com/w.png,true
,missing name,1.00,1,,false
Bad Price,,free,1,,false
Short Row,,1.00
`
	n, err := LoadDrugs(ctx, db, strings.NewReader(csv), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(2), testutil.Count(t, db, "drugs"))

	var warfarin struct {
		Requires bool    `db:"requires_prescription"`
		Desc     *string `db:"description"`
		Image    *string `db:"image_url"`
	}
	require.NoError(t, db.Get(&warfarin, `SELECT requires_prescription, description, image_url FROM drugs WHERE name = 'Warfarin 1mg'`))
	assert.True(t, warfarin.Requires)
	assert.Nil(t, warfarin.Desc)
	require.NotNil(t, warfarin.Image)

	n, err = LoadDrugs(ctx, db, strings.NewReader(csv), zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, n, "second load inserts nothing")
}

func TestLoadDrugsFileShipsCatalog(t *testing.T) {
	_, file, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(file), "..", "..", "assets", "drugs.csv")

	db := testutil.NewDB(t)
	n, err := LoadDrugsFile(context.Background(), db, path, zap.NewNop())
	require.NoError(t, err)
	assert.Greater(t, n, 10)

	_, err = LoadDrugsFile(context.Background(), db, filepath.Join(t.TempDir(), "missing.csv"), zap.NewNop())
	assert.Error(t, err)
}

func TestAdmin(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	svc := auth.NewService(db, auth.NewTokens("seed-test-secret", time.Hour), zap.NewNop())

	require.NoError(t, Admin(ctx, svc, "Admin@Example.com", "s3cret!", "", zap.NewNop()))
	require.NoError(t, Admin(ctx, svc, "admin@example.com", "other-password", "Someone Else", zap.NewNop()))
	assert.Equal(t, int64(1), testutil.Count(t, db, "admins"))

	// The first password stays in force.
	sess, err := svc.AdminLogin(ctx, "admin@example.com", "s3cret!")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)

	err = Admin(ctx, svc, "admin@example.com", "123", "", zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrValidation)
}
