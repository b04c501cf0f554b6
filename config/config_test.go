package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, k := range []string{"DATABASE_URL", "DB_HOST", "DB_USER", "STORE_DRIVER", "APP_ENV", "MONGO_URL"} {
		t.Setenv(k, "")
	}
}

func TestLoad_DefaultsToMemoryInDevelopment(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Database.Driver)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "/api/gamificacao", cfg.HTTP.BasePath)
	assert.Equal(t, []int{10, 100}, cfg.Gamification.WarmLimits)
	assert.Equal(t, "15 3 * * *", cfg.Scheduler.ReconcileCron)
}

func TestLoad_BuildsDatabaseURLFromParts(t *testing.T) {
	isolate(t)
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "galpao")
	t.Setenv("DB_PASSWORD", "pw")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://galpao:pw@db:5432/galpao?sslmode=disable", cfg.Database.URL)
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	isolate(t)
	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("HTTP_PORT=9191\nHTTP_ADMIN_KEYS=a, b ,\n"), 0o600))
	t.Setenv("ENV_FILE", file)
	t.Cleanup(func() {
		os.Unsetenv("HTTP_PORT")
		os.Unsetenv("HTTP_ADMIN_KEYS")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.HTTP.Port)
	assert.Equal(t, []string{"a", "b"}, cfg.HTTP.AdminKeys)
}

func TestValidate_Production(t *testing.T) {
	isolate(t)
	t.Setenv("APP_ENV", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER=memory is not allowed in production")
	assert.Contains(t, err.Error(), "MONGO_URL is required in production")
}

func TestValidate_Ranges(t *testing.T) {
	isolate(t)
	t.Setenv("HTTP_PORT", "70000")
	t.Setenv("GAMIFICATION_HISTORY_SIZE", "0")
	t.Setenv("STORE_DRIVER", "sqlite")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_PORT")
	assert.Contains(t, err.Error(), "GAMIFICATION_HISTORY_SIZE")
	assert.Contains(t, err.Error(), "STORE_DRIVER must be")
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_BOOL", "nope")
	t.Setenv("X_INT", "12")
	t.Setenv("X_DUR", "90s")
	t.Setenv("X_INTS", "5, x, 20")
	t.Setenv("X_BADINTS", "x,y")

	assert.True(t, getEnvBool("X_BOOL", true))
	assert.Equal(t, 12, getEnvInt("X_INT", 0))
	assert.Equal(t, 90*time.Second, getEnvDuration("X_DUR", 0))
	assert.Equal(t, []int{5, 20}, getEnvIntSlice("X_INTS", nil))
	assert.Equal(t, []int{1}, getEnvIntSlice("X_BADINTS", []int{1}))
}

func TestFeatureFlags(t *testing.T) {
	t.Setenv("FEATURE_ACHIEVEMENTS_SECRET_CODES", "false")
	t.Setenv("FEATURE_EVENTS_REDIS_RELAY", "100")
	ff := LoadFeatureFlags()

	assert.False(t, ff.IsEnabled(FeatureSecretCodeRedemption, nil))
	assert.True(t, ff.IsEnabled(FeatureEventRelay, nil))
	assert.True(t, ff.IsEnabled(FeatureSecretCodeRedemption, &FeatureContext{IsAdmin: true}))
	assert.False(t, ff.IsEnabled("does.not.exist", nil))

	toggle := ff.Toggle(FeatureSecretCodeRedemption)
	require.NoError(t, ff.EnableFeature(FeatureSecretCodeRedemption))
	assert.True(t, toggle())

	ff.SetMemberOverride("ana", FeatureSecretCodeRedemption, false)
	assert.False(t, ff.IsEnabled(FeatureSecretCodeRedemption, &FeatureContext{MemberID: "ana"}))
	ff.ClearMemberOverrides("ana")
	assert.True(t, ff.IsEnabled(FeatureSecretCodeRedemption, &FeatureContext{MemberID: "ana"}))

	assert.ErrorIs(t, ff.SetRolloutPercent("nope", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureLeaderboardCache, 101), ErrInvalidRolloutPercent)
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureLeaderboardCache, 50))

	ctx := &FeatureContext{MemberID: "member-42"}
	first := ff.IsEnabled(FeatureLeaderboardCache, ctx)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureLeaderboardCache, ctx))
	}

	in := 0
	for i := 0; i < 1000; i++ {
		if isInRollout(string(rune('a'+i%26))+string(rune('0'+i/26)), FeatureLeaderboardCache, 50) {
			in++
		}
	}
	assert.InDelta(t, 500, in, 150)
}
