package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dockmon.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		path := writeConfig(t, `
daemons:
  - name: local
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		require.Len(t, cfg.Daemons, 1)

		dc := cfg.Daemons[0]
		assert.Equal(t, DefaultScanInterval, dc.ScanInterval)
		assert.Equal(t, DefaultRetryInterval, dc.RetryInterval)
		assert.Equal(t, DefaultCallTimeout, dc.CallTimeout)
		assert.Equal(t, DefaultGraceCycles, dc.GraceCycles)
		assert.Equal(t, float64(DefaultMemoryChange), dc.MemoryChange)
		assert.Equal(t, DefaultPrecision(), dc.Precision)
		assert.True(t, dc.Switch.Enabled("anything"))
		assert.True(t, dc.Button.Enabled("anything"))
		assert.NotEmpty(t, dc.Conditions)
	})

	t.Run("explicit values", func(t *testing.T) {
		path := writeConfig(t, `
listen: ":9000"
daemons:
  - name: remote
    url: tcp://10.0.0.5:2375
    scan_interval: 30s
    retry_interval: 2m
    monitored_conditions: [state, cpu_percentage_usage]
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.Listen)

		dc := cfg.Daemons[0]
		assert.Equal(t, 30*time.Second, dc.ScanInterval)
		assert.Equal(t, 2*time.Minute, dc.RetryInterval)
		assert.True(t, dc.Conditions.Has(CondState))
		assert.True(t, dc.Conditions.Has(CondCPU))
		assert.False(t, dc.Conditions.Has(CondMemory))
	})

	t.Run("no daemons", func(t *testing.T) {
		path := writeConfig(t, `listen: ":9000"`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "no daemons")
	})

	t.Run("duplicate daemon name", func(t *testing.T) {
		path := writeConfig(t, `
daemons:
  - name: local
  - name: local
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "duplicate daemon name")
	})

	t.Run("bad url scheme", func(t *testing.T) {
		path := writeConfig(t, `
daemons:
  - name: local
    url: ftp://example:21
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "must start with")
	})

	t.Run("unknown condition", func(t *testing.T) {
		path := writeConfig(t, `
daemons:
  - name: local
    monitored_conditions: [bogus]
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "unknown monitored condition")
	})
}

func TestCertPath(t *testing.T) {
	t.Run("missing key is a config error", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cert.pem"), []byte("x"), 0o600))

		dc := DaemonConfig{Name: "tls", URL: "https://example:2376", CertPath: dir}
		err := dc.Validate()
		assert.ErrorContains(t, err, "key.pem")
	})

	t.Run("cert and key present", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cert.pem"), []byte("x"), 0o600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "key.pem"), []byte("x"), 0o600))

		dc := DaemonConfig{Name: "tls", URL: "https://example:2376", CertPath: dir}
		require.NoError(t, dc.Validate())

		cert, key, ca := dc.CertFiles()
		assert.Equal(t, filepath.Join(dir, "cert.pem"), cert)
		assert.Equal(t, filepath.Join(dir, "key.pem"), key)
		assert.Empty(t, ca)
	})

	t.Run("optional ca detected", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"cert.pem", "key.pem", "ca.pem"} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
		}
		dc := DaemonConfig{Name: "tls", URL: "https://example:2376", CertPath: dir}
		_, _, ca := dc.CertFiles()
		assert.Equal(t, filepath.Join(dir, "ca.pem"), ca)
	})

	t.Run("url rewritten to https", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"cert.pem", "key.pem"} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
		}
		dc := DaemonConfig{Name: "tls", URL: "tcp://example:2376", CertPath: dir}
		dc.Normalize()
		assert.Equal(t, "https://example:2376", dc.URL)
	})
}

func TestIncluded(t *testing.T) {
	t.Run("include list takes precedence", func(t *testing.T) {
		dc := DaemonConfig{
			Name:              "local",
			Containers:        []string{"web", "db"},
			ContainersExclude: []string{"web"},
		}
		dc.Normalize()
		assert.True(t, dc.Included("web"))
		assert.True(t, dc.Included("db"))
		assert.False(t, dc.Included("cache"))
		assert.Empty(t, dc.ContainersExclude)
	})

	t.Run("exclude only", func(t *testing.T) {
		dc := DaemonConfig{Name: "local", ContainersExclude: []string{"noisy"}}
		dc.Normalize()
		assert.False(t, dc.Included("noisy"))
		assert.True(t, dc.Included("web"))
	})
}

func TestDisplayName(t *testing.T) {
	dc := DaemonConfig{Name: "local", Rename: map[string]string{"web": "Frontend"}}
	assert.Equal(t, "Frontend", dc.DisplayName("web"))
	assert.Equal(t, "db", dc.DisplayName("db"))
}

func TestEnableListYAML(t *testing.T) {
	t.Run("bool form", func(t *testing.T) {
		path := writeConfig(t, `
daemons:
  - name: local
    switch: false
    button: true
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.False(t, cfg.Daemons[0].Switch.Enabled("web"))
		assert.True(t, cfg.Daemons[0].Button.Enabled("web"))
	})

	t.Run("list form", func(t *testing.T) {
		path := writeConfig(t, `
daemons:
  - name: local
    switch: [web, db]
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.True(t, cfg.Daemons[0].Switch.Enabled("web"))
		assert.False(t, cfg.Daemons[0].Switch.Enabled("cache"))
	})

	t.Run("invalid form", func(t *testing.T) {
		path := writeConfig(t, `
daemons:
  - name: local
    switch:
      web: true
`)
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestConditionCategories(t *testing.T) {
	assert.Equal(t, CategoryDaemonInfo, CondImages.Category())
	assert.Equal(t, CategoryDaemonInfo, CondDaemonCPU.Category())
	assert.Equal(t, CategoryContainerLifecycle, CondStatus.Category())
	assert.Equal(t, CategoryContainerMetric, CondNetSpeedUp.Category())

	set := ConditionSet{CondState: {}, CondCPU: {}}
	assert.True(t, set.HasCategory(CategoryContainerLifecycle))
	assert.True(t, set.HasCategory(CategoryContainerMetric))
	assert.False(t, set.HasCategory(CategoryDaemonInfo))
}
