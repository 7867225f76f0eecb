package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg, err := decode(v)
	require.NoError(t, err)

	assert.Equal(t, 8443, cfg.Port)
	assert.Equal(t, "/one2many", cfg.Signal.Path)
	assert.True(t, cfg.Presenters.Multi)
	assert.Equal(t, 10*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Engine.ICEServers)
	assert.False(t, cfg.Recording.Enabled)
	assert.Zero(t, cfg.Recording.RotateEvery)
	assert.Equal(t, 2, cfg.Lifecycle.Workers)
	assert.Equal(t, 64, cfg.Signal.MaxQueuedCandidates)
	assert.False(t, cfg.TLS.Enabled())
	assert.Less(t, cfg.PingPeriod, cfg.PongWait)
}

func TestDecodeClampsAndValidates(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("ping_period", "90s")
	v.Set("pong_wait", "60s")
	v.Set("lifecycle.workers", 0)
	v.Set("signal.max_queued_candidates", -5)

	cfg, err := decode(v)
	require.NoError(t, err)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 1, cfg.Lifecycle.Workers)
	assert.Equal(t, 1, cfg.Signal.MaxQueuedCandidates)

	v.Set("engine.udp_port_min", 50000)
	v.Set("engine.udp_port_max", 40000)
	_, err = decode(v)
	assert.Error(t, err)
}

func TestTLSEnabled(t *testing.T) {
	assert.False(t, TLSConfig{CertFile: "cert.pem"}.Enabled())
	assert.True(t, TLSConfig{CertFile: "cert.pem", KeyFile: "key.pem"}.Enabled())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("CONFIG_ENV", "does-not-exist")
	t.Setenv("ONE2MANY_PORT", "9443")
	t.Setenv("ONE2MANY_PRESENTERS_MULTI", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9443, cfg.Port)
	assert.False(t, cfg.Presenters.Multi)
}

func TestLoadReadsTLSFromEnvironment(t *testing.T) {
	t.Setenv("CONFIG_ENV", "does-not-exist")
	t.Setenv("ONE2MANY_TLS_CERT_FILE", "/etc/one2many/cert.pem")
	t.Setenv("ONE2MANY_TLS_KEY_FILE", "/etc/one2many/key.pem")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/etc/one2many/cert.pem", cfg.TLS.CertFile)
	assert.Equal(t, "/etc/one2many/key.pem", cfg.TLS.KeyFile)
	assert.True(t, cfg.TLS.Enabled())
}
