package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViper_ValoresPorDefecto(t *testing.T) {
	cfg, err := fromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, EnvironmentHomologacao, cfg.NFSE.Environment)
	assert.Equal(t, "2", cfg.NFSE.TipoAmbiente())
	assert.Equal(t, sefinURLHomologacao, cfg.NFSE.SefinURL)
	assert.Equal(t, sefinURLHomologacao, cfg.NFSE.ParametrosURL, "parámetros usa la URL de Sefin si no se configura")
	assert.Equal(t, adnURLHomologacao, cfg.NFSE.ADNURL)
	assert.Equal(t, 15*time.Second, cfg.NFSE.Timeout())
	assert.Equal(t, "rsa-sha256", cfg.NFSE.SignatureAlg)
	assert.False(t, cfg.NFSE.AcceptPrebuilt)
	assert.Equal(t, "postgres", cfg.App.Storage)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.PollInterval)
	assert.Equal(t, 30, cfg.Scheduler.ExpiryWithinDays)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
}

func TestFromViper_Producao(t *testing.T) {
	v := viper.New()
	v.Set("NFSE_ENVIRONMENT", "PRODUCAO")
	v.Set("NFSE_TIMEOUT_SECONDS", "30")
	v.Set("NFSE_ACCEPT_PREBUILT", "true")
	v.Set("POLLER_INTERVAL", "90")
	v.Set("EXPIRY_CHECK_INTERVAL", "12h")
	v.Set("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := fromViper(v)
	require.NoError(t, err)

	assert.Equal(t, EnvironmentProducao, cfg.NFSE.Environment)
	assert.Equal(t, "1", cfg.NFSE.TipoAmbiente())
	assert.Equal(t, sefinURLProducao, cfg.NFSE.SefinURL)
	assert.Equal(t, adnURLProducao, cfg.NFSE.ADNURL)
	assert.Equal(t, 30*time.Second, cfg.NFSE.Timeout())
	assert.True(t, cfg.NFSE.AcceptPrebuilt)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 12*time.Hour, cfg.Scheduler.ExpiryCheckInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestFromViper_AmbienteDesconocido(t *testing.T) {
	v := viper.New()
	v.Set("NFSE_ENVIRONMENT", "staging")
	_, err := fromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NFSE_ENVIRONMENT")
}

func TestFromViper_DuracionInvalidaUsaDefecto(t *testing.T) {
	v := viper.New()
	v.Set("POLLER_INTERVAL", "nunca")
	cfg, err := fromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.PollInterval)
}

func TestDBConfig_ConnectionString(t *testing.T) {
	c := DBConfig{Host: "db", Port: 5432, User: "nfse", Password: "p@ss:w/rd", DBName: "nfse", SSLMode: "disable"}
	assert.Equal(t, "postgres://nfse:p%40ss%3Aw%2Frd@db:5432/nfse?sslmode=disable", c.ConnectionString())

	c.DatabaseURL = "postgresql://otro"
	assert.Equal(t, "postgresql://otro", c.ConnectionString())
}
