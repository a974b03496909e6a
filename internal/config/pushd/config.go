package pushd_config

import (
	"time"

	pginfra "github.com/seiryo-hall/dormpush/internal/repository/postgres"
	"github.com/seiryo-hall/dormpush/internal/obs"
	"github.com/seiryo-hall/dormpush/internal/push"
)

type DB struct {
	DSN               string        `mapstructure:"dsn"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	QueryTimeout      time.Duration `mapstructure:"query_timeout"`
}

func (d DB) AsDBConfig() pginfra.Config {
	return pginfra.Config{
		URL:               d.DSN,
		MaxConns:          d.MaxConns,
		MinConns:          d.MinConns,
		MaxConnLifetime:   d.MaxConnLifetime,
		MaxConnIdleTime:   d.MaxConnIdleTime,
		HealthCheckPeriod: d.HealthCheckPeriod,
		QueryTimeout:      d.QueryTimeout,
	}
}

type Push struct {
	Subscriber      string        `mapstructure:"subscriber"`
	VAPIDPublicKey  string        `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string        `mapstructure:"vapid_private_key"`
	TTL             time.Duration `mapstructure:"ttl"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func (p Push) AsSenderConfig() push.Config {
	return push.Config{
		Subscriber:      p.Subscriber,
		VAPIDPublicKey:  p.VAPIDPublicKey,
		VAPIDPrivateKey: p.VAPIDPrivateKey,
		TTL:             p.TTL,
		Timeout:         p.Timeout,
	}
}

type Server struct {
	HTTPAddr     string        `mapstructure:"http_addr"`
	MetricsAddr  string        `mapstructure:"metrics_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	Env    string `mapstructure:"env"`
	Ver    string `mapstructure:"ver"`
}

func (l Log) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{Level: l.Level, Pretty: l.Pretty, App: "pushd", Env: l.Env, Ver: l.Ver}
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
}

func (o OTEL) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      o.Enable,
		Endpoint:    o.OTLPEndpoint,
		ServiceName: o.ServiceName,
		SampleRatio: o.SampleRatio,
	}
}

type Config struct {
	DB     DB     `mapstructure:"db"`
	Push   Push   `mapstructure:"push"`
	Server Server `mapstructure:"server"`
	Log    Log    `mapstructure:"log"`
	OTEL   OTEL   `mapstructure:"otel"`
}
