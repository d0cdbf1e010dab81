package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 30, cfg.Server.ReadTimeout)

	assert.Equal(t, "docsearch", cfg.Database.Name)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)

	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, 10, cfg.Redis.PoolSize)

	assert.Equal(t, "text-embedding-3-small", cfg.OpenAI.EmbeddingModel)
	assert.Equal(t, 1536, cfg.OpenAI.Dimensions)

	assert.Equal(t, 1500, cfg.Retrieval.SmallDocThreshold)
	assert.Equal(t, 10, cfg.Retrieval.MaxAdditionalURLs)

	assert.Equal(t, 60, cfg.RateLimit.ShortWindow.Requests)
	assert.Equal(t, 5000, cfg.RateLimit.LongWindow.Requests)

	assert.True(t, cfg.Session.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.Equal(t, 10, cfg.Retrieval.DeclaredMaxResults)
}

func TestRateLimitScaleFor(t *testing.T) {
	cfg := DefaultConfig().RateLimit

	shortScale, longScale := cfg.ScaleFor("pro", false)
	assert.Equal(t, 3.0, shortScale)
	assert.Equal(t, 5.0, longScale)

	shortScale, longScale = cfg.ScaleFor("", true)
	assert.Equal(t, cfg.AnonymousShortScale, shortScale)
	assert.Equal(t, cfg.AnonymousLongScale, longScale)

	shortScale, longScale = cfg.ScaleFor("unknown-tier", false)
	assert.Equal(t, 1.0, shortScale)
	assert.Equal(t, 1.0, longScale)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.OpenAI.APIKeys = []string{"sk-test"}
				return cfg
			},
			wantErr: false,
		},
		{
			name: "invalid server port",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.OpenAI.APIKeys = []string{"sk-test"}
				cfg.Server.Port = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid server port",
		},
		{
			name: "empty server host",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.OpenAI.APIKeys = []string{"sk-test"}
				cfg.Server.Host = ""
				return cfg
			},
			wantErr: true,
			errMsg:  "server host cannot be empty",
		},
		{
			name: "empty database name",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.OpenAI.APIKeys = []string{"sk-test"}
				cfg.Database.Name = ""
				return cfg
			},
			wantErr: true,
			errMsg:  "database name cannot be empty",
		},
		{
			name: "idle conns exceed open conns",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.OpenAI.APIKeys = []string{"sk-test"}
				cfg.Database.MaxIdleConns = cfg.Database.MaxOpenConns + 1
				return cfg
			},
			wantErr: true,
			errMsg:  "max idle connections cannot exceed max open connections",
		},
		{
			name: "missing OpenAI API keys",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.OpenAI.APIKeys = nil
				return cfg
			},
			wantErr: true,
			errMsg:  "at least one OpenAI API key is required",
		},
		{
			name: "empty embedding model",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.OpenAI.APIKeys = []string{"sk-test"}
				cfg.OpenAI.EmbeddingModel = ""
				return cfg
			},
			wantErr: true,
			errMsg:  "OpenAI embedding model cannot be empty",
		},
		{
			name: "invalid small doc threshold",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.OpenAI.APIKeys = []string{"sk-test"}
				cfg.Retrieval.SmallDocThreshold = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "small document threshold must be positive",
		},
		{
			name: "negative max additional urls",
			config: func() *Config {
				cfg := DefaultConfig()
				cfg.OpenAI.APIKeys = []string{"sk-test"}
				cfg.Retrieval.MaxAdditionalURLs = -1
				return cfg
			},
			wantErr: true,
			errMsg:  "max additional URLs cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config().Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Host = "db.internal"
	cfg.Database.Port = 5433
	cfg.Database.Name = "docsearch_test"
	cfg.Database.User = "svc"
	cfg.Database.Password = "secret"
	cfg.Database.SSLMode = "require"

	dsn := cfg.Database.DSN()
	assert.Contains(t, dsn, "host=db.internal")
	assert.Contains(t, dsn, "port=5433")
	assert.Contains(t, dsn, "dbname=docsearch_test")
	assert.Contains(t, dsn, "sslmode=require")
}

func TestRedisAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redis.Host = "redis.internal"
	cfg.Redis.Port = 6380
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr())
}
