package vfskit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() Config {
	return Config{
		ArchiveIndexCacheTTL:  300,
		ArchiveIndexCacheSize: 64,
		ExtractBufferSize:     65536,
		ConnectionIdleTimeout: 60,
		ConnectionKeepAlive:   30,
		SFTPTimeout:           30,
		S3Region:              "us-east-1",
		MinIOUseSSL:           true,
		SearchConcurrency:     4,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

func TestGetConfig(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		want    func(c *Config)
	}{
		{
			name:    "default values",
			envVars: map[string]string{},
			want:    func(c *Config) {},
		},
		{
			name: "archive configuration",
			envVars: map[string]string{
				"BEAVER_VFSKIT_ARCHIVE_FORMATS":            "zip",
				"BEAVER_VFSKIT_ARCHIVE_SIGNATURE_SNIFFING": "true",
				"BEAVER_VFSKIT_ARCHIVE_MAX_ENTRIES":        "1000",
				"BEAVER_VFSKIT_ARCHIVE_MAX_TOTAL_SIZE":     "1048576",
				"BEAVER_VFSKIT_ARCHIVE_INDEX_CACHE_TTL":    "10",
			},
			want: func(c *Config) {
				c.ArchiveFormats = "zip"
				c.ArchiveSignatureSniffing = true
				c.ArchiveMaxEntries = 1000
				c.ArchiveMaxTotalSize = 1048576
				c.ArchiveIndexCacheTTL = 10
			},
		},
		{
			name: "s3 configuration",
			envVars: map[string]string{
				"BEAVER_VFSKIT_S3_REGION":            "us-west-2",
				"BEAVER_VFSKIT_S3_ACCESS_KEY_ID":     "test-key",
				"BEAVER_VFSKIT_S3_SECRET_ACCESS_KEY": "test-secret",
				"BEAVER_VFSKIT_S3_ENDPOINT":          "http://localhost:9000",
				"BEAVER_VFSKIT_S3_FORCE_PATH_STYLE":  "true",
			},
			want: func(c *Config) {
				c.S3Region = "us-west-2"
				c.S3AccessKeyID = "test-key"
				c.S3SecretAccessKey = "test-secret"
				c.S3Endpoint = "http://localhost:9000"
				c.S3ForcePathStyle = true
			},
		},
		{
			name: "sftp and pool configuration",
			envVars: map[string]string{
				"BEAVER_VFSKIT_SFTP_TIMEOUT":            "5",
				"BEAVER_VFSKIT_SFTP_KNOWN_HOSTS_FILE":   "/home/user/.ssh/known_hosts",
				"BEAVER_VFSKIT_CONNECTION_IDLE_TIMEOUT": "120",
				"BEAVER_VFSKIT_CONNECTION_KEEP_ALIVE":   "0",
				"BEAVER_VFSKIT_SFTP_PRIVATE_KEY_FILE":   "/home/user/.ssh/id_ed25519",
			},
			want: func(c *Config) {
				c.SFTPTimeout = 5
				c.SFTPKnownHostsFile = "/home/user/.ssh/known_hosts"
				c.SFTPPrivateKeyFile = "/home/user/.ssh/id_ed25519"
				c.ConnectionIdleTimeout = 120
				c.ConnectionKeepAlive = 0
			},
		},
		{
			name: "logging configuration",
			envVars: map[string]string{
				"BEAVER_VFSKIT_LOG_LEVEL":  "debug",
				"BEAVER_VFSKIT_LOG_FORMAT": "json",
			},
			want: func(c *Config) {
				c.LogLevel = "debug"
				c.LogFormat = "json"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := GetConfig()
			require.NoError(t, err)

			want := defaultConfig()
			tt.want(&want)
			assert.Equal(t, want, *cfg)
		})
	}
}

func TestGetConfigWithPrefix(t *testing.T) {
	t.Setenv("APP_VFSKIT_SCHEMES", "file")
	t.Setenv("APP_VFSKIT_BOOKMARKS_FILE", "/tmp/bookmarks.yaml")

	cfg, err := GetConfigWithPrefix("APP_")
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Schemes)
	assert.Equal(t, "/tmp/bookmarks.yaml", cfg.BookmarksFile)
	assert.Equal(t, "us-east-1", cfg.S3Region)
}

func TestConfigDurations(t *testing.T) {
	cfg := defaultConfig()
	cfg.ArchiveMaxEntries = 10
	cfg.ArchiveMaxTotalSize = 20

	assert.Equal(t, 5*time.Minute, cfg.IndexCacheTTL())
	assert.Equal(t, time.Minute, cfg.IdleTimeout())
	assert.Equal(t, 30*time.Second, cfg.KeepAliveInterval())
	assert.Equal(t, 30*time.Second, cfg.SFTPDialTimeout())
	assert.Equal(t, ArchiveLimits{MaxEntries: 10, MaxTotalSize: 20}, cfg.Limits())
}
