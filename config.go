package vfskit

import (
	"time"

	"github.com/gobeaver/beaver-kit/config"
)

type Config struct {
	// Schemes to register, comma-separated (file,mem,sftp,s3,minio,gs,azure,bookmark,search); empty registers all
	Schemes string `env:"VFSKIT_SCHEMES"`

	// Archive handling
	ArchiveFormats           string `env:"VFSKIT_ARCHIVE_FORMATS"` // comma-separated format names; empty enables all
	ArchiveSignatureSniffing bool   `env:"VFSKIT_ARCHIVE_SIGNATURE_SNIFFING,default:false"`
	ArchiveMaxEntries        int    `env:"VFSKIT_ARCHIVE_MAX_ENTRIES,default:0"`
	ArchiveMaxTotalSize      int64  `env:"VFSKIT_ARCHIVE_MAX_TOTAL_SIZE,default:0"`
	ArchiveIndexCacheTTL     int    `env:"VFSKIT_ARCHIVE_INDEX_CACHE_TTL,default:300"` // seconds, 0 disables the cache
	ArchiveIndexCacheSize    int    `env:"VFSKIT_ARCHIVE_INDEX_CACHE_SIZE,default:64"`
	ExtractBufferSize        int    `env:"VFSKIT_EXTRACT_BUFFER_SIZE,default:65536"`

	// Connection pool
	ConnectionIdleTimeout int `env:"VFSKIT_CONNECTION_IDLE_TIMEOUT,default:60"` // seconds
	ConnectionKeepAlive   int `env:"VFSKIT_CONNECTION_KEEP_ALIVE,default:30"`   // seconds, 0 disables keep-alives

	// SFTP
	SFTPTimeout        int    `env:"VFSKIT_SFTP_TIMEOUT,default:30"` // seconds
	SFTPPrivateKeyFile string `env:"VFSKIT_SFTP_PRIVATE_KEY_FILE"`
	SFTPKnownHostsFile string `env:"VFSKIT_SFTP_KNOWN_HOSTS_FILE"` // empty accepts any host key

	// S3
	S3Region          string `env:"VFSKIT_S3_REGION,default:us-east-1"`
	S3Endpoint        string `env:"VFSKIT_S3_ENDPOINT"`
	S3AccessKeyID     string `env:"VFSKIT_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"VFSKIT_S3_SECRET_ACCESS_KEY"`
	S3ForcePathStyle  bool   `env:"VFSKIT_S3_FORCE_PATH_STYLE,default:false"`

	// MinIO and other S3-compatible servers addressed as minio://host:port/bucket/key
	MinIOAccessKey string `env:"VFSKIT_MINIO_ACCESS_KEY"`
	MinIOSecretKey string `env:"VFSKIT_MINIO_SECRET_KEY"`
	MinIOUseSSL    bool   `env:"VFSKIT_MINIO_USE_SSL,default:true"`
	MinIORegion    string `env:"VFSKIT_MINIO_REGION"`

	// Google Cloud Storage
	GCSCredentialsFile string `env:"VFSKIT_GCS_CREDENTIALS_FILE"` // Path to service account JSON
	GCSProjectID       string `env:"VFSKIT_GCS_PROJECT_ID"`

	// Azure Blob Storage
	AzureAccountName string `env:"VFSKIT_AZURE_ACCOUNT_NAME"`
	AzureAccountKey  string `env:"VFSKIT_AZURE_ACCOUNT_KEY"`
	AzureEndpoint    string `env:"VFSKIT_AZURE_ENDPOINT"` // Optional custom endpoint

	// Bookmarks
	BookmarksFile string `env:"VFSKIT_BOOKMARKS_FILE"`

	// Search
	SearchConcurrency int `env:"VFSKIT_SEARCH_CONCURRENCY,default:4"`

	// Logging
	LogLevel  string `env:"VFSKIT_LOG_LEVEL,default:info"`
	LogFormat string `env:"VFSKIT_LOG_FORMAT,default:text"` // text or json
}

// GetConfig returns config loaded from environment
func GetConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetConfigWithPrefix loads config from environment variables carrying a
// custom prefix instead of the default one.
func GetConfigWithPrefix(prefix string) (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: prefix}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IndexCacheTTL returns ArchiveIndexCacheTTL as a duration.
func (c *Config) IndexCacheTTL() time.Duration {
	return time.Duration(c.ArchiveIndexCacheTTL) * time.Second
}

// IdleTimeout returns ConnectionIdleTimeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.ConnectionIdleTimeout) * time.Second
}

// KeepAliveInterval returns ConnectionKeepAlive as a duration.
func (c *Config) KeepAliveInterval() time.Duration {
	return time.Duration(c.ConnectionKeepAlive) * time.Second
}

// SFTPDialTimeout returns SFTPTimeout as a duration.
func (c *Config) SFTPDialTimeout() time.Duration {
	return time.Duration(c.SFTPTimeout) * time.Second
}

// Limits returns the archive limits.
func (c *Config) Limits() ArchiveLimits {
	return ArchiveLimits{MaxEntries: c.ArchiveMaxEntries, MaxTotalSize: c.ArchiveMaxTotalSize}
}
