// Package defaults builds a Registry with every provider and archive format
// of the module, configured from a vfskit.Config, and keeps an optional
// process-wide instance.
//
//	if err := defaults.Init(); err != nil {
//	    log.Fatal(err)
//	}
//	vfs, _ := defaults.Default()
//	f, err := vfs.Resolve(ctx, "file:///srv/release.tar.gz/bin/app", nil)
package defaults

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gobeaver/beaver-kit/config"
	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/archive/ar"
	"github.com/gobeaver/vfskit/archive/compress"
	"github.com/gobeaver/vfskit/archive/rar"
	"github.com/gobeaver/vfskit/archive/sevenzip"
	"github.com/gobeaver/vfskit/archive/tar"
	"github.com/gobeaver/vfskit/archive/zip"
	"github.com/gobeaver/vfskit/bookmark"
	"github.com/gobeaver/vfskit/driver/azure"
	"github.com/gobeaver/vfskit/driver/gcs"
	"github.com/gobeaver/vfskit/driver/local"
	"github.com/gobeaver/vfskit/driver/memory"
	"github.com/gobeaver/vfskit/driver/minio"
	"github.com/gobeaver/vfskit/driver/objectfs"
	"github.com/gobeaver/vfskit/driver/s3"
	"github.com/gobeaver/vfskit/driver/sftp"
	"github.com/gobeaver/vfskit/search"
	"github.com/sirupsen/logrus"
)

// Global instance
var (
	defaultVFS  *VFS
	defaultOnce sync.Once
	defaultErr  error
	defaultMu   sync.Mutex
)

// Schemes lists every scheme New can register.
var Schemes = []string{
	vfskit.FileScheme, memory.Scheme, sftp.Scheme, s3.Scheme, minio.Scheme,
	gcs.Scheme, azure.Scheme, bookmark.Scheme, search.Scheme,
}

// Formats returns every archive format of the module.
func Formats() []*vfskit.ArchiveFormat {
	formats := []*vfskit.ArchiveFormat{zip.Format()}
	formats = append(formats, tar.Formats()...)
	formats = append(formats, compress.Formats()...)
	return append(formats, ar.Format(), sevenzip.Format(), rar.Format())
}

// VFS is a configured Registry together with the resources it owns.
type VFS struct {
	*vfskit.Registry

	// Bookmarks is nil when the bookmark scheme is not registered.
	Bookmarks *bookmark.Manager
	Logger    *logrus.Logger

	pool *vfskit.ConnectionPool
}

// Close releases pooled connections.
func (v *VFS) Close() error {
	return v.pool.Close()
}

// Builder creates instances from environment variables with a custom
// prefix.
type Builder struct {
	prefix string
}

// WithPrefix creates a new Builder with the specified prefix
func WithPrefix(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

// Init initializes the global instance using the builder's prefix
func (b *Builder) Init() error {
	cfg := &vfskit.Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: b.prefix}); err != nil {
		return err
	}
	return Init(cfg)
}

// New creates an instance using the builder's prefix
func (b *Builder) New() (*VFS, error) {
	cfg := &vfskit.Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: b.prefix}); err != nil {
		return nil, err
	}
	return New(cfg)
}

// Init initializes the global instance, from the environment when no
// config is given. Only the first call has an effect until Reset.
func Init(configs ...*vfskit.Config) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOnce.Do(func() {
		var cfg *vfskit.Config
		if len(configs) > 0 {
			cfg = configs[0]
		} else {
			cfg, defaultErr = vfskit.GetConfig()
			if defaultErr != nil {
				return
			}
		}
		defaultVFS, defaultErr = New(cfg)
	})
	return defaultErr
}

// Default returns the global instance, initializing it from the environment
// if needed.
func Default() (*VFS, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	return defaultVFS, nil
}

// Reset closes and clears the global instance (for testing)
func Reset() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultVFS != nil {
		_ = defaultVFS.Close()
	}
	defaultVFS = nil
	defaultOnce = sync.Once{}
	defaultErr = nil
}

// New creates an instance with given config
func New(cfg *vfskit.Config) (*VFS, error) {
	log, err := NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	formats, err := selectFormats(cfg.ArchiveFormats)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	schemes, err := selectSchemes(cfg.Schemes)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var cache *vfskit.IndexCache
	if ttl := cfg.IndexCacheTTL(); ttl > 0 {
		cache = vfskit.NewIndexCache(ttl, cfg.ArchiveIndexCacheSize)
	}
	reg := vfskit.NewRegistry(
		vfskit.WithLogger(log),
		vfskit.WithArchiveFormats(formats),
		vfskit.WithIndexCache(cache),
		vfskit.WithSignatureSniffing(cfg.ArchiveSignatureSniffing),
		vfskit.WithArchiveLimits(cfg.Limits()),
		vfskit.WithExtractBufferSize(cfg.ExtractBufferSize),
	)
	pool := vfskit.NewConnectionPool(
		vfskit.WithIdleTimeout(cfg.IdleTimeout()),
		vfskit.WithKeepAliveInterval(cfg.KeepAliveInterval()),
		vfskit.WithPoolLogger(log),
	)
	v := &VFS{Registry: reg, Logger: log, pool: pool}

	if err := v.register(cfg, schemes); err != nil {
		pool.Close()
		return nil, err
	}
	log.WithField("schemes", strings.Join(reg.Schemes(), ",")).Debug("vfs ready")
	return v, nil
}

func (v *VFS) register(cfg *vfskit.Config, schemes map[string]bool) error {
	log := v.Logger
	objOpts := []objectfs.Option{objectfs.WithLogger(log)}

	for _, scheme := range Schemes {
		if !schemes[scheme] {
			continue
		}
		var p vfskit.Provider
		switch scheme {
		case vfskit.FileScheme:
			p = local.New(local.WithLogger(log))
		case memory.Scheme:
			p = memory.New()
		case sftp.Scheme:
			opts := []sftp.Option{
				sftp.WithPool(v.pool),
				sftp.WithLogger(log),
				sftp.WithTimeout(cfg.SFTPDialTimeout()),
			}
			if cfg.SFTPPrivateKeyFile != "" {
				key, err := os.ReadFile(cfg.SFTPPrivateKeyFile)
				if err != nil {
					return fmt.Errorf("read sftp private key: %w", err)
				}
				opts = append(opts, sftp.WithPrivateKey(key))
			}
			if cfg.SFTPKnownHostsFile != "" {
				opts = append(opts, sftp.WithKnownHostsFile(cfg.SFTPKnownHostsFile))
			}
			p = sftp.New(opts...)
		case s3.Scheme:
			p = s3.NewProvider(s3.Config{
				Region:          cfg.S3Region,
				Endpoint:        cfg.S3Endpoint,
				AccessKeyID:     cfg.S3AccessKeyID,
				SecretAccessKey: cfg.S3SecretAccessKey,
				ForcePathStyle:  cfg.S3ForcePathStyle,
			}, objOpts...)
		case minio.Scheme:
			p = minio.NewProvider(minio.Config{
				AccessKey: cfg.MinIOAccessKey,
				SecretKey: cfg.MinIOSecretKey,
				UseSSL:    cfg.MinIOUseSSL,
				Region:    cfg.MinIORegion,
			}, objOpts...)
		case gcs.Scheme:
			p = gcs.NewProvider(gcs.Config{
				CredentialsFile: cfg.GCSCredentialsFile,
				ProjectID:       cfg.GCSProjectID,
			}, objOpts...)
		case azure.Scheme:
			p = azure.NewProvider(azure.Config{
				AccountName: cfg.AzureAccountName,
				AccountKey:  cfg.AzureAccountKey,
				Endpoint:    cfg.AzureEndpoint,
			}, objOpts...)
		case bookmark.Scheme:
			m, err := bookmark.NewManager(cfg.BookmarksFile, bookmark.WithLogger(log))
			if err != nil {
				return err
			}
			v.Bookmarks = m
			p = bookmark.NewProvider(m, v.Registry)
		case search.Scheme:
			p = search.NewProvider(v.Registry,
				search.WithConcurrency(cfg.SearchConcurrency),
				search.WithLogger(log),
			)
		}
		v.Register(scheme, p)
	}
	return nil
}

// NewLogger returns a logger with the level and format of cfg.
func NewLogger(cfg *vfskit.Config) (*logrus.Logger, error) {
	log := logrus.New()
	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)

	switch strings.ToLower(cfg.LogFormat) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	return log, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(strings.ToLower(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// selectFormats returns the formats named in list, or all of them for an
// empty list.
func selectFormats(list string) (*vfskit.ArchiveFormats, error) {
	all := Formats()
	names := splitList(list)
	if len(names) == 0 {
		return vfskit.NewArchiveFormats(all...)
	}
	byName := make(map[string]*vfskit.ArchiveFormat, len(all))
	for _, f := range all {
		byName[f.Name] = f
	}
	selected := make([]*vfskit.ArchiveFormat, 0, len(names))
	for _, name := range names {
		f, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown archive format: %s", name)
		}
		selected = append(selected, f)
	}
	return vfskit.NewArchiveFormats(selected...)
}

func selectSchemes(list string) (map[string]bool, error) {
	selected := make(map[string]bool, len(Schemes))
	names := splitList(list)
	if len(names) == 0 {
		names = Schemes
	}
	known := make(map[string]bool, len(Schemes))
	for _, s := range Schemes {
		known[s] = true
	}
	for _, name := range names {
		if !known[name] {
			return nil, fmt.Errorf("unknown scheme: %s", name)
		}
		selected[name] = true
	}
	return selected, nil
}
