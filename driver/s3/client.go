package s3

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gobeaver/vfskit"
)

// Config holds the client settings shared by every realm.
type Config struct {
	Region          string
	Endpoint        string // overrides the endpoint derived from the URL host
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// defaultHost addresses AWS itself; any other URL host is a custom endpoint.
const defaultHost = "s3.amazonaws.com"

// newClient creates an S3 client for realm. Credentials in the URL take
// precedence over the configured keys, which take precedence over the
// default AWS credential chain.
func newClient(ctx context.Context, cfg Config, realm *vfskit.FileURL, creds *vfskit.Credentials) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	switch {
	case creds != nil && creds.Login != "":
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(creds.Login, creds.Password, "")
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" && realm.Host != "" && !strings.EqualFold(realm.Host, defaultHost) {
		endpoint = "https://" + realm.Host
		if realm.Port > 0 {
			endpoint += ":" + strconv.Itoa(realm.Port)
		}
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}
