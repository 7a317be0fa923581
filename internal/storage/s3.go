package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/filestore/backend/internal/models"
)

// PutObjectAPI is the subset of the S3 client used by S3Engine.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures an S3Engine. Empty values fall back to the
// AWS_* environment variables.
type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	UsePathStyle    bool
	ExtraArgs       map[string]any
}

// S3Engine uploads files to an S3 bucket. It never retries; retries are the
// caller's concern.
type S3Engine struct {
	client      PutObjectAPI
	bucket      string
	region      string
	extraArgs   map[string]any
	parallelism int
}

// NewS3Engine builds an S3 client from cfg and the environment.
func NewS3Engine(ctx context.Context, cfg S3Config) (*S3Engine, error) {
	cfg = cfg.withEnv()
	if cfg.Bucket == "" {
		return nil, models.NewError(models.KindConfig, "s3 engine", errors.New("bucket is not configured"))
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, models.NewError(models.KindConfig, "loading aws config", err)
	}

	if cfg.Region == "" {
		cfg.Region = awsCfg.Region
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3EngineWithClient(client, cfg), nil
}

// NewS3EngineWithClient creates an S3Engine around an existing client.
func NewS3EngineWithClient(client PutObjectAPI, cfg S3Config) *S3Engine {
	cfg = cfg.withEnv()
	return &S3Engine{
		client:      client,
		bucket:      cfg.Bucket,
		region:      cfg.Region,
		extraArgs:   cfg.ExtraArgs,
		parallelism: defaultParallelism,
	}
}

func (c S3Config) withEnv() S3Config {
	if c.Bucket == "" {
		c.Bucket = os.Getenv("AWS_BUCKET_NAME")
	}
	if c.Region == "" {
		c.Region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if c.AccessKeyID == "" {
		c.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	if c.SecretAccessKey == "" {
		c.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	return c
}

// Name implements Engine.
func (e *S3Engine) Name() string { return "s3" }

// ObjectTarget overrides bucket, region and extra arguments for one upload.
type ObjectTarget struct {
	Bucket    string
	Region    string
	ExtraArgs map[string]any
}

type targetKey struct{}

// WithTarget attaches per-field S3 overrides to ctx.
func WithTarget(ctx context.Context, t ObjectTarget) context.Context {
	return context.WithValue(ctx, targetKey{}, t)
}

func (e *S3Engine) target(ctx context.Context) (bucket, region string, extra map[string]any) {
	bucket, region, extra = e.bucket, e.region, e.extraArgs
	if t, ok := ctx.Value(targetKey{}).(ObjectTarget); ok {
		if t.Bucket != "" {
			bucket = t.Bucket
		}
		if t.Region != "" {
			region = t.Region
		}
		if len(t.ExtraArgs) > 0 {
			merged := make(map[string]any, len(extra)+len(t.ExtraArgs))
			for k, v := range extra {
				merged[k] = v
			}
			for k, v := range t.ExtraArgs {
				merged[k] = v
			}
			extra = merged
		}
	}
	return bucket, region, extra
}

// Upload puts the file under the object key given by location.
func (e *S3Engine) Upload(ctx context.Context, file *models.FileInput, location string) (*models.FileResult, error) {
	key := strings.TrimPrefix(location, "/")
	if key == "" {
		key = file.Filename
	}
	bucket, region, extra := e.target(ctx)
	if bucket == "" {
		return nil, models.NewError(models.KindConfig, "uploading "+file.Filename, errors.New("bucket is not configured"))
	}

	body, err := openSeekable(file)
	if err != nil {
		return nil, models.NewError(models.KindIO, "reading "+file.Filename, err)
	}
	defer body.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if file.ContentType != "" {
		input.ContentType = aws.String(file.ContentType)
	}
	if err := applyExtraArgs(input, extra); err != nil {
		return nil, models.NewError(models.KindConfig, "extra_args", err)
	}

	var optFns []func(*s3.Options)
	if region != "" && region != e.region {
		optFns = append(optFns, func(o *s3.Options) { o.Region = region })
	}

	out, err := e.client.PutObject(ctx, input, optFns...)
	if err != nil {
		return nil, models.NewError(models.KindRemote, "uploading "+file.Filename, err)
	}

	meta := map[string]any{"bucket": bucket, "key": key}
	if out != nil {
		if out.ETag != nil {
			meta["etag"] = strings.Trim(*out.ETag, `"`)
		}
		if out.VersionId != nil {
			meta["version_id"] = *out.VersionId
		}
	}

	return &models.FileResult{
		URL:         ObjectURL(bucket, region, key),
		Status:      true,
		ContentType: file.ContentType,
		Filename:    file.Filename,
		Size:        file.Size,
		FieldName:   file.FieldName,
		Metadata:    meta,
		Message:     file.Filename + " successfully uploaded",
		Storage:     e.Name(),
	}, nil
}

// UploadMany implements Engine.
func (e *S3Engine) UploadMany(ctx context.Context, items []Item) []*models.FileResult {
	return uploadEach(ctx, e, items, e.parallelism)
}

// ObjectURL returns the virtual-hosted style URL of an object.
func ObjectURL(bucket, region, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, strings.Join(segments, "/"))
}

type seekableBody struct {
	io.ReadSeeker
	closer io.Closer
}

func (b seekableBody) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// openSeekable returns a body the SDK can rewind for signing.
func openSeekable(file *models.FileInput) (io.ReadSeekCloser, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	if rs, ok := rc.(io.ReadSeeker); ok {
		return seekableBody{ReadSeeker: rs, closer: rc}, nil
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return seekableBody{ReadSeeker: bytes.NewReader(data)}, nil
}

func applyExtraArgs(in *s3.PutObjectInput, args map[string]any) error {
	for k, v := range args {
		switch k {
		case "ACL":
			s, err := stringArg(k, v)
			if err != nil {
				return err
			}
			in.ACL = types.ObjectCannedACL(s)
		case "CacheControl":
			s, err := stringArg(k, v)
			if err != nil {
				return err
			}
			in.CacheControl = aws.String(s)
		case "ContentDisposition":
			s, err := stringArg(k, v)
			if err != nil {
				return err
			}
			in.ContentDisposition = aws.String(s)
		case "ContentEncoding":
			s, err := stringArg(k, v)
			if err != nil {
				return err
			}
			in.ContentEncoding = aws.String(s)
		case "ContentType":
			s, err := stringArg(k, v)
			if err != nil {
				return err
			}
			in.ContentType = aws.String(s)
		case "StorageClass":
			s, err := stringArg(k, v)
			if err != nil {
				return err
			}
			in.StorageClass = types.StorageClass(s)
		case "Metadata":
			m, err := metadataArg(v)
			if err != nil {
				return err
			}
			in.Metadata = m
		default:
			return fmt.Errorf("unsupported extra argument %q", k)
		}
	}
	return nil
}

func stringArg(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("extra argument %q must be a string, got %T", key, v)
	}
	return s, nil
}

func metadataArg(v any) (map[string]string, error) {
	switch m := v.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = fmt.Sprint(val)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("extra argument \"Metadata\" must be a map, got %T", v)
	}
}
