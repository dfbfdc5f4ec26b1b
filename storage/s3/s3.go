package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kbukum/stepflow/storage"
)

// DeleteObjects accepts at most this many keys per request.
const deleteBatch = 1000

// Bucket is a storage.Bucket over one S3 bucket, optionally confined to a
// key prefix.
type Bucket struct {
	client *awss3.Client
	name   string
	prefix string
}

var _ storage.Bucket = (*Bucket)(nil)

// Open builds an S3 client from the s3 fields of cfg. Static credentials
// are used when given; otherwise the default AWS chain applies.
func Open(ctx context.Context, cfg storage.Config) (*Bucket, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: aws config: %w", err)
	}
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle || cfg.Endpoint != ""
	})
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Bucket{client: client, name: cfg.Bucket, prefix: prefix}, nil
}

// object maps a bucket key to its S3 object key.
func (b *Bucket) object(key string) string {
	return b.prefix + strings.TrimLeft(key, "/")
}

func (b *Bucket) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := b.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(b.object(key)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

func (b *Bucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(b.object(key)),
	})
	var missing *types.NoSuchKey
	switch {
	case errors.As(err, &missing):
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	case err != nil:
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	return out.Body, nil
}

// Stat heads the object at key, falling back to summing the tree below
// key + "/".
func (b *Bucket) Stat(ctx context.Context, key string) (storage.Object, error) {
	key = strings.TrimLeft(key, "/")
	head, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(b.object(key)),
	})
	if err == nil {
		return storage.Object{
			Key:      key,
			Size:     aws.ToInt64(head.ContentLength),
			Modified: aws.ToTime(head.LastModified),
		}, nil
	}
	var nf *types.NotFound
	if !errors.As(err, &nf) {
		return storage.Object{}, fmt.Errorf("storage: stat %s: %w", key, err)
	}

	tree := storage.Object{Key: key}
	found := false
	err = b.Walk(ctx, strings.TrimSuffix(key, "/")+"/", func(o storage.Object) error {
		found = true
		tree.Size += o.Size
		if o.Modified.After(tree.Modified) {
			tree.Modified = o.Modified
		}
		return nil
	})
	if err != nil {
		return storage.Object{}, err
	}
	if !found {
		return storage.Object{}, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return tree, nil
}

// Remove deletes the object at key and every object below key + "/".
func (b *Bucket) Remove(ctx context.Context, key string) error {
	key = strings.TrimLeft(key, "/")
	if strings.TrimSuffix(key, "/") == "" {
		return errors.New("storage: refusing to remove the bucket root")
	}
	batch := []types.ObjectIdentifier{{Key: aws.String(b.object(key))}}
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		out, err := b.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(b.name),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		batch = batch[:0]
		if err != nil {
			return fmt.Errorf("storage: remove %s: %w", key, err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("storage: remove %s: %s: %s", aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message))
		}
		return nil
	}
	err := b.Walk(ctx, strings.TrimSuffix(key, "/")+"/", func(o storage.Object) error {
		batch = append(batch, types.ObjectIdentifier{Key: aws.String(b.object(o.Key))})
		if len(batch) == deleteBatch {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// Walk pages through ListObjectsV2, so objects arrive in key order.
func (b *Bucket) Walk(ctx context.Context, prefix string, fn func(storage.Object) error) error {
	pages := awss3.NewListObjectsV2Paginator(b.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(b.object(prefix)),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("storage: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			err := fn(storage.Object{
				Key:      strings.TrimPrefix(aws.ToString(obj.Key), b.prefix),
				Size:     aws.ToInt64(obj.Size),
				Modified: aws.ToTime(obj.LastModified),
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// URL returns the s3:// URL of key.
func (b *Bucket) URL(key string) string {
	return "s3://" + b.name + "/" + b.object(key)
}
