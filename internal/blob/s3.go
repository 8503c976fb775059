package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"datec-go/internal/datec"
)

// Object user-metadata keys. S3 lowercases them on the way back.
const (
	metaType       = "blob-type"
	metaOwner      = "owner-user-id"
	metaDataset    = "dataset-id"
	metaFileIndex  = "file-index"
	metaClonedFrom = "cloned-from"
	metaFilename   = "filename"
	metaMimeType   = "mime-type"
	metaSize       = "size"
	metaUploadedAt = "uploaded-at"
)

// S3Options configures an S3Store. Static credentials are used when both keys
// are set; otherwise the default AWS credential chain applies.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // S3-compatible services; enables path-style addressing

	AccessKeyID     string
	SecretAccessKey string
}

// S3Store keeps each blob as one object under Prefix, with BlobMeta in the
// object's user metadata.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store loads AWS configuration and creates the client.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 blob store requires a bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, id string, r io.Reader, meta datec.BlobMeta) error {
	if err := checkID(id); err != nil {
		return err
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        r,
		ContentType: aws.String(contentType(meta.MimeType)),
		Metadata:    encodeMeta(meta),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", id, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, id string, w io.Writer) (*datec.BlobMeta, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if isNotFound(err) {
		return nil, datec.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", id, err)
	}
	defer out.Body.Close()

	meta, err := decodeMeta(out.Metadata)
	if err != nil {
		return nil, fmt.Errorf("decoding metadata of %s: %w", id, err)
	}
	if _, err := io.Copy(w, out.Body); err != nil {
		return nil, fmt.Errorf("reading %s: %w", id, err)
	}
	return meta, nil
}

func (s *S3Store) Stat(ctx context.Context, id string) (*datec.BlobMeta, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", id, err)
	}

	meta, err := decodeMeta(out.Metadata)
	if err != nil {
		return nil, fmt.Errorf("decoding metadata of %s: %w", id, err)
	}
	return meta, nil
}

// Delete succeeds for absent objects; S3 answers 204 either way.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	return nil
}

func (s *S3Store) key(id string) string {
	if s.prefix == "" {
		return id
	}
	return path.Join(s.prefix, id)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func contentType(mime string) string {
	if mime == "" {
		return "application/octet-stream"
	}
	return mime
}

// encodeMeta flattens meta into object user metadata. Free-text values are
// query-escaped because headers only carry ASCII.
func encodeMeta(meta datec.BlobMeta) map[string]string {
	m := map[string]string{
		metaType:       string(meta.Type),
		metaOwner:      meta.OwnerID,
		metaFilename:   url.QueryEscape(meta.Filename),
		metaMimeType:   meta.MimeType,
		metaSize:       strconv.FormatInt(meta.Size, 10),
		metaUploadedAt: meta.UploadedAt.UTC().Format(time.RFC3339Nano),
	}
	if meta.DatasetID != "" {
		m[metaDataset] = meta.DatasetID
	}
	if meta.FileIndex != 0 {
		m[metaFileIndex] = strconv.Itoa(meta.FileIndex)
	}
	if meta.ClonedFrom != "" {
		m[metaClonedFrom] = meta.ClonedFrom
	}
	return m
}

func decodeMeta(m map[string]string) (*datec.BlobMeta, error) {
	meta := &datec.BlobMeta{
		Type:       datec.BlobType(m[metaType]),
		OwnerID:    m[metaOwner],
		DatasetID:  m[metaDataset],
		ClonedFrom: m[metaClonedFrom],
		MimeType:   m[metaMimeType],
	}

	var err error
	if meta.Filename, err = url.QueryUnescape(m[metaFilename]); err != nil {
		return nil, fmt.Errorf("filename: %w", err)
	}
	if v := m[metaFileIndex]; v != "" {
		if meta.FileIndex, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("file index: %w", err)
		}
	}
	if v := m[metaSize]; v != "" {
		if meta.Size, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("size: %w", err)
		}
	}
	if v := m[metaUploadedAt]; v != "" {
		if meta.UploadedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("uploaded at: %w", err)
		}
	}
	return meta, nil
}

var _ datec.BlobStore = (*S3Store)(nil)
