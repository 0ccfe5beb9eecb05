package fileio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"
)

type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// S3FileIO stores a table under Prefix of an S3 bucket. Credentials are read
// from the environment.
type S3FileIO struct {
	cfg        S3Config
	client     *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
}

func NewS3FileIO(cfg S3Config) (*S3FileIO, error) {
	s3Config := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewEnvCredentials(),
	}
	if cfg.Endpoint != "" {
		s3Config.Endpoint = aws.String(cfg.Endpoint)
		s3Config.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}
	return &S3FileIO{
		cfg:        cfg,
		client:     s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
	}, nil
}

func (f *S3FileIO) key(p string) string {
	return path.Join(f.cfg.Prefix, p)
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

func (f *S3FileIO) ReadFile(ctx context.Context, p string) ([]byte, error) {
	buf := &aws.WriteAtBuffer{}
	s := time.Now()
	_, err := f.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(f.cfg.Bucket),
		Key:    aws.String(f.key(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, p)
		}
		return nil, fmt.Errorf("error downloading from s3: %w", err)
	}
	logrus.WithFields(logrus.Fields{"file": p, "duration": time.Since(s)}).Debug("downloaded file from s3")
	return buf.Bytes(), nil
}

// WriteFile without overwrite checks for the key before uploading. S3 has no
// conditional put here, so two writers racing on the same key can both win;
// commits are expected to be serialized by the caller.
func (f *S3FileIO) WriteFile(ctx context.Context, p string, data []byte, overwrite bool) error {
	if !overwrite {
		exists, err := f.Exists(ctx, p)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrExist, p)
		}
	}
	s := time.Now()
	_, err := f.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(f.cfg.Bucket),
		Key:    aws.String(f.key(p)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("error uploading to s3: %w", err)
	}
	logrus.WithFields(logrus.Fields{"file": p, "duration": time.Since(s)}).Debug("uploaded file to s3")
	return nil
}

func (f *S3FileIO) Exists(ctx context.Context, p string) (bool, error) {
	_, err := f.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.cfg.Bucket),
		Key:    aws.String(f.key(p)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("error in HeadObject: %w", err)
}

func (f *S3FileIO) Delete(ctx context.Context, p string) error {
	_, err := f.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.cfg.Bucket),
		Key:    aws.String(f.key(p)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("error in DeleteObject: %w", err)
	}
	return nil
}

func (f *S3FileIO) List(ctx context.Context, dir string) ([]string, error) {
	prefix := strings.TrimSuffix(f.key(dir), "/") + "/"
	var names []string
	err := f.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(f.cfg.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.StringValue(obj.Key), prefix))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("error in ListObjectsV2: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
