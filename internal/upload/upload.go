// Package upload publishes zipped diffoscope reports to S3.
package upload

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// ZipDirectory packs dir into a zip archive in the system temp directory and
// returns the archive path.
func ZipDirectory(dir string) (string, error) {
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return "", fmt.Errorf("not a directory: %s", dir)
	}

	zipPath := filepath.Join(os.TempDir(), filepath.Base(dir)+".zip")
	out, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", zipPath, err)
	}

	zw := zip.NewWriter(out)
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		_ = zw.Close()
		_ = out.Close()
		_ = os.Remove(zipPath)
		return "", fmt.Errorf("zipping %s: %w", dir, err)
	}

	if err := zw.Close(); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("finalizing %s: %w", zipPath, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", zipPath, err)
	}
	return zipPath, nil
}

// S3Uploader uploads result archives to a public-read S3 bucket.
type S3Uploader struct {
	Log    *zap.Logger
	Bucket string
	Region string
}

// Upload sends the file at path to the configured bucket and returns its
// public URL, or empty on any failure. Failures are logged, never fatal: an
// unreproducible verdict without a report URL is still a verdict.
func (u *S3Uploader) Upload(path string) string {
	if u.Bucket == "" {
		u.Log.Error("No AWS S3 bucket name is set. Use AWS_S3_BUCKET_NAME environment variable")
		return ""
	}

	f, err := os.Open(path)
	if err != nil {
		u.Log.Error("The file to upload does not exist", zap.String("path", path), zap.Error(err))
		return ""
	}
	defer f.Close()

	ctx := context.Background()
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(u.Region))
	if err != nil {
		u.Log.Error("Failed to load AWS configuration", zap.Error(err))
		return ""
	}

	key := filepath.Base(path)
	client := s3.NewFromConfig(cfg)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &u.Bucket,
		Key:    &key,
		Body:   f,
		ACL:    s3types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		u.Log.Error("Failed to upload file", zap.Error(err))
		return ""
	}

	if u.Region != "" && u.Region != "us-east-1" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.Bucket, u.Region, url.PathEscape(key))
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", u.Bucket, url.PathEscape(key))
}
