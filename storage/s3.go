package storage

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

const maxUploadAttempts = 3

// S3Config holds credentials for the S3-compatible bucket videos are
// delivered to.
type S3Config struct {
	AccessKey string
	SecretKey string
	Endpoint  string
	Region    string
	Bucket    string
	BaseURL   string // public URL prefix, defaults to endpoint/bucket
}

// S3Storage uploads finished videos to object storage.
type S3Storage struct {
	config   S3Config
	session  *session.Session
	uploader *s3manager.Uploader
}

// NewS3Storage creates a new S3 storage client.
func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	awsCfg := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %v", err)
	}

	uploader := s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 1
		u.LeavePartsOnError = false
	})

	return &S3Storage{config: cfg, session: sess, uploader: uploader}, nil
}

// ObjectKey builds the bucket key for a delivered video:
// {user_id}/{date}/{filename}.
func ObjectKey(userID, date, filename string) string {
	return fmt.Sprintf("%s/%s/%s", userID, date, filename)
}

// UploadFile uploads a local file under the given key and returns its public
// URL. Transient failures are retried with exponential backoff.
func (s *S3Storage) UploadFile(localPath, key string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxUploadAttempts; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<uint(attempt)) * time.Second
			log.Printf("☁️ UPLOAD: retry %d/%d for %s in %v", attempt+1, maxUploadAttempts, key, wait)
			time.Sleep(wait)
		}
		if err := s.upload(localPath, key); err != nil {
			lastErr = err
			continue
		}
		return s.PublicURL(key), nil
	}
	return "", fmt.Errorf("upload of %s failed after %d attempts: %v", key, maxUploadAttempts, lastErr)
}

func (s *S3Storage) upload(localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %v", localPath, err)
	}
	defer file.Close()

	fi, err := file.Stat()
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = s.uploader.Upload(&s3manager.UploadInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentTypeFor(localPath)),
	})
	if err != nil {
		return fmt.Errorf("upload of %s failed: %v", key, err)
	}

	log.Printf("☁️ UPLOAD: %s (%d MB) in %v", key, fi.Size()/(1024*1024), time.Since(start).Round(time.Second))
	return nil
}

// Exists checks whether a key is already present in the bucket.
func (s *S3Storage) Exists(key string) (bool, error) {
	svc := s3.New(s.session)
	_, err := svc.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PublicURL returns the public URL of an uploaded key.
func (s *S3Storage) PublicURL(key string) string {
	base := s.config.BaseURL
	if base == "" {
		base = fmt.Sprintf("%s/%s", strings.TrimSuffix(s.config.Endpoint, "/"), s.config.Bucket)
	}
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(base, "/"), key)
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
