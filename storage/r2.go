package storage

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// R2Config holds configuration for Cloudflare R2 storage
type R2Config struct {
	AccessKey string
	SecretKey string
	AccountID string
	Bucket    string
	Endpoint  string
	Region    string
	BaseURL   string // Public URL prefix of the bucket, e.g. https://media.example.com
}

// Number of attempts for UploadFile retry loop
const maxUploadAttempts = 3

// R2Storage archives finished renders to an S3 compatible bucket
type R2Storage struct {
	config   R2Config
	session  *session.Session
	client   *s3.S3
	uploader *s3manager.Uploader

	retryDelay time.Duration
}

// NewR2Storage creates a new R2Storage instance
func NewR2Storage(config R2Config) (*R2Storage, error) {
	if config.Region == "" {
		config.Region = "auto"
	}

	// Create endpoint URL if AccountID is provided but full endpoint isn't
	if config.Endpoint == "" && config.AccountID != "" {
		config.Endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", config.AccountID)
	}

	sess, err := session.NewSession(&aws.Config{
		Credentials: credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, ""),
		Endpoint:    aws.String(config.Endpoint),
		Region:      aws.String(config.Region),
		// Force path style addressing for compatibility with S3 API
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %v", err)
	}

	// Renders can be large; upload parts one at a time to keep a single connection busy
	uploader := s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 1
	})

	return &R2Storage{
		config:     config,
		session:    sess,
		client:     s3.New(sess),
		uploader:   uploader,
		retryDelay: time.Second,
	}, nil
}

// ContentType maps an output file to the content type stored with it
func ContentType(localPath string) string {
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".mp4":
		return "video/mp4"
	case ".m3u", ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".json":
		return "application/json"
	case ".webp":
		return "image/webp"
	}
	return "application/octet-stream"
}

// ObjectKey is the bucket key of a job's output: renders/{camera}/{jobID}/{file}
func ObjectKey(camera, jobID, localPath string) string {
	return path.Join("renders", camera, jobID, filepath.Base(localPath))
}

// UploadFile uploads a file and returns its public URL
func (r *R2Storage) UploadFile(localPath, remotePath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %v", localPath, err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to get file info: %v", err)
	}

	metadata := map[string]*string{
		"OriginalFileName": aws.String(filepath.Base(localPath)),
		"UploadedAt":       aws.String(time.Now().Format(time.RFC3339)),
		"FileSize":         aws.String(fmt.Sprintf("%d", fileInfo.Size())),
	}

	log.Printf("[R2] Uploading %s (%.2f MB) to %s", localPath, float64(fileInfo.Size())/1024/1024, remotePath)

	var lastErr error
	for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
		// Ensure we start reading from the beginning each attempt
		if _, err := file.Seek(0, 0); err != nil {
			return "", fmt.Errorf("failed to seek to beginning of file: %v", err)
		}

		_, lastErr = r.uploader.Upload(&s3manager.UploadInput{
			Bucket:      aws.String(r.config.Bucket),
			Key:         aws.String(remotePath),
			Body:        file,
			ContentType: aws.String(ContentType(localPath)),
			Metadata:    metadata,
		})
		if lastErr == nil {
			break
		}

		log.Printf("[R2] Upload attempt %d/%d failed for %s: %v", attempt, maxUploadAttempts, localPath, lastErr)
		if attempt < maxUploadAttempts {
			// Exponential backoff: 2x, 4x the retry delay
			time.Sleep(time.Duration(1<<uint(attempt)) * r.retryDelay)
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("failed to upload file to R2 after %d attempts: %v", maxUploadAttempts, lastErr)
	}

	publicURL := r.PublicURL(remotePath)
	log.Printf("[R2] File uploaded successfully, public URL: %s", publicURL)
	return publicURL, nil
}

// DeleteObject deletes an object from the R2 bucket
func (r *R2Storage) DeleteObject(key string) error {
	_, err := r.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(r.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %v", err)
	}
	return nil
}

// GetBaseURL returns the base URL for the R2 bucket
func (r *R2Storage) GetBaseURL() string {
	if r.config.BaseURL != "" {
		return strings.TrimRight(r.config.BaseURL, "/")
	}
	return fmt.Sprintf("%s/%s", r.config.Endpoint, r.config.Bucket)
}

// PublicURL is the URL an object key is served from
func (r *R2Storage) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s", r.GetBaseURL(), key)
}

// KeyFromURL reverses PublicURL. ok is false for URLs of another bucket.
func (r *R2Storage) KeyFromURL(publicURL string) (string, bool) {
	prefix := r.GetBaseURL() + "/"
	if !strings.HasPrefix(publicURL, prefix) {
		return "", false
	}
	return strings.TrimPrefix(publicURL, prefix), true
}
