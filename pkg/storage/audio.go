// Package storage keeps narration audio in a Supabase Storage bucket.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	storage_go "github.com/supabase-community/storage-go"
	supabase "github.com/supabase-community/supabase-go"
)

// Config holds configuration required to reach the audio bucket.
type Config struct {
	// SupabaseURL is the project URL, e.g. "https://[project-ref].supabase.co".
	SupabaseURL string

	// SupabaseKey must be a service_role key; uploads and deletes need it.
	SupabaseKey string

	// Bucket is a public bucket holding the mp3 files.
	Bucket string
}

// AudioBucket uploads and removes narration files.
type AudioBucket struct {
	sdk          *supabase.Client
	bucket       string
	publicPrefix string

	// storage-go keeps upload headers (content type included) on the
	// client's transport, so uploads are serialized and deletes go through a
	// client that never uploads.
	mu      sync.Mutex
	deletes *storage_go.Client
}

// NewAudioBucket creates a bucket client.
func NewAudioBucket(cfg Config) (*AudioBucket, error) {
	if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
		return nil, fmt.Errorf("supabase URL and key are required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("audio bucket name is required")
	}

	sdk, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, nil)
	if err != nil {
		return nil, fmt.Errorf("initialize supabase SDK: %w", err)
	}

	b := &AudioBucket{
		sdk:    sdk,
		bucket: cfg.Bucket,
		deletes: storage_go.NewClient(strings.TrimRight(cfg.SupabaseURL, "/")+"/storage/v1", cfg.SupabaseKey,
			map[string]string{"apikey": cfg.SupabaseKey}),
	}
	b.publicPrefix = strings.TrimSuffix(sdk.Storage.GetPublicUrl(cfg.Bucket, "").SignedURL, "/") + "/"
	return b, nil
}

// Upload stores data under name and returns its public URL.
func (b *AudioBucket) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	upsert := false
	b.mu.Lock()
	_, err := b.sdk.Storage.UploadFile(b.bucket, name, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	b.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}

	return b.sdk.Storage.GetPublicUrl(b.bucket, name).SignedURL, nil
}

// Remove deletes the objects behind the given locators. Locators that do not
// point into this bucket are ignored.
func (b *AudioBucket) Remove(ctx context.Context, locators []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	paths := make([]string, 0, len(locators))
	for _, loc := range locators {
		if path, ok := b.ObjectPath(loc); ok {
			paths = append(paths, path)
		}
	}
	if len(paths) == 0 {
		return nil
	}

	if _, err := b.deletes.RemoveFile(b.bucket, paths); err != nil {
		return fmt.Errorf("remove %d audio files: %w", len(paths), err)
	}

	log.Printf("Storage: removed %d audio files from %s", len(paths), b.bucket)
	return nil
}

// ObjectPath maps a locator to its path inside the bucket. Bare names are
// taken as paths; URLs must carry the bucket's public prefix.
func (b *AudioBucket) ObjectPath(locator string) (string, bool) {
	switch {
	case locator == "":
		return "", false
	case strings.HasPrefix(locator, b.publicPrefix):
		return strings.TrimPrefix(locator, b.publicPrefix), true
	case strings.Contains(locator, "://"):
		return "", false
	default:
		return strings.TrimPrefix(locator, "/"), true
	}
}
