// Package storage persists files, generated documents and customer uploads
// on the local filesystem. Each stored object is one JSON document carrying
// the attachment's name, content type and content.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"

	"github.com/coverloop/coverloop/internal/domain/export"
)

const (
	filesDir     = "files"
	quotesDir    = "quotes"
	documentsDir = "documents"
	uploadsDir   = "uploads"
)

// storedAttachment is the on-disk form of an attachment. Content is
// base64-encoded by encoding/json.
type storedAttachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// FileStore is a filesystem-backed implementation of the engine's file
// store port.
type FileStore struct {
	root        string
	retryConfig retry.Config
}

// NewFileStore creates a store rooted at the given directory.
func NewFileStore(root string) *FileStore {
	return &FileStore{
		root: root,
		retryConfig: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  10 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
	}
}

// resolvePath joins path elements under the root and rejects traversal out
// of it.
func (s *FileStore) resolvePath(elem ...string) (string, error) {
	for _, e := range elem {
		if e == "" {
			return "", fmt.Errorf("path element cannot be empty")
		}
	}
	cleanRoot := filepath.Clean(s.root)
	fullPath := filepath.Clean(filepath.Join(append([]string{cleanRoot}, elem...)...))
	if !strings.HasPrefix(fullPath, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage path: %s", filepath.Join(elem...))
	}
	return fullPath, nil
}

func (s *FileStore) read(ctx context.Context, elem ...string) (export.Attachment, error) {
	path, err := s.resolvePath(elem...)
	if err != nil {
		return export.Attachment{}, err
	}

	retryer := retry.New[export.Attachment](s.retryConfig)
	return retryer.Do(ctx, func(ctx context.Context) (export.Attachment, error) {
		// #nosec G304 -- path is resolved and validated via resolvePath
		data, err := os.ReadFile(path)
		if err != nil {
			return export.Attachment{}, fmt.Errorf("read stored attachment: %w", err)
		}
		var stored storedAttachment
		if err := json.Unmarshal(data, &stored); err != nil {
			return export.Attachment{}, fmt.Errorf("unmarshal stored attachment: %w", err)
		}
		return export.Attachment{
			Name:        stored.Name,
			ContentType: stored.ContentType,
			Content:     stored.Content,
		}, nil
	})
}

func (s *FileStore) write(att export.Attachment, elem ...string) error {
	path, err := s.resolvePath(elem...)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}
	data, err := json.Marshal(storedAttachment{
		Name:        att.Name,
		ContentType: att.ContentType,
		Content:     att.Content,
	})
	if err != nil {
		return fmt.Errorf("marshal stored attachment: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// GetFile returns a product-level stored file by id.
func (s *FileStore) GetFile(ctx context.Context, fileID string) (export.Attachment, error) {
	return s.read(ctx, filesDir, fileID+".json")
}

// GetDocument returns a document previously generated for the quote.
func (s *FileStore) GetDocument(ctx context.Context, quoteID, documentID string) (export.Attachment, error) {
	return s.read(ctx, quotesDir, quoteID, documentsDir, documentID+".json")
}

// GetUpload returns a customer upload referenced by a form field.
func (s *FileStore) GetUpload(ctx context.Context, quoteID, fieldName string) (export.Attachment, error) {
	return s.read(ctx, quotesDir, quoteID, uploadsDir, fieldName+".json")
}

// SaveDocument stores a generated document against the quote and returns
// its new id.
func (s *FileStore) SaveDocument(ctx context.Context, quoteID string, att export.Attachment) (string, error) {
	documentID := uuid.NewString()
	if err := s.write(att, quotesDir, quoteID, documentsDir, documentID+".json"); err != nil {
		return "", err
	}
	return documentID, nil
}

// SaveFile stores a product-level file under the given id, overwriting any
// previous version.
func (s *FileStore) SaveFile(ctx context.Context, fileID string, att export.Attachment) error {
	return s.write(att, filesDir, fileID+".json")
}

// SaveUpload stores a customer upload for a form field.
func (s *FileStore) SaveUpload(ctx context.Context, quoteID, fieldName string, att export.Attachment) error {
	return s.write(att, quotesDir, quoteID, uploadsDir, fieldName+".json")
}
