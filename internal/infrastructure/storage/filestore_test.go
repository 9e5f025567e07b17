package storage

import (
	"context"
	"testing"

	"github.com/coverloop/coverloop/internal/domain/export"
)

func TestFileStore_SaveAndGetDocument(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()

	att := export.Attachment{Name: "policy.pdf", ContentType: "application/pdf", Content: []byte("pdf-bytes")}
	id, err := s.SaveDocument(ctx, "quote-1", att)
	if err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated document id")
	}

	got, err := s.GetDocument(ctx, "quote-1", id)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.Name != att.Name || got.ContentType != att.ContentType || string(got.Content) != string(att.Content) {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// Documents are scoped per quote.
	if _, err := s.GetDocument(ctx, "quote-2", id); err == nil {
		t.Error("expected miss for another quote")
	}
}

func TestFileStore_FilesAndUploads(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()

	if err := s.SaveFile(ctx, "terms", export.Attachment{Name: "terms.html", ContentType: "text/html", Content: []byte("<p/>")}); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}
	file, err := s.GetFile(ctx, "terms")
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if file.Name != "terms.html" {
		t.Errorf("unexpected file %+v", file)
	}

	if err := s.SaveUpload(ctx, "quote-1", "drivingLicence", export.Attachment{Name: "licence.jpg", ContentType: "image/jpeg", Content: []byte{1, 2}}); err != nil {
		t.Fatalf("SaveUpload failed: %v", err)
	}
	upload, err := s.GetUpload(ctx, "quote-1", "drivingLicence")
	if err != nil {
		t.Fatalf("GetUpload failed: %v", err)
	}
	if upload.ContentType != "image/jpeg" {
		t.Errorf("unexpected upload %+v", upload)
	}
}

func TestFileStore_RejectsTraversal(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if _, err := s.GetFile(context.Background(), "../../etc/passwd"); err == nil {
		t.Error("expected traversal to be rejected")
	}
	if _, err := s.GetUpload(context.Background(), "quote-1", ""); err == nil {
		t.Error("expected empty field name to be rejected")
	}
}
