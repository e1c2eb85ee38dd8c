package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "faces/a.jpg", want: "faces/a.jpg"},
		{key: "/faces//a.jpg", want: "faces/a.jpg"},
		{key: "faces/../a.jpg", want: "a.jpg"},
		{key: "../etc/passwd", wantErr: true},
		{key: "", wantErr: true},
		{key: "/", wantErr: true},
	}
	for _, tt := range tests {
		got, err := CleanKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Fatalf("CleanKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("CleanKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestContentType(t *testing.T) {
	if ct := ContentType("faces/a.png"); ct != "image/png" {
		t.Fatalf("unexpected content type: %s", ct)
	}
	if ct := ContentType("faces/a"); ct != "application/octet-stream" {
		t.Fatalf("unexpected content type: %s", ct)
	}
}

func TestDiskStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewDiskStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new disk storage: %v", err)
	}

	n, err := store.Save(ctx, "faces/one.jpg", strings.NewReader("pixels"), "image/jpeg")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if n != 6 {
		t.Fatalf("expected 6 bytes written, got %d", n)
	}

	rc, err := store.Open(ctx, "faces/one.jpg")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "pixels" {
		t.Fatalf("unexpected content: %q", data)
	}

	if err := store.Delete(ctx, "faces/one.jpg"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Open(ctx, "faces/one.jpg"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist after delete, got %v", err)
	}
	if err := store.Delete(ctx, "faces/one.jpg"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist on second delete, got %v", err)
	}
}

func TestDiskStorageRejectsEscapingKeys(t *testing.T) {
	store, err := NewDiskStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new disk storage: %v", err)
	}
	if _, err := store.Save(context.Background(), "../outside.jpg", strings.NewReader("x"), ""); err == nil {
		t.Fatal("expected error for escaping key")
	}
}

type stubS3 struct {
	s3iface.S3API
	objects map[string][]byte
	deleted []string
}

func (s *stubS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	data, ok := s.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "not found", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (s *stubS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	s.deleted = append(s.deleted, aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3StorageUsesPrefixedKeys(t *testing.T) {
	client := &stubS3{objects: map[string][]byte{"media/uploads/faces/a.jpg": []byte("jpeg")}}
	store := NewS3StorageWithClient(client, S3Options{Bucket: "media", Prefix: "/uploads/"})
	ctx := context.Background()

	rc, err := store.Open(ctx, "faces/a.jpg")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "jpeg" {
		t.Fatalf("unexpected content: %q", data)
	}

	if _, err := store.Open(ctx, "faces/missing.jpg"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}

	if err := store.Delete(ctx, "faces/a.jpg"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(client.deleted) != 1 || client.deleted[0] != "media/uploads/faces/a.jpg" {
		t.Fatalf("unexpected deletes: %v", client.deleted)
	}
}
