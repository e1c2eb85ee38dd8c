package facepp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/example/faces-api/internal/detector"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Options{BaseURL: server.URL + "/", APIKey: "key", APISecret: "secret"}, zap.NewNop())
}

func TestDetectFacesSendsImageAndCredentials(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != detectPath {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.RawQuery != "" {
			t.Errorf("credentials leaked into query: %s", r.URL.RawQuery)
		}
		file, header, err := r.FormFile("image_file")
		if err != nil {
			t.Errorf("missing image_file: %v", err)
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		defer file.Close()
		if r.FormValue("api_key") != "key" || r.FormValue("api_secret") != "secret" {
			t.Errorf("missing credentials in form: %v", r.MultipartForm.Value)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "jpeg-bytes" || header.Filename != "me.jpg" {
			t.Errorf("unexpected upload %q %q", header.Filename, data)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"request_id":"r","faces":[{"face_token":"t1","face_rectangle":{"left":1,"top":2,"width":3,"height":4}}]}`))
	})

	faces, err := client.DetectFaces(context.Background(), "me.jpg", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(faces) != 1 || faces[0].Token() != "t1" {
		t.Fatalf("unexpected faces: %+v", faces)
	}
}

func TestDetectFacesEmptyArray(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"faces":[]}`))
	})

	faces, err := client.DetectFaces(context.Background(), "x.png", []byte("x"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if faces == nil || len(faces) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", faces)
	}
}

func TestDetectFacesMissingFacesField(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"request_id":"r"}`))
	})

	_, err := client.DetectFaces(context.Background(), "x.png", []byte("x"))
	var extErr *detector.ExternalServiceError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExternalServiceError, got %T (%v)", err, err)
	}
	if extErr.Operation != "detect" {
		t.Fatalf("unexpected operation: %s", extErr.Operation)
	}
}

func TestDetectFacesProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error_message":"AUTHENTICATION_ERROR"}`))
	})

	_, err := client.DetectFaces(context.Background(), "x.png", []byte("x"))
	var extErr *detector.ExternalServiceError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExternalServiceError, got %T", err)
	}
	if extErr.StatusCode != http.StatusForbidden || extErr.Err.Error() != "AUTHENTICATION_ERROR" {
		t.Fatalf("unexpected error: %+v", extErr)
	}
}

func TestCompareFacesReturnsRawDocument(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != comparePath {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("face_token1") != "a" || r.PostForm.Get("face_token2") != "b" {
			t.Errorf("unexpected tokens: %v", r.PostForm)
		}
		if r.PostForm.Get("api_key") != "key" || r.PostForm.Get("api_secret") != "secret" || r.URL.RawQuery != "" {
			t.Errorf("credentials not sent as form fields: %v %s", r.PostForm, r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"confidence":87.5,"thresholds":{"1e-3":62.3}}`))
	})

	cmp, err := client.CompareFaces(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	confidence, ok := cmp.Confidence()
	if !ok || confidence != 87.5 {
		t.Fatalf("unexpected confidence: %v %v", confidence, ok)
	}
}

func TestCompareFacesTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client := NewClient(Options{BaseURL: server.URL, APIKey: "k", APISecret: "s"}, zap.NewNop())

	_, err := client.CompareFaces(context.Background(), "a", "b")
	var extErr *detector.ExternalServiceError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExternalServiceError, got %T", err)
	}
}

func TestCompareFacesTransportErrorHidesSecret(t *testing.T) {
	client := NewClient(Options{BaseURL: "http://127.0.0.1:1", APIKey: "KEY123", APISecret: "SECRET456"}, zap.NewNop())

	_, err := client.CompareFaces(context.Background(), "a", "b")
	if err == nil {
		t.Fatal("expected connection error")
	}
	if strings.Contains(err.Error(), "SECRET456") || strings.Contains(err.Error(), "KEY123") {
		t.Fatalf("error exposes credentials: %v", err)
	}
}

func TestCompareFacesClientErrorReturnsDocument(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_message":"INVALID_FACE_TOKEN"}`))
	})

	cmp, err := client.CompareFaces(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("expected document, got error: %v", err)
	}
	if _, ok := cmp.Confidence(); ok {
		t.Fatalf("expected no confidence in %s", cmp)
	}
}

func TestCompareFacesServerErrorIsExternal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error_message":"INTERNAL_ERROR"}`))
	})

	_, err := client.CompareFaces(context.Background(), "a", "b")
	var extErr *detector.ExternalServiceError
	if !errors.As(err, &extErr) || extErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected ExternalServiceError with status 500, got %v", err)
	}
}

func TestCompareFacesClientErrorWithoutJSONIsExternal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	_, err := client.CompareFaces(context.Background(), "a", "b")
	var extErr *detector.ExternalServiceError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExternalServiceError, got %v", err)
	}
}
