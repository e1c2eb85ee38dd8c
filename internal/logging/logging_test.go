package logging

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewOperationErrorKeepsNil(t *testing.T) {
	if err := NewOperationError("op", "id", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorFormatsAndUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := NewOperationError("repository.get", "abc", cause)

	if got := err.Error(); got != "repository.get (face_id=abc): boom" {
		t.Fatalf("unexpected message: %s", got)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the cause")
	}

	bare := NewOperationError("repository.list", "", cause)
	if got := bare.Error(); got != "repository.list: boom" {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}
}

func TestGinMiddlewareLogsStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(GinMiddleware(zap.New(core)))
	router.GET("/missing", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/missing", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %s", entries[0].Level)
	}
	if status := entries[0].ContextMap()["status"]; status != int64(http.StatusNotFound) {
		t.Fatalf("unexpected status field: %v", status)
	}
}
