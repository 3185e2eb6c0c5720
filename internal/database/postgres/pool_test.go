package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/photo-grouper/internal/config"
)

func TestNewPool_RequiresURL(t *testing.T) {
	if _, err := NewPool(context.Background(), &config.DatabaseConfig{}); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := Open(context.Background(), nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestNewPool_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPool(ctx, &config.DatabaseConfig{
		URL:          "postgres://nobody@127.0.0.1:1/none?sslmode=disable",
		MaxOpenConns: 1,
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
