package runtime

import (
	"context"
	"testing"

	"github.com/ahandley/textline/internal/config"
	"github.com/ahandley/textline/internal/domain"
)

type staticGenerator struct{}

func (staticGenerator) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	return &domain.GenerationResult{Content: "ok"}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestNew_MissingDependencies(t *testing.T) {
	cfg := testConfig(t)

	tests := []struct {
		name string
		opts []Option
	}{
		{name: "no config", opts: []Option{WithMemoryCache()}},
		{name: "no cache", opts: []Option{WithConfig(cfg)}},
		{
			name: "no generator",
			opts: []Option{
				WithConfig(cfg),
				WithMemoryCache(),
				WithSQLiteStore("file:runtime_nogen?mode=memory&cache=shared"),
				WithRecordingMessenger(),
			},
		},
		{
			name: "no messenger",
			opts: []Option{
				WithConfig(cfg),
				WithMemoryCache(),
				WithSQLiteStore("file:runtime_nomsg?mode=memory&cache=shared"),
				WithGenerator(staticGenerator{}),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts...); err == nil {
				t.Error("New() succeeded with a missing dependency")
			}
		})
	}
}

func TestNew_WiresFullGraph(t *testing.T) {
	app, err := New(
		WithConfig(testConfig(t)),
		WithMemoryCache(),
		WithSQLiteStore("file:runtime_full?mode=memory&cache=shared"),
		WithGenerator(staticGenerator{}),
		WithRecordingMessenger(),
		WithMemoryBlobs(),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if app.Pipeline() == nil {
		t.Error("pipeline not wired")
	}
	if app.Gateway() == nil {
		t.Error("gateway not wired")
	}
	if app.Router() == nil {
		t.Error("server not wired")
	}
	if app.extractor == nil {
		t.Error("extractor not wired despite a blob store")
	}
}

func TestNew_ExtractionOptional(t *testing.T) {
	app, err := New(
		WithConfig(testConfig(t)),
		WithMemoryCache(),
		WithSQLiteStore("file:runtime_noblob?mode=memory&cache=shared"),
		WithGenerator(staticGenerator{}),
		WithRecordingMessenger(),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if app.extractor != nil {
		t.Error("extractor wired without a blob store")
	}
}
