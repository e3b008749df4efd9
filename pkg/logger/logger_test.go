package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestInitAndLevels(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(&buf); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	ctx := context.Background()
	l := Get()
	if l == nil {
		t.Fatal("logger is nil after initialization")
	}

	l.Debug(ctx, "hidden at info")
	if strings.Contains(buf.String(), "hidden at info") {
		t.Fatal("debug line emitted at info level")
	}

	if err := SetLevelString("debug"); err != nil {
		t.Fatalf("SetLevelString(debug): %v", err)
	}
	l.Debug(ctx, "visible at debug", String("k", "v"))
	if !strings.Contains(buf.String(), "visible at debug") {
		t.Fatal("debug line missing after lowering level")
	}

	if err := SetLevelString("nope"); err == nil {
		t.Fatal("expected error for unknown level name")
	}
}

func TestNamedCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(&buf); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	Named("detector").Info(context.Background(), "scan done", Int("shocks", 3))

	out := buf.String()
	if !strings.Contains(out, "component=detector") {
		t.Fatalf("component tag missing from output: %s", out)
	}
	if !strings.Contains(out, "shocks=3") {
		t.Fatalf("field missing from output: %s", out)
	}
}
