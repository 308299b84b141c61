package reporting

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogReporterCapture(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReporter(slog.New(slog.NewTextHandler(&buf, nil)))

	r.Capture(context.Background(), errors.New("boom"), Report{
		Component: "orchestrator",
		Tags:      map[string]string{"job_id": "j1"},
		Extra:     map[string]any{"attempt": 2},
	})

	out := buf.String()
	for _, want := range []string{"component=orchestrator", "error=boom", "job_id=j1", "attempt=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %s", want, out)
		}
	}
}

func TestNewWithoutDSNFallsBackToLog(t *testing.T) {
	r, err := New(SentryConfig{}, slog.Default())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := r.(*LogReporter); !ok {
		t.Errorf("expected *LogReporter, got %T", r)
	}
}
