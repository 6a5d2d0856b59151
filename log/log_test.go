package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestInitAndLevels(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", JSONOutput: true, Output: &buf})

	logger := Get()
	logger.Info("should be suppressed")
	if buf.Len() != 0 {
		t.Fatalf("info log leaked through at warn level: %q", buf.String())
	}

	logger.Warning("heads up")
	if !strings.Contains(buf.String(), "heads up") {
		t.Fatalf("expected warning message in output, got %q", buf.String())
	}
}

func TestAuditErrMarksAudit(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", JSONOutput: true, Output: &buf})

	Get().AuditErr(fmtError("signing failed"))
	out := buf.String()
	if !strings.Contains(out, `"audit":true`) {
		t.Fatalf("expected audit field in output, got %q", out)
	}
	if !strings.Contains(out, "signing failed") {
		t.Fatalf("expected error message in output, got %q", out)
	}
}

func TestWithAddsField(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", JSONOutput: true, Output: &buf})

	Get().With("certfp", "ABCDEF").Info("enrolled")
	if !strings.Contains(buf.String(), `"certfp":"ABCDEF"`) {
		t.Fatalf("expected certfp field in output, got %q", buf.String())
	}
}

type fmtError string

func (e fmtError) Error() string { return string(e) }
