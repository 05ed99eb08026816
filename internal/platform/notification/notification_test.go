package notification

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gynlab/gynlab/internal/platform/apperr"
)

// ---------------------------------------------------------------------------
// Report Tests
// ---------------------------------------------------------------------------

func TestReport_Levels(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  apperr.Kind
		wantLevel Level
	}{
		{"validation", apperr.Validation("center required"), apperr.KindValidation, LevelWarn},
		{"conflict", apperr.Conflict("patient already registered", errors.New("UNIQUE")), apperr.KindConflict, LevelWarn},
		{"internal", errors.New("disk I/O error"), apperr.KindInternal, LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Recorder{}
			if got := Report(rec, tt.err); got != tt.wantKind {
				t.Errorf("Report() kind = %v, want %v", got, tt.wantKind)
			}
			entries := rec.Entries()
			if len(entries) != 1 {
				t.Fatalf("expected 1 entry, got %d", len(entries))
			}
			if entries[0].Level != tt.wantLevel {
				t.Errorf("level = %v, want %v", entries[0].Level, tt.wantLevel)
			}
		})
	}
}

func TestMessage_Conflict(t *testing.T) {
	msg := Message(apperr.Conflict("national id 12345 already registered", errors.New("UNIQUE constraint failed")))
	if !strings.HasPrefix(msg, "national id 12345 already registered") {
		t.Errorf("unexpected message %q", msg)
	}
	if strings.Contains(msg, "UNIQUE") {
		t.Errorf("driver detail must not reach the operator: %q", msg)
	}
}

func TestMessage_Bulk(t *testing.T) {
	err := &apperr.BulkError{Op: "assign center", Rows: []apperr.RowError{
		{ID: "s1", Err: apperr.NotFound("study", "s1")},
	}}
	msg := Message(err)
	if !strings.Contains(msg, "assign center failed for 1 row(s):") || !strings.Contains(msg, "s1: study s1 not found") {
		t.Errorf("unexpected message %q", msg)
	}
}

// ---------------------------------------------------------------------------
// Notifier Tests
// ---------------------------------------------------------------------------

func TestWriterNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewWriterNotifier(&buf)
	n.Info("done")
	n.Warn("careful")
	n.Error("broken")
	want := "done\nwarn: careful\nerror: broken\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Logger: zerolog.New(&buf)}
	n.Warn("overdue")
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"message":"overdue"`) {
		t.Errorf("unexpected log line %q", out)
	}
}

func TestMulti(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Multi(a, b).Error("x")
	if len(a.Entries()) != 1 || len(b.Entries()) != 1 {
		t.Error("expected both notifiers to receive the message")
	}
}

// ---------------------------------------------------------------------------
// Template Engine Tests
// ---------------------------------------------------------------------------

func TestTemplateEngine_Send(t *testing.T) {
	eng := NewTemplateEngine()
	rec := &Recorder{}
	err := eng.Send(rec, "center-overwritten", map[string]string{
		"count":  "2",
		"center": "Lab Central",
		"ids":    "a, b",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries := rec.Entries()
	if len(entries) != 1 || entries[0].Level != LevelWarn {
		t.Fatalf("unexpected entries %+v", entries)
	}
	want := "2 study(ies) already had a different center and now point to Lab Central: a, b"
	if entries[0].Msg != want {
		t.Errorf("msg = %q, want %q", entries[0].Msg, want)
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	eng := NewTemplateEngine()
	if _, _, err := eng.Render("nonexistent", nil); err == nil {
		t.Fatal("expected error for missing template, got nil")
	}
}

func TestTemplateEngine_LeavesUnknownKeys(t *testing.T) {
	eng := NewTemplateEngine()
	eng.RegisterTemplate(Template{ID: "t", Body: "{{a}} and {{b}}"})
	_, body, err := eng.Render("t", map[string]string{"a": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "x and {{b}}" {
		t.Errorf("body = %q", body)
	}
}
