package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gynlab/gynlab/internal/platform/notification"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "storage:\n" +
		"  db_path: " + filepath.Join(dir, "clinic.db") + "\n" +
		"  backups_dir: " + filepath.Join(dir, "backups") + "\n" +
		"log:\n  level: error\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

type result struct {
	code           int
	stdout, stderr string
}

func runCLI(t *testing.T, cfgPath string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), append([]string{"--config", cfgPath}, args...), &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func TestRun_ConfigShowSkipsStorage(t *testing.T) {
	cfg := writeTestConfig(t)
	res := runCLI(t, cfg, "config", "show")
	if res.code != exitOK {
		t.Fatalf("exit %d, stderr %q", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, "payment_methods:") {
		t.Errorf("expected YAML output, got %q", res.stdout)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(cfg), "clinic.db")); !os.IsNotExist(err) {
		t.Error("config show must not create the database")
	}
}

func TestRun_MissingConfigFile(t *testing.T) {
	res := runCLI(t, filepath.Join(t.TempDir(), "absent.yaml"), "dashboard")
	if res.code != exitInternal {
		t.Errorf("expected exit %d, got %d", exitInternal, res.code)
	}
	if !strings.HasPrefix(res.stderr, "error: ") {
		t.Errorf("expected an error line, got %q", res.stderr)
	}
}

func TestRun_PatientExitCodes(t *testing.T) {
	cfg := writeTestConfig(t)

	res := runCLI(t, cfg, "patient", "add", "--national-id", "12ab", "--first", "Ana", "--last", "Pérez")
	if res.code != exitValidation {
		t.Fatalf("expected validation exit, got %d (%q)", res.code, res.stderr)
	}
	if !strings.Contains(res.stderr, "national_id") {
		t.Errorf("expected the field in the message, got %q", res.stderr)
	}

	res = runCLI(t, cfg, "patient", "add", "--national-id", "12345678", "--first", "Ana", "--last", "Pérez")
	if res.code != exitOK {
		t.Fatalf("add: exit %d, stderr %q", res.code, res.stderr)
	}
	if id := strings.TrimSpace(res.stdout); len(id) != 36 {
		t.Errorf("expected a uuid on stdout, got %q", res.stdout)
	}

	res = runCLI(t, cfg, "patient", "add", "--national-id", "12345678", "--first", "Eva", "--last", "Gómez")
	if res.code != exitConflict {
		t.Errorf("expected conflict exit, got %d (%q)", res.code, res.stderr)
	}

	res = runCLI(t, cfg, "patient", "get", "not-an-id")
	if res.code != exitValidation {
		t.Errorf("expected validation exit for a bad id, got %d", res.code)
	}
}

func TestRun_StudyFlow(t *testing.T) {
	cfg := writeTestConfig(t)

	res := runCLI(t, cfg, "patient", "add", "--national-id", "12345678", "--first", "Ana", "--last", "Pérez")
	if res.code != exitOK {
		t.Fatalf("patient add: %q", res.stderr)
	}
	patientID := strings.TrimSpace(res.stdout)

	res = runCLI(t, cfg, "visit", "add", "--patient", patientID, "--payment", "efectivo", "--cytology", "PAP", "--reason", "control")
	if res.code != exitOK {
		t.Fatalf("visit add: exit %d, stderr %q", res.code, res.stderr)
	}
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected visit id, header and one study, got %q", res.stdout)
	}
	studyID := strings.Fields(lines[2])[0]

	res = runCLI(t, cfg, "study", "advance", studyID, "sent")
	if res.code != exitValidation {
		t.Fatalf("advance without center: expected validation exit, got %d", res.code)
	}

	res = runCLI(t, cfg, "study", "assign-center", "--center", "Lab Central", studyID)
	if res.code != exitOK {
		t.Fatalf("assign-center: exit %d, stderr %q", res.code, res.stderr)
	}
	if !strings.Contains(res.stderr, "Histology center Lab Central created.") {
		t.Errorf("expected center-created notice, got %q", res.stderr)
	}

	res = runCLI(t, cfg, "study", "advance", studyID, "enviado")
	if res.code != exitOK {
		t.Fatalf("advance: exit %d, stderr %q", res.code, res.stderr)
	}
	if !strings.Contains(res.stderr, "Study is now sent.") {
		t.Errorf("unexpected notice %q", res.stderr)
	}

	res = runCLI(t, cfg, "study", "toggle", "sent", studyID)
	if res.code != exitOK {
		t.Fatalf("toggle: exit %d, stderr %q", res.code, res.stderr)
	}
	if !strings.Contains(res.stderr, "Cleared sent, paid, received, delivered; study is now ordered.") {
		t.Errorf("expected retraction notice, got %q", res.stderr)
	}

	res = runCLI(t, cfg, "study", "result", studyID, "negative")
	if res.code != exitValidation {
		t.Errorf("result on an ordered study: expected validation exit, got %d", res.code)
	}

	res = runCLI(t, cfg, "study", "list", "--query", "pérez")
	if res.code != exitOK {
		t.Fatalf("list: %q", res.stderr)
	}
	if !strings.Contains(res.stdout, studyID) || !strings.Contains(res.stdout, "Lab Central") {
		t.Errorf("expected the study in the list, got %q", res.stdout)
	}

	res = runCLI(t, cfg, "study", "history", studyID)
	if res.code != exitOK {
		t.Fatalf("history: %q", res.stderr)
	}
	if got := strings.Count(res.stdout, "\n"); got != 5 {
		t.Errorf("expected header and 4 events, got %d lines: %q", got, res.stdout)
	}

	res = runCLI(t, cfg, "dashboard")
	if res.code != exitOK {
		t.Fatalf("dashboard: %q", res.stderr)
	}
	if !strings.Contains(res.stdout, "ordered") {
		t.Errorf("expected pending counts, got %q", res.stdout)
	}

	res = runCLI(t, cfg, "patient", "delete", patientID)
	if res.code != exitValidation {
		t.Errorf("deleting a patient with visits: expected validation exit, got %d", res.code)
	}
}

func TestRun_Backup(t *testing.T) {
	cfg := writeTestConfig(t)
	target := t.TempDir()

	res := runCLI(t, cfg, "backup", "--to", target)
	if res.code != exitOK {
		t.Fatalf("backup: exit %d, stderr %q", res.code, res.stderr)
	}
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected local and remote paths, got %q", res.stdout)
	}
	if _, err := os.Stat(lines[1]); err != nil {
		t.Errorf("copied snapshot missing: %v", err)
	}
}

func TestSend_UnknownTemplateIsAnError(t *testing.T) {
	rec := &notification.Recorder{}
	c := &cli{notifier: rec, templates: notification.NewTemplateEngine()}

	if err := c.send("center-creatd", map[string]string{"center": "Lab"}); err == nil {
		t.Fatal("expected an error for an unknown template")
	}
	if len(rec.Entries()) != 0 {
		t.Errorf("nothing should be delivered, got %v", rec.Entries())
	}

	if err := c.send("center-created", map[string]string{"center": "Lab"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := rec.Entries(); len(got) != 1 || got[0].Msg != "Histology center Lab created." {
		t.Errorf("unexpected notifications %v", got)
	}
}

func TestRun_StudyListOffset(t *testing.T) {
	cfg := writeTestConfig(t)
	res := runCLI(t, cfg, "patient", "add", "--national-id", "12345678", "--first", "Ana", "--last", "Pérez")
	if res.code != exitOK {
		t.Fatalf("patient add: %q", res.stderr)
	}
	patientID := strings.TrimSpace(res.stdout)
	res = runCLI(t, cfg, "visit", "add", "--patient", patientID, "--payment", "efectivo",
		"--cytology", "PAP", "--cytology", "MD", "--cytology", "MI")
	if res.code != exitOK {
		t.Fatalf("visit add: %q", res.stderr)
	}

	res = runCLI(t, cfg, "study", "list", "--limit", "2")
	if res.code != exitOK {
		t.Fatalf("list: %q", res.stderr)
	}
	if got := strings.Count(res.stdout, "\n"); got != 3 {
		t.Errorf("expected header and 2 rows, got %q", res.stdout)
	}
	if !strings.Contains(res.stderr, "rerun with --offset 2") {
		t.Errorf("expected a next-page hint, got %q", res.stderr)
	}

	res = runCLI(t, cfg, "study", "list", "--limit", "2", "--offset", "2")
	if res.code != exitOK {
		t.Fatalf("list: %q", res.stderr)
	}
	if got := strings.Count(res.stdout, "\n"); got != 2 {
		t.Errorf("expected header and the last row, got %q", res.stdout)
	}
	if strings.Contains(res.stderr, "--offset") {
		t.Errorf("a short page must not hint at more rows, got %q", res.stderr)
	}
}
