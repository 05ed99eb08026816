// Package notification delivers operator-facing messages: warnings after a
// bulk operation, errors reported by a command, summaries of the dashboard.
package notification

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gynlab/gynlab/internal/platform/apperr"
)

// ---------------------------------------------------------------------------
// Levels
// ---------------------------------------------------------------------------

// Level is the severity of a notification.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ---------------------------------------------------------------------------
// Notifier
// ---------------------------------------------------------------------------

// Notifier is the sink the clinic core reports to.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// LogNotifier writes notifications as structured log events.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Info(msg string)  { n.Logger.Info().Str("channel", "notification").Msg(msg) }
func (n LogNotifier) Warn(msg string)  { n.Logger.Warn().Str("channel", "notification").Msg(msg) }
func (n LogNotifier) Error(msg string) { n.Logger.Error().Str("channel", "notification").Msg(msg) }

// WriterNotifier prints one line per notification, prefixed with the level
// for anything above info.
type WriterNotifier struct {
	mu sync.Mutex
	W  io.Writer
}

// NewWriterNotifier returns a notifier printing to w.
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{W: w}
}

func (n *WriterNotifier) Info(msg string)  { n.write(LevelInfo, msg) }
func (n *WriterNotifier) Warn(msg string)  { n.write(LevelWarn, msg) }
func (n *WriterNotifier) Error(msg string) { n.write(LevelError, msg) }

func (n *WriterNotifier) write(level Level, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if level == LevelInfo {
		fmt.Fprintln(n.W, msg)
		return
	}
	fmt.Fprintf(n.W, "%s: %s\n", level, msg)
}

// Multi fans a notification out to every notifier.
func Multi(notifiers ...Notifier) Notifier {
	return multi(notifiers)
}

type multi []Notifier

func (m multi) Info(msg string) {
	for _, n := range m {
		n.Info(msg)
	}
}

func (m multi) Warn(msg string) {
	for _, n := range m {
		n.Warn(msg)
	}
}

func (m multi) Error(msg string) {
	for _, n := range m {
		n.Error(msg)
	}
}

// ---------------------------------------------------------------------------
// Recorder (test double)
// ---------------------------------------------------------------------------

// Entry is one recorded notification.
type Entry struct {
	Level Level
	Msg   string
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Info(msg string)  { r.add(LevelInfo, msg) }
func (r *Recorder) Warn(msg string)  { r.add(LevelWarn, msg) }
func (r *Recorder) Error(msg string) { r.add(LevelError, msg) }

func (r *Recorder) add(level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Msg: msg})
}

// Entries returns a copy of the recorded notifications.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// ---------------------------------------------------------------------------
// Error reporting
// ---------------------------------------------------------------------------

// Report sends err to n at the level its kind calls for and returns the kind.
// Validation and conflict errors are the operator's to fix and go out as
// warnings; anything else is an error.
func Report(n Notifier, err error) apperr.Kind {
	if err == nil {
		return apperr.KindInternal
	}
	kind := apperr.Classify(err)
	msg := Message(err)
	switch kind {
	case apperr.KindValidation, apperr.KindConflict:
		n.Warn(msg)
	default:
		n.Error(msg)
	}
	return kind
}

// Message renders err for an operator.
func Message(err error) string {
	var bulk *apperr.BulkError
	if errors.As(err, &bulk) {
		lines := make([]string, 0, len(bulk.Rows)+1)
		lines = append(lines, fmt.Sprintf("%s failed for %d row(s):", bulk.Op, len(bulk.Rows)))
		for _, r := range bulk.Rows {
			lines = append(lines, fmt.Sprintf("  %s: %s", r.ID, Message(r.Err)))
		}
		return strings.Join(lines, "\n")
	}
	var conflict *apperr.ConflictError
	if errors.As(err, &conflict) {
		return fmt.Sprintf("%s (the record already exists or is still referenced)", conflict.Msg)
	}
	return err.Error()
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// Template is a reusable message with {{key}} placeholders.
type Template struct {
	ID    string
	Level Level
	Body  string
}

// TemplateEngine renders registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:    "center-overwritten",
			Level: LevelWarn,
			Body:  "{{count}} study(ies) already had a different center and now point to {{center}}: {{ids}}",
		},
		{
			ID:    "center-created",
			Level: LevelInfo,
			Body:  "Histology center {{center}} created.",
		},
		{
			ID:    "studies-overdue",
			Level: LevelWarn,
			Body:  "{{count}} study(ies) sent more than {{days}} days ago still have no result.",
		},
		{
			ID:    "state-retracted",
			Level: LevelInfo,
			Body:  "Cleared {{states}}; study is now {{state}}.",
		},
		{
			ID:    "state-overridden",
			Level: LevelWarn,
			Body:  "Study {{id}} forced to {{state}}; timestamps may be inconsistent.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render performs {{key}} replacement. Keys absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (Level, string, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return LevelInfo, "", fmt.Errorf("template %q not found", templateID)
	}

	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return t.Level, body, nil
}

// Send renders templateID and delivers it to n at the template's level.
func (e *TemplateEngine) Send(n Notifier, templateID string, data map[string]string) error {
	level, body, err := e.Render(templateID, data)
	if err != nil {
		return err
	}
	switch level {
	case LevelWarn:
		n.Warn(body)
	case LevelError:
		n.Error(body)
	default:
		n.Info(body)
	}
	return nil
}
