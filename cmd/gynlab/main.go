package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gynlab/gynlab/internal/app"
	"github.com/gynlab/gynlab/internal/config"
	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/notification"
)

// Exit codes by error kind.
const (
	exitOK         = 0
	exitInternal   = 1
	exitValidation = 2
	exitConflict   = 3
)

// Command annotations read by the root pre-run hook.
const (
	annotationNoApp     = "gynlab/no-app"
	annotationNoMigrate = "gynlab/no-migrate"
)

// cli carries the per-invocation state shared by every command.
type cli struct {
	configPath string
	out        io.Writer
	errOut     io.Writer
	now        func() time.Time

	cfg       *config.Config
	logger    zerolog.Logger
	notifier  notification.Notifier
	templates *notification.TemplateEngine
	app       *app.App
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{
		out:       stdout,
		errOut:    stderr,
		now:       time.Now,
		logger:    zerolog.Nop(),
		notifier:  notification.NewWriterNotifier(stderr),
		templates: notification.NewTemplateEngine(),
	}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if c.app != nil {
		c.app.Close()
	}
	if err == nil {
		return exitOK
	}
	return exitCode(notification.Report(c.notifier, err))
}

func exitCode(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return exitValidation
	case apperr.KindConflict:
		return exitConflict
	default:
		return exitInternal
	}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gynlab",
		Short:         "Patients, visits and laboratory studies of a gynecology clinic",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to the YAML configuration (default "+config.DefaultPath+")")

	root.AddCommand(
		c.migrateCmd(),
		c.patientCmd(),
		c.visitCmd(),
		c.studyCmd(),
		c.centerCmd(),
		c.dashboardCmd(),
		c.backupCmd(),
		c.configCmd(),
	)
	return root
}

// setup loads the configuration, builds the logger and, unless the command
// opts out, opens the application.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = newLogger(cfg.Log, c.errOut)
	if cfg.Log.Format == "json" {
		c.notifier = notification.Multi(c.notifier, notification.LogNotifier{Logger: c.logger})
	}

	if hasAnnotation(cmd, annotationNoApp) {
		return nil
	}
	a, err := app.Open(cmd.Context(), cfg, c.logger, app.Options{
		AutoMigrate: !cfg.IsPostgres() && !hasAnnotation(cmd, annotationNoMigrate),
		Now:         c.now,
	})
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

// send delivers a notification template to the operator.
func (c *cli) send(templateID string, data map[string]string) error {
	if err := c.templates.Send(c.notifier, templateID, data); err != nil {
		return fmt.Errorf("notify %s: %w", templateID, err)
	}
	return nil
}

func hasAnnotation(cmd *cobra.Command, key string) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		if cmd.Annotations[key] == "true" {
			return true
		}
	}
	return false
}

// newLogger follows log.level and log.format. Console output is meant for a
// terminal, json for collection.
func newLogger(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(w)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime, NoColor: true})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
