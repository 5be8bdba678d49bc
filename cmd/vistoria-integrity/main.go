// vistoria-integrity runs the protected-identity integrity check on a
// schedule, outside the API server, so drift is repaired even when nobody
// is calling the management endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vistoriahq/vistoria/pkg/audit"
	"github.com/vistoriahq/vistoria/pkg/auth"
	"github.com/vistoriahq/vistoria/pkg/integrity"
	"github.com/vistoriahq/vistoria/pkg/observability"
	"github.com/vistoriahq/vistoria/pkg/orgs"
	"github.com/vistoriahq/vistoria/pkg/storage/postgres"
)

type fileConfig struct {
	Database struct {
		URL      string `yaml:"url"`
		MaxConns int    `yaml:"max_conns"`
	} `yaml:"database"`

	Protected struct {
		ActorID        string `yaml:"actor_id"`
		Email          string `yaml:"email"`
		OrganizationID int64  `yaml:"organization_id"`
		Reason         string `yaml:"reason"`
	} `yaml:"protected"`

	// Standard five-field cron expression.
	Schedule string `yaml:"schedule"`

	// When false the job only reports drift and never writes.
	AutoFix bool `yaml:"auto_fix"`

	RunOnce  bool   `yaml:"run_once"`
	LogLevel string `yaml:"log_level"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &fileConfig{Schedule: "*/5 * * * *", AutoFix: true, LogLevel: "info"}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is required")
	}
	if cfg.Protected.ActorID == "" || cfg.Protected.Email == "" {
		return nil, fmt.Errorf("protected.actor_id and protected.email are required")
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "/etc/vistoria/integrity.yaml", "Path to the job configuration file")
	runOnce := flag.Bool("once", false, "Run a single check and exit")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := loadFileConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	actorID, err := uuid.Parse(cfg.Protected.ActorID)
	if err != nil {
		log.WithError(err).Fatal("Invalid protected actor id")
	}
	protected := auth.ProtectedIdentity{
		ID:             actorID,
		Email:          cfg.Protected.Email,
		OrganizationID: cfg.Protected.OrganizationID,
	}

	db, err := postgres.Connect(postgres.ConnectionConfig{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize audit storage")
	}

	checker := integrity.NewChecker(
		db, protected, cfg.Protected.Reason,
		orgs.NewPostgresService(db),
		syncRecorder{auditLogger},
		observability.NewLogger(observability.ErrorLevel, io.Discard),
		nil,
	)

	job := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		runCheck(ctx, log, checker, cfg.AutoFix)
	}

	if cfg.RunOnce || *runOnce {
		job()
		return
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Schedule, job); err != nil {
		log.WithError(err).Fatal("Invalid schedule")
	}
	log.WithField("schedule", cfg.Schedule).Info("Integrity job scheduled")
	scheduler.Run()
}

func runCheck(ctx context.Context, log *logrus.Logger, checker *integrity.Checker, autoFix bool) {
	report, err := checker.CheckIntegrity(ctx)
	if err != nil {
		log.WithError(err).Error("Integrity check failed")
		return
	}

	entry := log.WithField("status", string(report.Status))
	if report.Status == integrity.StatusOK {
		entry.Info("Protected identity healthy")
		return
	}
	entry.WithField("details", report.Details).Warn("Protected identity drifted")

	if !autoFix {
		return
	}
	result, err := checker.AutoFix(ctx, uuid.Nil)
	if err != nil {
		log.WithError(err).Error("Auto-fix failed")
		return
	}
	log.WithField("action", string(result.Action)).Info("Auto-fix complete")
}

// syncRecorder adapts the database writer to the recorder interface; a
// batch job has no response path to protect, so everything writes inline.
type syncRecorder struct {
	writer *audit.DBLogger
}

func (s syncRecorder) Record(ctx context.Context, event *audit.Event) error {
	return s.writer.Record(ctx, event)
}

func (s syncRecorder) RecordAsync(event *audit.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.writer.Record(ctx, event); err != nil {
		logrus.WithError(err).Error("Failed to record audit event")
	}
}
