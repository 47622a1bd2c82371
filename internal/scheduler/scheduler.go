package scheduler

import (
	"errors"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jinsol/smsledger/internal/configdoc"
	"github.com/jinsol/smsledger/internal/inbox"
	"github.com/jinsol/smsledger/internal/models"
	"github.com/jinsol/smsledger/internal/provider"
)

// MessageSource supplies raw messages for periodic import. Implementations
// are expected to return only messages not yet delivered; re-delivery is
// harmless since import is keyed by message id.
type MessageSource interface {
	Fetch() ([]models.SMSMessage, error)
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	scheduler  gocron.Scheduler
	registry   *provider.Registry
	triage     *inbox.Triage
	source     MessageSource
	configPath string
	timezone   *time.Location
}

// Config holds scheduler configuration
type Config struct {
	Timezone   string
	ConfigPath string
	// Source is optional; without one the import job is not registered.
	Source MessageSource
}

// New creates a new scheduler
func New(registry *provider.Registry, triage *inbox.Triage, cfg Config) (*Scheduler, error) {
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		tz = time.UTC
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(tz))
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		scheduler:  s,
		registry:   registry,
		triage:     triage,
		source:     cfg.Source,
		configPath: cfg.ConfigPath,
		timezone:   tz,
	}, nil
}

// Start starts the scheduler and registers all jobs
func (s *Scheduler) Start() error {
	// Re-check the provider configuration document every hour
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(s.reloadConfig),
		gocron.WithName("config-reload"),
	)
	if err != nil {
		return err
	}

	if s.source != nil {
		_, err = s.scheduler.NewJob(
			gocron.DurationJob(5*time.Minute),
			gocron.NewTask(s.importMessages),
			gocron.WithName("message-import"),
		)
		if err != nil {
			return err
		}
	}

	s.scheduler.Start()
	log.Println("Scheduler started")
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Scheduler) reloadConfig() {
	doc, err := configdoc.Load(s.configPath)
	if err != nil {
		log.Printf("Config reload: loading document: %v", err)
		return
	}

	err = s.registry.LoadAll(doc)
	if errors.Is(err, provider.ErrVersionNotNewer) {
		return
	}
	if err != nil {
		log.Printf("Config reload failed: %v", err)
		return
	}

	log.Printf("Config reloaded, version %s", doc.Version)
}

func (s *Scheduler) importMessages() {
	messages, err := s.source.Fetch()
	if err != nil {
		log.Printf("Message import: fetch failed: %v", err)
		return
	}
	if len(messages) == 0 {
		return
	}

	imported, parsed, err := s.triage.Import(messages)
	if err != nil {
		log.Printf("Message import failed: %v", err)
		return
	}
	log.Printf("Imported %d messages, %d parsed", imported, parsed)
}

// ImportNow runs one fetch-and-import cycle immediately (for testing)
func (s *Scheduler) ImportNow() {
	s.importMessages()
}

// ReloadNow runs one config reload cycle immediately (for testing)
func (s *Scheduler) ReloadNow() {
	s.reloadConfig()
}
