// internal/app/stores.go
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"upskill/internal/catalog"
	"upskill/internal/config"
	"upskill/internal/enrollment"
	"upskill/internal/eventstore"
	"upskill/internal/ledger"
	"upskill/internal/membership"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Stores bundles the persistence backends selected by STORE_DRIVER.
type Stores struct {
	Ledger  ledger.Ledger
	Index   enrollment.Index
	Courses catalog.Service
	Users   membership.Service
	Events  *eventstore.EventStore

	db *sqlx.DB
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// OpenStores connects the configured backends, migrating them when
// AUTO_MIGRATE is set.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	var ledgerOpts []ledger.Option
	if cfg.DuplicateCheckout > 0 {
		ledgerOpts = append(ledgerOpts, ledger.WithDuplicateWindow(cfg.DuplicateCheckout))
	}

	if cfg.StoreDriver == config.DriverMemory {
		log.Printf("[app] using in-memory stores")
		return &Stores{
			Ledger:  ledger.NewMemoryLedger(ledgerOpts...),
			Index:   enrollment.NewMemoryIndex(),
			Courses: catalog.NewMemoryService(),
			Users:   membership.NewMemoryService(),
		}, nil
	}

	db, err := sqlx.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	es := eventstore.NewEventStore(db.DB)
	s := &Stores{
		Ledger:  ledger.NewPostgresLedger(db, es, ledgerOpts...),
		Index:   enrollment.NewPostgresIndex(db),
		Courses: catalog.NewService(es, db),
		Users:   membership.NewService(db),
		Events:  es,
		db:      db,
	}

	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	log.Printf("[app] using postgres stores")
	return s, nil
}

// Migrate creates every table, event store first.
func (s *Stores) Migrate(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	candidates := []interface{}{s.Events, s.Ledger, s.Index, s.Courses, s.Users}
	for _, c := range candidates {
		m, ok := c.(migrator)
		if !ok {
			continue
		}
		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate %T: %w", c, err)
		}
	}
	return nil
}

// Health pings the database, if any.
func (s *Stores) Health(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

func (s *Stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
