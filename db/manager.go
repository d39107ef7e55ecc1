package db

import (
	"context"
	"fmt"

	"socialfeed/config"
	"socialfeed/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"
)

// Manager owns the gorm handle and routes reads to replicas when they are
// configured.
type Manager struct {
	orm        *gorm.DB
	replicated bool
}

func dsnFromConfig(dbConf config.DBConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		dbConf.Host, dbConf.Port, dbConf.User, dbConf.Password, dbConf.DBName, dbConf.SSLMode,
	)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
			NoLowerCase:   false,
		},
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	}
}

// Connect opens the master database and registers replicas for reads.
func Connect(conf config.DatabasesConfig) (*Manager, error) {
	var dialector gorm.Dialector
	switch conf.Driver {
	case "postgres":
		if conf.Host == "" {
			return nil, fmt.Errorf("master database configuration is missing")
		}
		dialector = postgres.Open(dsnFromConfig(conf.DBConfig))
	case "sqlite":
		dialector = sqlite.Open(conf.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", conf.Driver)
	}

	orm, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	m := &Manager{orm: orm}
	if conf.Driver == "postgres" && len(conf.Replicas) > 0 {
		replicas := make([]gorm.Dialector, 0, len(conf.Replicas))
		for _, r := range conf.Replicas {
			if r.User == "" {
				r.User, r.Password = conf.User, conf.Password
			}
			if r.DBName == "" {
				r.DBName = conf.DBName
			}
			if r.SSLMode == "" {
				r.SSLMode = conf.SSLMode
			}
			replicas = append(replicas, postgres.Open(dsnFromConfig(r)))
		}
		err = orm.Use(dbresolver.Register(dbresolver.Config{
			Replicas: replicas,
			Policy:   dbresolver.RandomPolicy{},
		}))
		if err != nil {
			return nil, fmt.Errorf("failed to register replicas: %w", err)
		}
		m.replicated = true
	}
	return m, nil
}

// NewManager wraps an already opened handle, e.g. an in-memory sqlite in tests.
func NewManager(orm *gorm.DB) *Manager {
	return &Manager{orm: orm}
}

// Migrate creates the schema for every durable entity.
func (m *Manager) Migrate() error {
	if err := m.orm.AutoMigrate(
		&models.User{},
		&models.Post{},
		&models.Follow{},
		&models.Like{},
		&models.Comment{},
		&models.Notification{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return EnsureIndexes(m.orm)
}

// Read returns a handle for queries that tolerate replica lag.
func (m *Manager) Read(ctx context.Context) *gorm.DB {
	if m.replicated {
		return m.orm.WithContext(ctx).Clauses(dbresolver.Read)
	}
	return m.orm.WithContext(ctx)
}

// Write returns a handle pinned to the master.
func (m *Manager) Write(ctx context.Context) *gorm.DB {
	if m.replicated {
		return m.orm.WithContext(ctx).Clauses(dbresolver.Write)
	}
	return m.orm.WithContext(ctx)
}

func (m *Manager) Close() error {
	sqlDB, err := m.orm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
