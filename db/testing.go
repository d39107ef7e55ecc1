package db

import (
	"fmt"
	"sync/atomic"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

var memSeq atomic.Int64

func memoryDSN() string {
	return fmt.Sprintf("file:socialfeed_%d?mode=memory&cache=shared&_foreign_keys=0", memSeq.Add(1))
}

func openMemory(dsn string) (*Manager, error) {
	orm, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	sqlDB, err := orm.DB()
	if err != nil {
		return nil, err
	}
	// A single connection keeps the shared-cache database alive and avoids
	// table lock errors between concurrent goroutines.
	sqlDB.SetMaxOpenConns(1)
	m := NewManager(orm)
	if err := m.Migrate(); err != nil {
		return nil, err
	}
	return m, nil
}

// OpenMemory opens a private in-memory sqlite database with the full schema.
// Each call gets its own database.
func OpenMemory() (*Manager, error) {
	return openMemory(memoryDSN())
}

// OpenMemoryWithReplica returns a master whose Read handle goes to a separate
// in-memory replica that never receives the master's writes, i.e. a replica
// that has not caught up yet. The replica manager gives direct access to it.
func OpenMemoryWithReplica() (master, replica *Manager, err error) {
	replicaDSN := memoryDSN()
	if replica, err = openMemory(replicaDSN); err != nil {
		return nil, nil, err
	}
	if master, err = openMemory(memoryDSN()); err != nil {
		_ = replica.Close()
		return nil, nil, err
	}
	err = master.orm.Use(dbresolver.Register(dbresolver.Config{
		Replicas: []gorm.Dialector{sqlite.Open(replicaDSN)},
	}).SetMaxOpenConns(1))
	if err != nil {
		_ = master.Close()
		_ = replica.Close()
		return nil, nil, fmt.Errorf("failed to register replica: %w", err)
	}
	master.replicated = true
	return master, replica, nil
}
