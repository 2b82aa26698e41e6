package sqlite

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/common"
	"github.com/ternarybob/prospect/internal/interfaces"
)

// Manager implements the StorageManager interface
type Manager struct {
	db             *SQLiteDB
	job            interfaces.JobStorage
	result         interfaces.ResultStorage
	classification interfaces.ClassificationStorage
	pattern        interfaces.PatternStorage
	confirmation   interfaces.ConfirmationStorage
	logger         arbor.ILogger
}

// NewManager creates a new SQLite storage manager
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (interfaces.StorageManager, error) {
	if logger == nil {
		logger = common.GetLogger()
	}

	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:             db,
		job:            NewJobStorage(db, logger),
		result:         NewResultStorage(db, logger),
		classification: NewClassificationStorage(db, logger),
		pattern:        NewPatternStorage(db, logger),
		confirmation:   NewConfirmationStorage(db, logger),
		logger:         logger,
	}, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// ResultStorage returns the Result storage interface
func (m *Manager) ResultStorage() interfaces.ResultStorage {
	return m.result
}

// ClassificationStorage returns the Classification storage interface
func (m *Manager) ClassificationStorage() interfaces.ClassificationStorage {
	return m.classification
}

// PatternStorage returns the Pattern storage interface
func (m *Manager) PatternStorage() interfaces.PatternStorage {
	return m.pattern
}

// ConfirmationStorage returns the Confirmation storage interface
func (m *Manager) ConfirmationStorage() interfaces.ConfirmationStorage {
	return m.confirmation
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
