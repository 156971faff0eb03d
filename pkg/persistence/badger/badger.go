// Package badger provides embedded persistence on top of a Badger key-value store.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence"
	json "github.com/goccy/go-json"
)

const gcInterval = 5 * time.Minute

// Key layout:
//
//	def/<definition id>
//	exec/<execution id>
//	node/<execution id>/<node id>
//	attempt/<execution id>/<attempt id>
func definitionKey(id string) []byte { return []byte("def/" + id) }

func executionKey(id string) []byte { return []byte("exec/" + id) }

func nodePrefix(executionID string) []byte { return []byte("node/" + executionID + "/") }

func attemptPrefix(executionID string) []byte { return []byte("attempt/" + executionID + "/") }

// Persistence implements persistence.Persistence with Badger.
type Persistence struct {
	db     *badger.DB
	logger *slog.Logger
	stop   chan struct{}
	wg     sync.WaitGroup
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence opens the database at dir. An empty dir opens an in-memory store.
func NewPersistence(logger *slog.Logger, dir string) (*Persistence, error) {
	dir = strings.TrimPrefix(dir, "badger://")

	options := badger.DefaultOptions(dir).
		WithLogger(&badgerLogger{logger: logger.With("component", "badger")})
	if dir == "" {
		options = options.WithInMemory(true)
	}

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	p := &Persistence{db: db, logger: logger, stop: make(chan struct{})}

	if dir != "" {
		p.wg.Add(1)

		go p.runGarbageCollection()
	}

	return p, nil
}

// Close stops garbage collection and closes the database.
func (p *Persistence) Close(_ context.Context) error {
	close(p.stop)
	p.wg.Wait()

	if err := p.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	return nil
}

// HealthCheck reports whether the database is open.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if p.db.IsClosed() {
		return errors.New("badger database is closed")
	}

	return nil
}

// Definitions returns all definitions ordered by creation time.
func (p *Persistence) Definitions(_ context.Context) ([]*models.WorkflowDefinition, error) {
	definitions := make([]*models.WorkflowDefinition, 0)

	err := p.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte("def/"), func(value []byte) error {
			var definition models.WorkflowDefinition
			if err := json.Unmarshal(value, &definition); err != nil {
				return err
			}

			definitions = append(definitions, &definition)

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	sort.SliceStable(definitions, func(i, j int) bool {
		return definitions[i].CreatedAt.Before(definitions[j].CreatedAt)
	})

	return definitions, nil
}

// SaveDefinition stores a definition, stamping its timestamps.
func (p *Persistence) SaveDefinition(_ context.Context, definition *models.WorkflowDefinition) error {
	if err := persistence.ValidateID(definition.ID); err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	now := time.Now().UTC()
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	if err := p.put(definitionKey(definition.ID), definition); err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	return nil
}

// LoadDefinition loads a definition by id.
func (p *Persistence) LoadDefinition(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	var definition models.WorkflowDefinition

	err := p.db.View(func(txn *badger.Txn) error {
		return get(txn, definitionKey(id), &definition)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, persistence.NewDefinitionError("Load", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewDefinitionError("Load", id, err)
	}

	return &definition, nil
}

// DeleteDefinition removes a definition.
func (p *Persistence) DeleteDefinition(_ context.Context, id string) error {
	err := p.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(definitionKey(id)); err != nil {
			return err
		}

		return txn.Delete(definitionKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	return nil
}

// SaveExecution stores the execution record.
func (p *Persistence) SaveExecution(_ context.Context, execution *models.Execution) error {
	if err := persistence.ValidateID(execution.ID); err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	if err := p.put(executionKey(execution.ID), execution); err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	return nil
}

// SaveNodeState overwrites the state of one node.
func (p *Persistence) SaveNodeState(_ context.Context, executionID string, state *models.NodeState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return persistence.NewNodeError("SaveNodeState", executionID, state.NodeID, err)
	}

	err = p.db.Update(func(txn *badger.Txn) error {
		if err := requireExecution(txn, executionID); err != nil {
			return err
		}

		return txn.Set(append(nodePrefix(executionID), state.NodeID...), data)
	})
	if err != nil {
		return persistence.NewNodeError("SaveNodeState", executionID, state.NodeID, err)
	}

	return nil
}

// AppendAttempt stores an attempt under a key that sorts by attempt id.
func (p *Persistence) AppendAttempt(_ context.Context, executionID string, attempt *models.Attempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return persistence.NewNodeError("AppendAttempt", executionID, attempt.NodeID, err)
	}

	key := append(attemptPrefix(executionID), attempt.ID...)

	err = p.db.Update(func(txn *badger.Txn) error {
		if err := requireExecution(txn, executionID); err != nil {
			return err
		}

		if _, err := txn.Get(key); err == nil {
			return persistence.ErrAttemptExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		return txn.Set(key, data)
	})
	if err != nil {
		return persistence.NewNodeError("AppendAttempt", executionID, attempt.NodeID, err)
	}

	return nil
}

// LoadExecutionSnapshot reads everything about an execution from one read transaction.
func (p *Persistence) LoadExecutionSnapshot(_ context.Context, executionID string) (*models.ExecutionSnapshot, error) {
	snapshot := &models.ExecutionSnapshot{Execution: &models.Execution{}}

	err := p.db.View(func(txn *badger.Txn) error {
		if err := get(txn, executionKey(executionID), snapshot.Execution); err != nil {
			return err
		}

		err := scanPrefix(txn, nodePrefix(executionID), func(value []byte) error {
			var state models.NodeState
			if err := json.Unmarshal(value, &state); err != nil {
				return err
			}

			snapshot.Nodes = append(snapshot.Nodes, &state)

			return nil
		})
		if err != nil {
			return err
		}

		return scanPrefix(txn, attemptPrefix(executionID), func(value []byte) error {
			var attempt models.Attempt
			if err := json.Unmarshal(value, &attempt); err != nil {
				return err
			}

			snapshot.Attempts = append(snapshot.Attempts, &attempt)

			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, err)
	}

	return snapshot, nil
}

// Executions lists executions of a definition, newest first. An empty id lists all.
func (p *Persistence) Executions(_ context.Context, definitionID string) ([]*models.Execution, error) {
	executions := make([]*models.Execution, 0)

	err := p.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte("exec/"), func(value []byte) error {
			var execution models.Execution
			if err := json.Unmarshal(value, &execution); err != nil {
				return err
			}

			if definitionID == "" || execution.DefinitionID == definitionID {
				executions = append(executions, &execution)
			}

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	return executions, nil
}

func (p *Persistence) put(key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func requireExecution(txn *badger.Txn, executionID string) error {
	_, err := txn.Get(executionKey(executionID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return persistence.ErrExecutionNotFound
	}

	return err
}

func get(txn *badger.Txn, key []byte, target any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}

	return item.Value(func(value []byte) error {
		return json.Unmarshal(value, target)
	})
}

func scanPrefix(txn *badger.Txn, prefix []byte, fn func(value []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}

	return nil
}

func (p *Persistence) runGarbageCollection() {
	defer p.wg.Done()

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			lsm, vlog := p.db.Size()
			p.logger.Debug("running garbage collection", "lsm_size", lsm, "vlog_size", vlog)

			err := p.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				p.logger.Error("garbage collection failed", "error", err)
			}
		}
	}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(f string, v ...any) {
	l.logger.Error(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Warningf(f string, v ...any) {
	l.logger.Warn(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Infof(f string, v ...any) {
	l.logger.Debug(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Debugf(f string, v ...any) {
	l.logger.Debug(fmt.Sprintf(f, v...))
}
