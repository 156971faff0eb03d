// Package redis provides Redis persistence for definitions and executions.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence"
	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	definitionsKey = "playbook:definitions"
	executionsKey  = "playbook:executions"
)

func nodesKey(executionID string) string {
	return "playbook:execution:" + executionID + ":nodes"
}

func attemptsKey(executionID string) string {
	return "playbook:execution:" + executionID + ":attempts"
}

func attemptIDsKey(executionID string) string {
	return "playbook:execution:" + executionID + ":attempt_ids"
}

// Persistence stores definitions and executions in Redis hashes, with one list per execution
// for the attempt log.
type Persistence struct {
	client redis.UniversalClient
	logger *slog.Logger
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence connects to the Redis server at redisURL (redis://[:password@]host:port/db).
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return &Persistence{client: client, logger: logger}, nil
}

// NewPersistenceWithClient wraps an existing client.
func NewPersistenceWithClient(client redis.UniversalClient, logger *slog.Logger) *Persistence {
	return &Persistence{client: client, logger: logger}
}

// Close closes the client.
func (p *Persistence) Close(_ context.Context) error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}

// HealthCheck pings the server.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// Definitions returns all definitions ordered by creation time.
func (p *Persistence) Definitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	values, err := p.client.HVals(ctx, definitionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(values))

	for _, value := range values {
		var definition models.WorkflowDefinition
		if err := json.Unmarshal([]byte(value), &definition); err != nil {
			return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
		}

		definitions = append(definitions, &definition)
	}

	sort.SliceStable(definitions, func(i, j int) bool {
		return definitions[i].CreatedAt.Before(definitions[j].CreatedAt)
	})

	return definitions, nil
}

// SaveDefinition stores a definition, stamping its timestamps.
func (p *Persistence) SaveDefinition(ctx context.Context, definition *models.WorkflowDefinition) error {
	now := time.Now().UTC()
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	data, err := json.Marshal(definition)
	if err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	if err := p.client.HSet(ctx, definitionsKey, definition.ID, data).Err(); err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	return nil
}

// LoadDefinition loads a definition by id.
func (p *Persistence) LoadDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	value, err := p.client.HGet(ctx, definitionsKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.NewDefinitionError("Load", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewDefinitionError("Load", id, err)
	}

	var definition models.WorkflowDefinition
	if err := json.Unmarshal([]byte(value), &definition); err != nil {
		return nil, persistence.NewDefinitionError("Load", id, err)
	}

	return &definition, nil
}

// DeleteDefinition removes a definition.
func (p *Persistence) DeleteDefinition(ctx context.Context, id string) error {
	removed, err := p.client.HDel(ctx, definitionsKey, id).Result()
	if err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	if removed == 0 {
		return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
	}

	return nil
}

// SaveExecution stores the execution record.
func (p *Persistence) SaveExecution(ctx context.Context, execution *models.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	if err := p.client.HSet(ctx, executionsKey, execution.ID, data).Err(); err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	return nil
}

// SaveNodeState overwrites the state of one node.
func (p *Persistence) SaveNodeState(ctx context.Context, executionID string, state *models.NodeState) error {
	if err := p.exists(ctx, executionID); err != nil {
		return persistence.NewNodeError("SaveNodeState", executionID, state.NodeID, err)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return persistence.NewNodeError("SaveNodeState", executionID, state.NodeID, err)
	}

	if err := p.client.HSet(ctx, nodesKey(executionID), state.NodeID, data).Err(); err != nil {
		return persistence.NewNodeError("SaveNodeState", executionID, state.NodeID, err)
	}

	return nil
}

// AppendAttempt pushes an attempt onto the execution's log. The id set guards against duplicates.
func (p *Persistence) AppendAttempt(ctx context.Context, executionID string, attempt *models.Attempt) error {
	if err := p.exists(ctx, executionID); err != nil {
		return persistence.NewNodeError("AppendAttempt", executionID, attempt.NodeID, err)
	}

	data, err := json.Marshal(attempt)
	if err != nil {
		return persistence.NewNodeError("AppendAttempt", executionID, attempt.NodeID, err)
	}

	added, err := p.client.SAdd(ctx, attemptIDsKey(executionID), attempt.ID).Result()
	if err != nil {
		return persistence.NewNodeError("AppendAttempt", executionID, attempt.NodeID, err)
	}

	if added == 0 {
		return persistence.NewNodeError("AppendAttempt", executionID, attempt.NodeID, persistence.ErrAttemptExists)
	}

	if err := p.client.RPush(ctx, attemptsKey(executionID), data).Err(); err != nil {
		return persistence.NewNodeError("AppendAttempt", executionID, attempt.NodeID, err)
	}

	return nil
}

// LoadExecutionSnapshot reads the execution, its nodes and its attempts in one MULTI block.
func (p *Persistence) LoadExecutionSnapshot(ctx context.Context, executionID string) (*models.ExecutionSnapshot, error) {
	var (
		executionCmd *redis.StringCmd
		nodesCmd     *redis.StringSliceCmd
		attemptsCmd  *redis.StringSliceCmd
	)

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		executionCmd = pipe.HGet(ctx, executionsKey, executionID)
		nodesCmd = pipe.HVals(ctx, nodesKey(executionID))
		attemptsCmd = pipe.LRange(ctx, attemptsKey(executionID), 0, -1)

		return nil
	})
	if errors.Is(err, redis.Nil) || errors.Is(executionCmd.Err(), redis.Nil) {
		return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, err)
	}

	var execution models.Execution
	if err := json.Unmarshal([]byte(executionCmd.Val()), &execution); err != nil {
		return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, err)
	}

	snapshot := &models.ExecutionSnapshot{Execution: &execution}

	for _, value := range nodesCmd.Val() {
		var state models.NodeState
		if err := json.Unmarshal([]byte(value), &state); err != nil {
			return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, err)
		}

		snapshot.Nodes = append(snapshot.Nodes, &state)
	}

	sort.SliceStable(snapshot.Nodes, func(i, j int) bool { return snapshot.Nodes[i].NodeID < snapshot.Nodes[j].NodeID })

	for _, value := range attemptsCmd.Val() {
		var attempt models.Attempt
		if err := json.Unmarshal([]byte(value), &attempt); err != nil {
			return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, err)
		}

		snapshot.Attempts = append(snapshot.Attempts, &attempt)
	}

	return snapshot, nil
}

// Executions lists executions of a definition, newest first. An empty id lists all.
func (p *Persistence) Executions(ctx context.Context, definitionID string) ([]*models.Execution, error) {
	values, err := p.client.HVals(ctx, executionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions := make([]*models.Execution, 0, len(values))

	for _, value := range values {
		var execution models.Execution
		if err := json.Unmarshal([]byte(value), &execution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}

		if definitionID != "" && execution.DefinitionID != definitionID {
			continue
		}

		executions = append(executions, &execution)
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	return executions, nil
}

func (p *Persistence) exists(ctx context.Context, executionID string) error {
	ok, err := p.client.HExists(ctx, executionsKey, executionID).Result()
	if err != nil {
		return err
	}

	if !ok {
		return persistence.ErrExecutionNotFound
	}

	return nil
}
