package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create definitions table
			CREATE TABLE definitions (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				schedule VARCHAR(255) NOT NULL DEFAULT '',
				variables JSONB NOT NULL DEFAULT '{}',
				steps JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_definitions_created_at ON definitions(created_at);
		`,
		2: `
			-- Executions, node states and the append-only attempt log
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				definition_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('PENDING', 'RUNNING', 'COMPLETED', 'FAILED', 'STOPPED')),
				context JSONB NOT NULL DEFAULT '{}',
				parallelism INT NOT NULL,
				dry_run BOOLEAN NOT NULL DEFAULT false,
				error_message TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_definition_id ON executions(definition_id);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_created_at ON executions(created_at);

			CREATE TABLE node_states (
				execution_id VARCHAR(255) NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				retry_count INT NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				error_kind VARCHAR(50) NOT NULL DEFAULT '',
				warning TEXT NOT NULL DEFAULT '',
				skip_kind VARCHAR(50) NOT NULL DEFAULT '',
				skip_reason TEXT NOT NULL DEFAULT '',
				forced BOOLEAN NOT NULL DEFAULT false,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (execution_id, node_id)
			);

			CREATE TABLE attempts (
				id VARCHAR(26) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				attempt_number INT NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				duration_ms BIGINT NOT NULL,
				backoff_ms BIGINT NOT NULL DEFAULT 0,
				status VARCHAR(50) NOT NULL,
				error_kind VARCHAR(50) NOT NULL DEFAULT '',
				error_detail TEXT NOT NULL DEFAULT '',
				output JSONB,
				dry_run BOOLEAN NOT NULL DEFAULT false
			);

			CREATE INDEX idx_attempts_execution_id ON attempts(execution_id);
			CREATE UNIQUE INDEX idx_attempts_node_number ON attempts(execution_id, node_id, attempt_number, id);
		`,
	}
}
