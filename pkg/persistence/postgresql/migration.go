package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id TEXT PRIMARY KEY,
				workflow_type TEXT NOT NULL,
				status TEXT NOT NULL,
				input_data JSONB NOT NULL DEFAULT '{}',
				output_data JSONB,
				initiator_id TEXT NOT NULL,
				initiator_type TEXT NOT NULL,
				tenant_id TEXT NOT NULL,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				version BIGINT NOT NULL DEFAULT 1,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows (status);
			CREATE INDEX IF NOT EXISTS idx_workflows_type ON workflows (workflow_type);
			CREATE INDEX IF NOT EXISTS idx_workflows_tenant ON workflows (tenant_id);
			CREATE INDEX IF NOT EXISTS idx_workflows_created_at ON workflows (created_at);

			CREATE TABLE IF NOT EXISTS workflow_steps (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflows (id) ON DELETE CASCADE,
				step_order INTEGER NOT NULL,
				step_name TEXT NOT NULL,
				step_type TEXT NOT NULL,
				target_system TEXT NOT NULL,
				status TEXT NOT NULL,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 0,
				output JSONB,
				error_message TEXT,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (workflow_id, step_order)
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_steps_workflow ON workflow_steps (workflow_id);
		`,
	}
}
