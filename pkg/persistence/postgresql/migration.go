package postgresql

// migrations returns the ordered DDL applied by the migration manager.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_definitions (
				id TEXT PRIMARY KEY,
				slug TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				current_version_id TEXT NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE IF NOT EXISTS workflow_versions (
				id TEXT PRIMARY KEY,
				definition_id TEXT NOT NULL REFERENCES workflow_definitions(id),
				number INTEGER NOT NULL,
				status TEXT NOT NULL,
				nodes JSONB NOT NULL DEFAULT '{}',
				canvas JSONB,
				change_notes TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				archived_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (definition_id, number)
			);

			CREATE TABLE IF NOT EXISTS workflow_instances (
				id TEXT PRIMARY KEY,
				definition_id TEXT NOT NULL,
				version_id TEXT NOT NULL,
				entity_type TEXT NOT NULL DEFAULT '',
				entity_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				active_nodes JSONB NOT NULL DEFAULT '[]',
				context JSONB NOT NULL DEFAULT '{}',
				error_info JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_instances_entity
				ON workflow_instances (definition_id, entity_type, entity_id);
			CREATE INDEX IF NOT EXISTS idx_instances_status
				ON workflow_instances (status);

			CREATE TABLE IF NOT EXISTS execution_logs (
				id TEXT PRIMARY KEY,
				instance_id TEXT NOT NULL,
				node_id TEXT NOT NULL,
				node_type TEXT NOT NULL,
				status TEXT NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_execution_logs_instance
				ON execution_logs (instance_id, completed_at);

			CREATE TABLE IF NOT EXISTS approval_gates (
				id TEXT PRIMARY KEY,
				instance_id TEXT NOT NULL,
				node_id TEXT NOT NULL,
				approval_type TEXT NOT NULL,
				threshold JSONB NOT NULL DEFAULT '{}',
				approver_rule JSONB NOT NULL DEFAULT '{}',
				allow_delegation BOOLEAN NOT NULL DEFAULT FALSE,
				on_satisfied_transition TEXT NOT NULL DEFAULT '',
				on_denied_transition TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				required_count INTEGER NOT NULL DEFAULT 0,
				approvers JSONB NOT NULL DEFAULT '[]',
				current_order INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				resolved_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_approval_gates_instance
				ON approval_gates (instance_id);

			CREATE TABLE IF NOT EXISTS approvals (
				id TEXT PRIMARY KEY,
				gate_id TEXT NOT NULL REFERENCES approval_gates(id),
				approver_id TEXT NOT NULL,
				approver_order INTEGER NOT NULL DEFAULT 0,
				token TEXT NOT NULL DEFAULT '',
				decision TEXT NOT NULL DEFAULT '',
				comment TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				decided_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_approvals_gate ON approvals (gate_id);
			CREATE INDEX IF NOT EXISTS idx_approvals_token ON approvals (token);
		`,
	}
}
