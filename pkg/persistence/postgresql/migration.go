package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create flows table
			CREATE TABLE flows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				parameter_schema JSONB,
				owner VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_flows_owner ON flows(owner);
			CREATE INDEX idx_flows_created_at ON flows(created_at);
			CREATE INDEX idx_flows_deleted_at ON flows(deleted_at);

			-- Create flow_runs table holding the current state snapshot
			CREATE TABLE flow_runs (
				id UUID PRIMARY KEY,
				flow_id UUID NOT NULL REFERENCES flows(id),
				deployment_id UUID,
				name VARCHAR(255),
				parameters JSONB,
				state_id UUID,
				state_kind VARCHAR(50),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_flow_runs_flow_id ON flow_runs(flow_id);
			CREATE INDEX idx_flow_runs_state_kind ON flow_runs(state_kind);
			CREATE INDEX idx_flow_runs_created_at ON flow_runs(created_at);

			-- Every accepted transition is one row; the primary key on the
			-- state id is the identity-uniqueness serialization point.
			CREATE TABLE flow_run_states (
				id UUID PRIMARY KEY,
				run_id UUID NOT NULL REFERENCES flow_runs(id) ON DELETE CASCADE,
				kind VARCHAR(50) NOT NULL,
				name VARCHAR(255) NOT NULL,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				message TEXT,
				data JSONB,
				details JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_flow_run_states_run_id ON flow_run_states(run_id);
			CREATE INDEX idx_flow_run_states_timestamp ON flow_run_states(timestamp);

			-- Create deployments table for cron scheduling
			CREATE TABLE deployments (
				id UUID PRIMARY KEY,
				flow_id UUID NOT NULL REFERENCES flows(id),
				name VARCHAR(255),
				cron_expression VARCHAR(255) NOT NULL,
				next_due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_deployments_next_due_at ON deployments(next_due_at);
			CREATE INDEX idx_deployments_active ON deployments(active);
		`,
	}
}
