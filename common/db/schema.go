package db

var schema = []string{
	`CREATE TABLE IF NOT EXISTS profile (
		ref TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		organization TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		contact TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS pickup_request (
		id UUID PRIMARY KEY,
		requester_ref TEXT NOT NULL,
		assignee_ref TEXT,
		status TEXT NOT NULL,
		category TEXT NOT NULL,
		estimated_weight DOUBLE PRECISION NOT NULL,
		collected_weight DOUBLE PRECISION,
		description TEXT NOT NULL DEFAULT '',
		evidence_ref TEXT,
		quality_rating INTEGER,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS pickup_request_status_idx ON pickup_request (status, category, created_at)`,
	`CREATE INDEX IF NOT EXISTS pickup_request_requester_idx ON pickup_request (requester_ref)`,
	`CREATE INDEX IF NOT EXISTS pickup_request_assignee_idx ON pickup_request (assignee_ref)`,
	`CREATE TABLE IF NOT EXISTS verification_code (
		request_id UUID PRIMARY KEY REFERENCES pickup_request (id),
		code TEXT NOT NULL,
		consumed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		consumed_at TIMESTAMPTZ
	)`,
}
