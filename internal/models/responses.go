package models

import "time"

// HealthResponse is returned by the basic health endpoint
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// DBHealthResponse is returned by the database health endpoint
type DBHealthResponse struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
}

// QueryRequest is the body of POST /api/query
type QueryRequest struct {
	Question     string     `json:"question"`
	TopK         *int       `json:"top_k,omitempty"`
	SourceTables []string   `json:"source_tables,omitempty"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
	Answer       bool       `json:"answer"`
}

// SyncResponse reports the outcome of a manually triggered sync cycle
type SyncResponse struct {
	Mailboxes int    `json:"mailboxes"`
	Ingested  int    `json:"ingested"`
	Errors    int    `json:"errors"`
	Error     string `json:"error,omitempty"`
}

// IndexStats summarizes the embedding index
type IndexStats struct {
	Total  int64            `json:"total"`
	ByType map[string]int64 `json:"by_type"`
}
