package stores

import (
	"context"
	"time"
)

// PassStatus represents the status of a synthesis pass
type PassStatus string

const (
	PassStatusRunning   PassStatus = "running"
	PassStatusCompleted PassStatus = "completed"
	PassStatusFailed    PassStatus = "failed"
)

// Pass represents one synthesis pass
type Pass struct {
	ID           string     `json:"id"`
	Project      string     `json:"project"`
	Status       PassStatus `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Nodes        int        `json:"nodes"`
	Mutations    int        `json:"mutations"`
	Violations   int        `json:"violations"`
	Error        *string    `json:"error,omitempty"`
	OutputDigest string     `json:"output_digest,omitempty"` // SHA256 of the rendered template
}

// PassSummary is what a finished pass reports back
type PassSummary struct {
	Status       PassStatus
	Nodes        int
	Mutations    int
	Violations   int
	Error        *string
	OutputDigest string
}

// Mutation is one property change applied during a pass
type Mutation struct {
	ID       int64  `json:"id"`
	PassID   string `json:"pass_id"`
	Seq      int    `json:"seq"`
	Visitor  string `json:"visitor"`
	NodePath string `json:"node_path"`
	Role     string `json:"role"`
	Rule     string `json:"rule"`
	Property string `json:"property"`
	OldValue string `json:"old_value"` // JSON
	NewValue string `json:"new_value"` // JSON
}

// Lookup is the outcome of one context lookup resolved during a pass
type Lookup struct {
	ID         int64   `json:"id"`
	PassID     string  `json:"pass_id"`
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	QueryKey   string  `json:"query_key"`
	Outcome    string  `json:"outcome"`
	Value      *string `json:"value,omitempty"` // JSON
	Diagnostic string  `json:"diagnostic,omitempty"`
	Cached     bool    `json:"cached"`
	DurationMS int64   `json:"duration_ms"`
}

// Store defines the interface for the pass history
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Pass operations
	CreatePass(ctx context.Context, pass *Pass) error
	CompletePass(ctx context.Context, id string, summary PassSummary) error
	GetPass(ctx context.Context, id string) (*Pass, error)
	ListPasses(ctx context.Context, limit, offset int) ([]*Pass, error)
	DeletePass(ctx context.Context, id string) error

	// Records of a pass
	RecordMutations(ctx context.Context, passID string, mutations []Mutation) error
	ListMutations(ctx context.Context, passID string) ([]*Mutation, error)
	RecordLookups(ctx context.Context, passID string, lookups []Lookup) error
	ListLookups(ctx context.Context, passID string) ([]*Lookup, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
