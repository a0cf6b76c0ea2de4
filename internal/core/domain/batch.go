package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Batch Item
// =============================================================================

// BatchItem is one deployment unit inside a batch. Exactly one of WasmPath
// (prebuilt artifact) or SourceDir (buildable contract directory) must be set.
// DependsOn may reference item IDs inside or outside the batch; unknown IDs
// are treated as already satisfied.
type BatchItem struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	WasmPath  string   `json:"wasm_path,omitempty"`
	SourceDir string   `json:"source_dir,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`

	// Network and Source override the batch-level defaults when set.
	Network string `json:"network,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Validate checks the artifact source constraint.
func (i BatchItem) Validate() error {
	if i.WasmPath == "" && i.SourceDir == "" {
		return ErrArtifactSourceRequired
	}
	if i.WasmPath != "" && i.SourceDir != "" {
		return ErrArtifactSourceConflict
	}
	return nil
}

// =============================================================================
// Item Status / Result
// =============================================================================

// ItemStatus is the outcome state of one batch item.
type ItemStatus string

const (
	ItemRunning   ItemStatus = "running"
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
	ItemCancelled ItemStatus = "cancelled"
	ItemSkipped   ItemStatus = "skipped"
)

// ItemResult records the outcome of one batch item. Every submitted item
// produces exactly one result per run.
type ItemResult struct {
	ItemID     string       `json:"item_id"`
	Name       string       `json:"name"`
	Status     ItemStatus   `json:"status"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
	ContractID string       `json:"contract_id,omitempty"`
	TxHash     string       `json:"tx_hash,omitempty"`
	Error      *DeployError `json:"error,omitempty"`
	Summary    string       `json:"summary,omitempty"`

	// BlockedBy names the dependency that caused a skip.
	BlockedBy string `json:"blocked_by,omitempty"`
}

// =============================================================================
// Batch Result
// =============================================================================

// BatchResult aggregates the per-item results of one batch run. Items appears
// in input order and holds one entry per submitted item regardless of outcome.
type BatchResult struct {
	ID         string       `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Cancelled  bool         `json:"cancelled"`
	Items      []ItemResult `json:"items"`
}

// NewBatchResult creates an empty result with a fresh ID.
func NewBatchResult() *BatchResult {
	return &BatchResult{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
}

// Succeeded counts items that deployed successfully.
func (r *BatchResult) Succeeded() int {
	n := 0
	for _, it := range r.Items {
		if it.Status == ItemSucceeded {
			n++
		}
	}
	return n
}

// ItemByID returns the result for the given item ID, or nil.
func (r *BatchResult) ItemByID(id string) *ItemResult {
	for i := range r.Items {
		if r.Items[i].ItemID == id {
			return &r.Items[i]
		}
	}
	return nil
}
