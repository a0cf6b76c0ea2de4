package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Identifier Tests
// =============================================================================

const (
	sampleContractID = "CDLZFC3SYJYDZT7K67VZ75HPJVIEUVNIXF47ZG2FB2RMQQVU2HHGCYSC"
	sampleTxHash     = "5c2e4f2b7d8a1e9c0f3b6a5d4e7c8b9a0d1f2e3c4b5a6d7e8f9a0b1c2d3e4f5a"
)

func TestIsContractID(t *testing.T) {
	assert.True(t, IsContractID(sampleContractID))
	assert.False(t, IsContractID("GDLZFC3SYJYDZT7K67VZ75HPJVIEUVNIXF47ZG2FB2RMQQVU2HHGCYSC"))
	assert.False(t, IsContractID(sampleContractID[:55]))
	assert.False(t, IsContractID(sampleContractID+"A"))
	assert.False(t, IsContractID(""))
}

func TestIsTxHash(t *testing.T) {
	assert.True(t, IsTxHash(sampleTxHash))
	assert.False(t, IsTxHash(strings.ToUpper(sampleTxHash)))
	assert.False(t, IsTxHash(sampleTxHash[:63]))
}

func TestExtractContractID_FromOutput(t *testing.T) {
	out := fmt.Sprintf("✅ Deployed!\nContract ID: %s\nDone.", sampleContractID)
	id, ok := ExtractContractID(out)
	require.True(t, ok)
	assert.Equal(t, sampleContractID, id)
}

func TestExtractContractID_Absent(t *testing.T) {
	_, ok := ExtractContractID("deploy finished with no identifier")
	assert.False(t, ok)
}

func TestExtractTxHash_FromOutput(t *testing.T) {
	out := "Signing transaction: " + sampleTxHash + "\n"
	h, ok := ExtractTxHash(out)
	require.True(t, ok)
	assert.Equal(t, sampleTxHash, h)
}

// =============================================================================
// Error Tests
// =============================================================================

func TestDeployError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewExecutionError("deploy failed", "stderr text", cause)
	assert.True(t, errors.Is(err, cause))

	derr, ok := AsDeployError(fmt.Errorf("wrapped: %w", err))
	require.True(t, ok)
	assert.Equal(t, KindExecution, derr.Kind)
	assert.Equal(t, "stderr text", derr.Detail)
}

func TestErrorKind_Retryable(t *testing.T) {
	assert.True(t, KindTransient.Retryable())
	assert.False(t, KindPermanent.Retryable())
	assert.False(t, KindValidation.Retryable())
	assert.False(t, KindExecution.Retryable())
	assert.False(t, KindCancelled.Retryable())
}

// =============================================================================
// Batch Item Tests
// =============================================================================

func TestBatchItem_Validate(t *testing.T) {
	assert.NoError(t, BatchItem{ID: "a", WasmPath: "a.wasm"}.Validate())
	assert.NoError(t, BatchItem{ID: "a", SourceDir: "./a"}.Validate())
	assert.ErrorIs(t, BatchItem{ID: "a"}.Validate(), ErrArtifactSourceRequired)
	assert.ErrorIs(t, BatchItem{ID: "a", WasmPath: "a.wasm", SourceDir: "./a"}.Validate(), ErrArtifactSourceConflict)
}

func TestSessionStatus_Terminal(t *testing.T) {
	assert.False(t, SessionIdle.Terminal())
	assert.False(t, SessionRunning.Terminal())
	assert.False(t, SessionWaiting.Terminal())
	assert.True(t, SessionSucceeded.Terminal())
	assert.True(t, SessionFailed.Terminal())
	assert.True(t, SessionCancelled.Terminal())
}

func TestNewSession(t *testing.T) {
	s := NewSession(DeployRequest{WasmPath: "token.wasm", Network: "testnet", Source: "alice"})
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, SessionIdle, s.Status)
	assert.Equal(t, "token.wasm", s.WasmPath)
	assert.Nil(t, s.LastAttempt())
}
