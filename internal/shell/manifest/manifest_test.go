package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullManifest(t *testing.T) {
	path := writeManifest(t, `
network: testnet
source: alice
mode: parallel
concurrency: 4
contracts:
  - name: token
    wasm: artifacts/token.wasm
  - id: amm
    name: liquidity-pool
    source_dir: contracts/amm
    depends_on: [token]
    network: futurenet
    source: bob
`)

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "testnet", f.Network)
	assert.Equal(t, "alice", f.Source)
	assert.Equal(t, "parallel", f.Mode)
	assert.Equal(t, 4, f.Concurrency)
	require.Len(t, f.Contracts, 2)

	base := filepath.Dir(path)
	assert.Equal(t, filepath.Join(base, "artifacts/token.wasm"), f.Contracts[0].Wasm)
	assert.Equal(t, filepath.Join(base, "contracts/amm"), f.Contracts[1].SourceDir)
}

func TestLoad_AbsolutePathsUntouched(t *testing.T) {
	path := writeManifest(t, `
contracts:
  - name: token
    wasm: /opt/artifacts/token.wasm
`)

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/artifacts/token.wasm", f.Contracts[0].Wasm)
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no contracts",
			yaml:    "network: testnet\n",
			wantErr: "no contracts",
		},
		{
			name: "missing id and name",
			yaml: `
contracts:
  - wasm: a.wasm
`,
			wantErr: "id or name is required",
		},
		{
			name: "duplicate id",
			yaml: `
contracts:
  - name: token
    wasm: a.wasm
  - name: token
    wasm: b.wasm
`,
			wantErr: `duplicate id "token"`,
		},
		{
			name: "no artifact source",
			yaml: `
contracts:
  - name: token
`,
			wantErr: "wasm or source_dir is required",
		},
		{
			name: "both artifact sources",
			yaml: `
contracts:
  - name: token
    wasm: a.wasm
    source_dir: src/token
`,
			wantErr: "mutually exclusive",
		},
		{
			name: "unknown dependency",
			yaml: `
contracts:
  - name: token
    wasm: a.wasm
    depends_on: [missing]
`,
			wantErr: `unknown dependency "missing"`,
		},
		{
			name: "bad mode",
			yaml: `
mode: turbo
contracts:
  - name: token
    wasm: a.wasm
`,
			wantErr: `unknown mode "turbo"`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeManifest(t, tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read manifest")
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeManifest(t, "contracts: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse manifest")
}

func TestBatchItems(t *testing.T) {
	path := writeManifest(t, `
contracts:
  - id: amm
    name: liquidity-pool
    wasm: a.wasm
    depends_on: [token]
    network: futurenet
  - name: token
    wasm: b.wasm
`)

	f, err := Load(path)
	require.NoError(t, err)
	items := f.BatchItems()
	require.Len(t, items, 2)

	assert.Equal(t, "amm", items[0].ID)
	assert.Equal(t, "liquidity-pool", items[0].Name)
	assert.Equal(t, []string{"token"}, items[0].DependsOn)
	assert.Equal(t, "futurenet", items[0].Network)

	assert.Equal(t, "token", items[1].ID)
	assert.Equal(t, "token", items[1].Name)
}
