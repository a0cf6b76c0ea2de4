package procrun

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunner() *Runner {
	return NewRunner(Config{KillGrace: 100 * time.Millisecond}, nil)
}

func shell(script string) Request {
	return Request{Command: "sh", Args: []string{"-c", script}}
}

// =============================================================================
// Exit State
// =============================================================================

func TestRun_Success(t *testing.T) {
	res := testRunner().Run(context.Background(), shell("echo hello"))

	require.Empty(t, res.SpawnError)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	assert.True(t, res.Success)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.False(t, res.Cancelled)
	assert.False(t, res.TimedOut)
}

func TestRun_NonZeroExit(t *testing.T) {
	res := testRunner().Run(context.Background(), shell("echo oops >&2; exit 3"))

	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 3, *res.ExitCode)
	assert.False(t, res.Success)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestRun_SpawnError(t *testing.T) {
	res := testRunner().Run(context.Background(), Request{Command: "definitely-not-a-real-binary-xyz"})

	assert.NotEmpty(t, res.SpawnError)
	assert.Nil(t, res.ExitCode)
	assert.False(t, res.Success)
}

func TestRun_DeathBySignal(t *testing.T) {
	res := testRunner().Run(context.Background(), shell("kill -TERM $$"))

	assert.Nil(t, res.ExitCode)
	assert.NotEmpty(t, res.Signal)
	assert.False(t, res.Success)
}

// =============================================================================
// Cancellation
// =============================================================================

func TestRun_CancelledBeforeSpawn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	res := testRunner().Run(ctx, shell("sleep 10"))

	assert.True(t, res.Cancelled)
	assert.Empty(t, res.SpawnError)
	assert.Nil(t, res.ExitCode)
	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), time.Second, "must not spawn the process")
}

func TestRun_CancelledMidFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := testRunner().Run(ctx, shell("sleep 10"))

	assert.True(t, res.Cancelled)
	assert.False(t, res.TimedOut)
	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// =============================================================================
// Timeout
// =============================================================================

func TestRun_Timeout(t *testing.T) {
	req := shell("sleep 10")
	req.Timeout = 200 * time.Millisecond

	start := time.Now()
	res := testRunner().Run(context.Background(), req)

	assert.True(t, res.TimedOut)
	assert.False(t, res.Cancelled)
	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_TimeoutWarning(t *testing.T) {
	var mu sync.Mutex
	var warned []time.Duration

	req := shell("sleep 10")
	req.Timeout = 500 * time.Millisecond
	req.WarnBefore = 300 * time.Millisecond
	req.OnTimeoutWarning = func(remaining time.Duration) {
		mu.Lock()
		warned = append(warned, remaining)
		mu.Unlock()
	}

	res := testRunner().Run(context.Background(), req)

	assert.True(t, res.TimedOut)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, warned, 1)
	assert.Equal(t, 300*time.Millisecond, warned[0])
}

// =============================================================================
// Output Handling
// =============================================================================

func TestRun_TruncatesBoundedOutput(t *testing.T) {
	req := shell(`i=0; while [ $i -lt 1000 ]; do echo "0123456789"; i=$((i+1)); done`)
	req.MaxOutputBytes = 512

	res := testRunner().Run(context.Background(), req)

	assert.True(t, res.Success)
	assert.True(t, res.Truncated)
	assert.LessOrEqual(t, len(res.Stdout), 512)
	assert.LessOrEqual(t, len(res.Combined), 512)
	// The newest output survives; the oldest is dropped.
	assert.True(t, strings.HasSuffix(res.Stdout, "0123456789\n"))
}

func TestRun_StreamCallbacks(t *testing.T) {
	var mu sync.Mutex
	var outChunks, taggedStderr []string

	req := shell("echo out; echo err >&2")
	req.OnStdout = func(chunk string) {
		mu.Lock()
		outChunks = append(outChunks, chunk)
		mu.Unlock()
	}
	req.OnChunk = func(stream Stream, chunk string) {
		if stream == StreamStderr {
			mu.Lock()
			taggedStderr = append(taggedStderr, chunk)
			mu.Unlock()
		}
	}

	res := testRunner().Run(context.Background(), req)

	require.True(t, res.Success)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "out\n", strings.Join(outChunks, ""))
	assert.Equal(t, "err\n", strings.Join(taggedStderr, ""))
}

func TestRun_EnvOverrideAndPathPrepend(t *testing.T) {
	req := shell("echo $DEPLOY_TEST_VAR; echo $PATH")
	req.Env = map[string]string{"DEPLOY_TEST_VAR": "soroban"}
	req.PathPrepend = []string{"/opt/contract-tools/bin"}

	res := testRunner().Run(context.Background(), req)

	require.True(t, res.Success)
	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "soroban", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "/opt/contract-tools/bin"))
}

// =============================================================================
// Ring Buffer
// =============================================================================

func TestRingBuffer_DropsOldest(t *testing.T) {
	b := newRingBuffer(5)
	b.Write([]byte("abc"))
	assert.Equal(t, "abc", b.String())
	assert.False(t, b.Truncated())

	b.Write([]byte("defgh"))
	assert.Equal(t, "defgh", b.String())
	assert.True(t, b.Truncated())
}

func TestRingBuffer_Unbounded(t *testing.T) {
	b := newRingBuffer(0)
	b.Write([]byte(strings.Repeat("x", 10000)))
	assert.Len(t, b.String(), 10000)
	assert.False(t, b.Truncated())
}
