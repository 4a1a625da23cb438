package sandbox

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/function"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/services/secrets"
)

func testConfig() Config {
	logger, _ := zap.NewDevelopment()
	return Config{
		MemoryLimit:   64 * 1024 * 1024,
		TimeoutMillis: 2000,
		StackSize:     8 * 1024 * 1024,
		Logger:        logger,
	}
}

func TestSandboxBasicExecution(t *testing.T) {
	sb := New(testConfig(), nil)
	defer sb.Close()

	code := `
		function main(args) {
			console.log("hello from sandbox");
			return {success: true, message: "test completed"};
		}
	`

	output := sb.Execute(context.Background(), Input{
		Code:    code,
		Args:    []any{"test"},
		Context: function.NewContext("test-function"),
	})

	assert.Empty(t, output.Error, "expected no error")
	assert.NotNil(t, output.Result, "expected a result")
	assert.Greater(t, output.Duration, time.Duration(0))
	assert.Greater(t, output.MemoryUsed, uint64(0))
	assert.NotEmpty(t, output.Logs)

	resultMap, ok := output.Result.(map[string]any)
	require.True(t, ok, "result should be a map")
	assert.Equal(t, true, resultMap["success"])
	assert.Equal(t, "test completed", resultMap["message"])
}

func TestSandboxRoundTrip(t *testing.T) {
	sb := New(testConfig(), nil)
	defer sb.Close()

	code := `
		function main(payload) {
			return payload;
		}
	`

	payload := map[string]any{
		"name":    "neo",
		"count":   int64(42),
		"ratio":   1.5,
		"enabled": true,
		"tags":    []any{"a", "b", "c"},
		"nested":  map[string]any{"deep": int64(7)},
	}

	output := sb.Execute(context.Background(), Input{
		Code:    code,
		Args:    []any{payload},
		Context: function.NewContext("round-trip"),
	})

	require.Empty(t, output.Error)
	result, ok := output.Result.(map[string]any)
	require.True(t, ok, "result should be a map")
	assert.Equal(t, "neo", result["name"])
	assert.Equal(t, int64(42), result["count"])
	assert.Equal(t, 1.5, result["ratio"])
	assert.Equal(t, true, result["enabled"])
	assert.Equal(t, []any{"a", "b", "c"}, result["tags"])
	nested, ok := result["nested"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(7), nested["deep"])
}

func TestSandboxTimeout(t *testing.T) {
	config := testConfig()
	config.TimeoutMillis = 1000

	sb := New(config, nil)
	defer sb.Close()

	code := `
		function main(args) {
			console.log("starting infinite loop");
			while (true) {}
			return "unreachable";
		}
	`

	start := time.Now()
	output := sb.Execute(context.Background(), Input{
		Code:    code,
		Context: function.NewContext("timeout-test"),
	})
	elapsed := time.Since(start)

	assert.NotEmpty(t, output.Error, "expected timeout error")
	assert.Contains(t, output.Error, "timed out")
	assert.Less(t, elapsed, 3*time.Second, "caller must unblock near the deadline")
	assert.NotEmpty(t, output.Logs)
}

func TestSandboxCancellation(t *testing.T) {
	sb := New(testConfig(), nil)
	defer sb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	output := sb.Execute(ctx, Input{
		Code:    `function main() { while (true) {} }`,
		Context: function.NewContext("cancel-test"),
	})

	assert.NotEmpty(t, output.Error)
	assert.Contains(t, output.Error, "cancelled")
}

func TestSandboxMemoryLimit(t *testing.T) {
	config := testConfig()
	config.MemoryLimit = 16 * 1024 * 1024
	config.TimeoutMillis = 10000

	sb := New(config, nil)
	defer sb.Close()

	code := `
		function main(args) {
			var blocks = [];
			while (true) {
				blocks.push(new Array(1024 * 1024).join("x"));
			}
		}
	`

	output := sb.Execute(context.Background(), Input{
		Code:    code,
		Context: function.NewContext("memory-test"),
	})

	assert.NotEmpty(t, output.Error, "expected memory limit error")
	assert.Contains(t, output.Error, "memory")
	assert.Greater(t, output.MemoryUsed, uint64(0))
}

func TestSandboxScriptError(t *testing.T) {
	sb := New(testConfig(), nil)
	defer sb.Close()

	code := `
		function main(args) {
			console.log("about to throw");
			throw new Error("test error");
		}
	`

	output := sb.Execute(context.Background(), Input{
		Code:    code,
		Context: function.NewContext("error-test"),
	})

	assert.NotEmpty(t, output.Error)
	assert.Contains(t, output.Error, "test error")
	assert.NotEmpty(t, output.Logs, "logs survive a failed execution")
}

func TestSandboxMissingEntryFunction(t *testing.T) {
	sb := New(testConfig(), nil)
	defer sb.Close()

	output := sb.Execute(context.Background(), Input{
		Code:    `var x = 1;`,
		Context: function.NewContext("no-main"),
	})

	assert.Contains(t, output.Error, "main function not found")
}

func TestSandboxStateDoesNotLeakBetweenCalls(t *testing.T) {
	sb := New(testConfig(), nil)
	defer sb.Close()

	first := sb.Execute(context.Background(), Input{
		Code:    `var leaked = "value"; function main() { return "ok"; }`,
		Context: function.NewContext("first"),
	})
	require.Empty(t, first.Error)

	second := sb.Execute(context.Background(), Input{
		Code:    `function main() { return typeof leaked; }`,
		Context: function.NewContext("second"),
	})
	require.Empty(t, second.Error)
	assert.Equal(t, "undefined", second.Result)
}

func TestSandboxContextObject(t *testing.T) {
	sb := New(testConfig(), nil)
	defer sb.Close()

	fnCtx := function.NewContext("ctx-fn").
		WithOwner("alice").
		WithCaller("bob").
		WithTraceID("trace-1").
		WithParameters(map[string]any{"key": "value"})

	output := sb.Execute(context.Background(), Input{
		Code: `
			function main() {
				return {
					fn: context.functionId,
					owner: context.owner,
					caller: context.caller,
					trace: context.traceId,
					param: context.parameters.key
				};
			}
		`,
		Context: fnCtx,
	})

	require.Empty(t, output.Error)
	result := output.Result.(map[string]any)
	assert.Equal(t, "ctx-fn", result["fn"])
	assert.Equal(t, "alice", result["owner"])
	assert.Equal(t, "bob", result["caller"])
	assert.Equal(t, "trace-1", result["trace"])
	assert.Equal(t, "value", result["param"])
}

func TestSandboxSecrets(t *testing.T) {
	provider, err := secrets.NewLocalProvider([]byte("test-master"))
	require.NoError(t, err)

	sealed, err := provider.Encrypt(context.Background(), []byte("plain-api-key"))
	require.NoError(t, err)
	secretBlobs := map[string]string{
		"apiKey": base64.StdEncoding.EncodeToString(sealed),
	}

	t.Run("decrypts provided secret", func(t *testing.T) {
		sb := New(testConfig(), provider)
		defer sb.Close()

		output := sb.Execute(context.Background(), Input{
			Code:    `function main() { return secrets.get("apiKey"); }`,
			Secrets: secretBlobs,
			Context: function.NewContext("secrets-test"),
		})

		require.Empty(t, output.Error)
		assert.Equal(t, "plain-api-key", output.Result)
	})

	t.Run("missing name returns null not error", func(t *testing.T) {
		sb := New(testConfig(), provider)
		defer sb.Close()

		output := sb.Execute(context.Background(), Input{
			Code:    `function main() { return secrets.get("missing") === null; }`,
			Secrets: secretBlobs,
			Context: function.NewContext("secrets-test"),
		})

		require.Empty(t, output.Error)
		assert.Equal(t, true, output.Result)
	})

	t.Run("decrypt failure raises script error", func(t *testing.T) {
		sb := New(testConfig(), provider)
		defer sb.Close()

		output := sb.Execute(context.Background(), Input{
			Code: `function main() { return secrets.get("apiKey"); }`,
			Secrets: map[string]string{
				"apiKey": base64.StdEncoding.EncodeToString([]byte("garbage")),
			},
			Context: function.NewContext("secrets-test"),
		})

		assert.Contains(t, output.Error, "failed to decrypt")
	})

	t.Run("no provider raises script error", func(t *testing.T) {
		sb := New(testConfig(), nil)
		defer sb.Close()

		output := sb.Execute(context.Background(), Input{
			Code:    `function main() { return secrets.get("apiKey"); }`,
			Secrets: secretBlobs,
			Context: function.NewContext("secrets-test"),
		})

		assert.Contains(t, output.Error, "security provider not configured")
	})
}

func TestSandboxBindingUnavailable(t *testing.T) {
	config := testConfig()
	config.EnableInteroperability = true

	sb := New(config, nil)
	defer sb.Close()

	output := sb.Execute(context.Background(), Input{
		Code:     `function main() { return gasbank.getBalance(); }`,
		Context:  function.NewContext("binding-test").WithOwner("alice"),
		Services: &Services{},
	})

	assert.Contains(t, output.Error, "gasbank service not available")
}

func TestSandboxInteroperabilityDisabled(t *testing.T) {
	config := testConfig()
	config.EnableInteroperability = false

	sb := New(config, nil)
	defer sb.Close()

	output := sb.Execute(context.Background(), Input{
		Code:     `function main() { return typeof gasbank; }`,
		Context:  function.NewContext("binding-test"),
		Services: &Services{},
	})

	assert.Empty(t, output.Error)
	assert.Equal(t, "undefined", output.Result)
}
