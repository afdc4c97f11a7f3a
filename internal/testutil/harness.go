package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/framegraph/internal/app"
	"github.com/vk/framegraph/internal/hcl"
	"github.com/vk/framegraph/internal/registry"
)

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	LogOutput string
	Err       error
	App       *app.App
}

// WritePipeline writes files (relative path to HCL content) into a fresh
// temporary directory and returns it.
func WritePipeline(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	return dir
}

// RunPipeline loads files as a pipeline and runs it with ExitOnIdle until it
// drains or timeout elapses. cfg.PipelinePath is overwritten.
func RunPipeline(t *testing.T, files map[string]string, cfg app.Config, timeout time.Duration, modules ...registry.Module) *HarnessResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg.PipelinePath = WritePipeline(t, files)
	cfg.ExitOnIdle = true
	if cfg.LogLevel == "" {
		cfg.LogLevel = "debug"
	}
	appCfg, err := app.NewConfig(cfg)
	require.NoError(t, err)

	logBuffer := &SafeBuffer{}
	result := &HarnessResult{}
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.Err = fmt.Errorf("application startup panicked | %v", r)
			}
		}()
		result.App, result.Err = app.NewApp(logBuffer, appCfg, hcl.NewLoader(), modules...)
	}()
	if result.Err == nil {
		result.Err = result.App.Run(ctx)
	}

	result.LogOutput = logBuffer.String()
	if os.Getenv("FRAMEGRAPH_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), result.LogOutput)
	}
	return result
}
