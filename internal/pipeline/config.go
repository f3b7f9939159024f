// Package pipeline wires the harvester, extractor and sandbox executor
// into the runnable operations the CLI exposes, and owns the handful of
// tunables those stages take.
package pipeline

import (
	"time"

	"github.com/pardalotus/metabeak/internal/config"
	"github.com/pardalotus/metabeak/internal/sandbox"
)

// Config holds the tunables for one pipeline run: how many concurrent
// drain workers the extract stage uses, how many events the execute
// stage polls per batch, and the sandbox's load/run time budgets.
type Config struct {
	ExtractFanout      int
	ExecuteBatchSize   int
	SandboxLoadTimeout time.Duration
	SandboxExecTimeout time.Duration
	SandboxEnvironment string
	SandboxVersion     string
}

// DefaultExtractFanout and DefaultExecuteBatchSize are the stock extract
// parallelism and execute batch size, surfaced as env vars rather than
// compiled-in constants.
const (
	DefaultExtractFanout    = 5
	DefaultExecuteBatchSize = 100
)

// LoadConfig reads pipeline tunables from the environment, falling back
// to the package defaults.
func LoadConfig() Config {
	return Config{
		ExtractFanout:      config.GetEnvInt("EXTRACT_FANOUT", DefaultExtractFanout),
		ExecuteBatchSize:   config.GetEnvInt("EXECUTE_BATCH_SIZE", DefaultExecuteBatchSize),
		SandboxLoadTimeout: config.GetEnvDuration("SANDBOX_LOAD_TIMEOUT", sandbox.DefaultLoadTimeout),
		SandboxExecTimeout: config.GetEnvDuration("SANDBOX_EXECUTION_TIMEOUT", sandbox.DefaultExecutionTimeout),
		SandboxEnvironment: config.GetEnvStr("METABEAK_ENVIRONMENT", "production"),
		SandboxVersion:     config.GetEnvStr("METABEAK_VERSION", "dev"),
	}
}
