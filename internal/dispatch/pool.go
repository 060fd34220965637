package dispatch

import "go.uber.org/zap"

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers  int
	Adaptive bool
	// RAMPerWorkerMB is the memory budgeted per concurrent worker when
	// Adaptive is set.
	RAMPerWorkerMB int
}

// EffectiveConcurrency returns the pool size to use, potentially reduced
// from the configured value based on available system RAM.
func EffectiveConcurrency(cfg PoolConfig, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	configured := cfg.Workers
	if configured < 1 {
		configured = 1
	}

	if !cfg.Adaptive {
		return configured
	}

	perWorker := cfg.RAMPerWorkerMB
	if perWorker <= 0 {
		perWorker = 512
	}

	availableRAM := getAvailableRAMMB()
	if availableRAM <= 0 {
		logger.Info("could not determine available RAM; using configured concurrency",
			zap.Int("workers", configured))
		return configured
	}

	maxByRAM := availableRAM / perWorker
	if maxByRAM < 1 {
		maxByRAM = 1
	}

	if maxByRAM < configured {
		logger.Info("reducing concurrency due to available RAM",
			zap.Int("configured", configured),
			zap.Int("workers", maxByRAM),
			zap.Int("available_mb", availableRAM))
		return maxByRAM
	}

	return configured
}
