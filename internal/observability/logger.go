package observability

import "github.com/tphakala/audiostream/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("telemetry")
