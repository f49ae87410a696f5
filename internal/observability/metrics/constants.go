// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Label values for job outcomes.
const (
	// StatusSuccess marks a job that returned no error.
	StatusSuccess = "success"
	// StatusError marks a job that returned an error.
	StatusError = "error"
)

// Histogram bucket configuration constants.
const (
	// BucketStart10us is the starting bucket for job durations (10us to ~160ms range).
	BucketStart10us = 0.00001
	// BucketStart64Frames is the starting bucket for decoded page sizes.
	BucketStart64Frames = 64.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// ShutdownTimeout is the timeout for graceful shutdown operations.
const ShutdownTimeout = 5 * time.Second
