package resource

import (
	"github.com/tphakala/audiostream/internal/decoder"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/jobqueue"
)

// ComponentResource identifies resource manager errors
const ComponentResource = "resource"

var (
	// ErrBusy means the data is not ready yet. The caller should poll again.
	ErrBusy = errors.New(errors.NewStd("resource is busy")).
		Component(ComponentResource).
		Category(errors.CategoryBusy).
		Build()

	// ErrUnavailable is the result of a node or source that is being torn down
	ErrUnavailable = errors.New(errors.NewStd("resource is unavailable")).
			Component(ComponentResource).
			Category(errors.CategoryUnavailable).
			Build()

	ErrOutOfMemory = errors.New(errors.NewStd("decoded asset does not fit in memory")).
			Component(ComponentResource).
			Category(errors.CategoryOutOfMemory).
			Build()

	ErrInvalidOperation = errors.New(errors.NewStd("invalid operation")).
				Component(ComponentResource).
				Category(errors.CategoryInvalidOperation).
				Build()

	// ErrNotRegistered is returned by Unregister for unknown names
	ErrNotRegistered = errors.New(errors.NewStd("asset is not registered")).
				Component(ComponentResource).
				Category(errors.CategoryNotFound).
				Build()

	ErrInvalidArgs = errors.New(errors.NewStd("invalid arguments")).
			Component(ComponentResource).
			Category(errors.CategoryValidation).
			Build()

	// ErrClosed is returned by operations on a closed manager
	ErrClosed = errors.New(errors.NewStd("resource manager is closed")).
			Component(ComponentResource).
			Category(errors.CategoryState).
			Build()
)

// Re-exported so callers do not need to import the lower layers
var (
	ErrNotImplemented = decoder.ErrNotImplemented
	ErrQueueFull      = jobqueue.ErrQueueFull
	ErrCancelled      = jobqueue.ErrCancelled
)
