// Package buildinfo contains build-time metadata separate from user configuration
package buildinfo

import "fmt"

// UnknownValue is reported for metadata the build did not inject
const UnknownValue = "unknown"

// Context contains build-time metadata that is not user-configurable.
// It is injected at application startup through linker flags.
type Context struct {
	version   string
	buildDate string
}

// NewContext creates a build context
func NewContext(version, buildDate string) *Context {
	return &Context{version: version, buildDate: buildDate}
}

// Version returns the build version, UnknownValue when unset
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build date, UnknownValue when unset
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// String formats the metadata for --version output
func (c *Context) String() string {
	return fmt.Sprintf("%s (built %s)", c.Version(), c.BuildDate())
}
