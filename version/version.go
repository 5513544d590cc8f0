// Package version holds the library version string embedded into every
// exported artifact. A loader uses it to detect artifacts written by
// incompatible (or pre-versioning) exporters.
package version

// Version of the library. Bump on releases.
const Version = "0.1.0"
