package project

// Format describes the on-disk layout of a project.
type Format int

const (
	// FormatUnknown means the layout has not been determined yet; the
	// project has no metadata on disk.
	FormatUnknown Format = iota

	// FormatLegacy means metadata files sit directly in the project root.
	FormatLegacy

	// FormatModern means metadata lives in the project-local metadata
	// directory.
	FormatModern
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "LEGACY"
	case FormatModern:
		return "MODERN"
	default:
		return "UNKNOWN"
	}
}
