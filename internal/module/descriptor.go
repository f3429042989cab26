package module

import "github.com/google/uuid"

// Descriptor is the immutable metadata of a discovered module plus its
// resolved entry-point factory.
//
// Descriptors are created once during a discovery pass and never mutated;
// a rescan replaces the whole set. The Factory must produce instances that
// satisfy the Module contract.
type Descriptor struct {
	ID          uuid.UUID
	Name        string
	Version     string
	Author      string
	Description string
	Category    string
	Platforms   []string

	// Dir is the module package directory (the manifest's directory).
	Dir string
	// Entry is the raw manifest entry reference ("builtin:<name>" or a
	// relative .go file). EntryPath is the resolved absolute path for file
	// entries, empty for builtins.
	Entry     string
	EntryPath string

	Factory Factory
}

// SupportsPlatform reports whether the descriptor lists the given platform tag.
func (d Descriptor) SupportsPlatform(goos string) bool {
	for _, p := range d.Platforms {
		if p == goos {
			return true
		}
	}
	return false
}
