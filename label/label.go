// Package label models on-disk PV labels as opaque parsed objects. Reading
// and writing labels is the job of the external label scanner; the cache
// only tracks which labeller produced a label and where it sits.
package label

import "go.pvcache.dev/core/metadata"

// A Labeller identifies the label format which wrote a device's PV label.
// Labeller instances are long-lived descriptors owned by the command; the
// cache borrows them and compares them by identity.
type Labeller interface {
	// Name of the labeller, eg "text".
	Name() string
	// Format returns the metadata format the labeller belongs to.
	Format() *metadata.Format
}

// A Label is the parsed PV label of one device.
type Label struct {
	// Labeller which produced the label.
	Labeller Labeller
	// Sector at which the label was found.
	Sector uint64
}

// New returns a Label produced by |labeller|.
func New(labeller Labeller) *Label { return &Label{Labeller: labeller} }
