// Package metadata holds the parsed volume-manager metadata model: volume
// groups, physical and logical volumes, metadata areas, and the text codec
// used to export and re-import a VG. On-disk parsing and I/O live elsewhere;
// this package only models what a parser produces.
package metadata

import "go.pvcache.dev/core/device"

// VGStatus is the status bit-field of a volume group.
type VGStatus uint32

const (
	// Exported marks a VG which has been exported from the host.
	Exported VGStatus = 1 << iota
	// Resizeable marks a VG whose extents may be re-allocated.
	Resizeable
	// Clustered marks a VG managed by the cluster lock manager.
	Clustered
)

// A VG is one parsed volume group.
type VG struct {
	Name         string   `yaml:"name"`
	ID           ID       `yaml:"id"`
	Seqno        uint32   `yaml:"seqno"`
	Status       VGStatus `yaml:"status"`
	SystemID     string   `yaml:"system_id,omitempty"`
	LockType     string   `yaml:"lock_type,omitempty"`
	CreationHost string   `yaml:"creation_host,omitempty"`
	// ExtentSize is the physical extent size in sectors.
	ExtentSize uint64 `yaml:"extent_size"`
	PVs        []*PV  `yaml:"physical_volumes"`
	LVs        []*LV  `yaml:"logical_volumes,omitempty"`
}

// A PV is one physical volume of a VG.
type PV struct {
	ID         ID     `yaml:"id"`
	DevicePath string `yaml:"device"`
	// Size is the device size in sectors.
	Size uint64 `yaml:"dev_size"`
	// PEStart is the sector offset of the first physical extent.
	PEStart uint64 `yaml:"pe_start"`
	PECount uint64 `yaml:"pe_count"`
	BAStart uint64 `yaml:"ba_start,omitempty"`
	BASize  uint64 `yaml:"ba_size,omitempty"`

	// Runtime bindings, not part of the metadata text.
	Dev         *device.Device `yaml:"-"`
	Fmt         *Format        `yaml:"-"`
	LabelSector uint64         `yaml:"-"`
	VGName      string         `yaml:"-"`
}

// An LV is one logical volume of a VG.
type LV struct {
	Name   string `yaml:"name"`
	ID     ID     `yaml:"id"`
	Status uint32 `yaml:"status,omitempty"`
	// SegmentCount is the number of mapping segments of the LV.
	SegmentCount int `yaml:"segment_count,omitempty"`
}
