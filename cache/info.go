package cache

import (
	"github.com/pkg/errors"

	"go.pvcache.dev/core/device"
	"go.pvcache.dev/core/label"
	"go.pvcache.dev/core/metadata"
)

// Status bits of an Info.
type Status uint32

const (
	// CacheLocked mirrors the lock-held state of the Info's VG.
	CacheLocked Status = 1 << 1
)

// An Info is the cache's record of one device observed to carry a PV label.
// The cache owns the Info and its label; the device is borrowed.
type Info struct {
	dev    *device.Device
	lbl    *label.Label
	fmt    *metadata.Format
	vginfo *VGInfo

	deviceSize uint64 // Bytes.
	extVersion uint32
	extFlags   uint32
	status     Status

	mdas []*metadata.MDA
	das  []metadata.DiskLocn
	bas  []metadata.DiskLocn
}

// Device returns the backing device of the Info.
func (info *Info) Device() *device.Device { return info.dev }

// Label returns the parsed label of the Info. Its lifetime is that of the
// Info itself.
func (info *Info) Label() *label.Label { return info.lbl }

// Format returns the metadata format of the Info.
func (info *Info) Format() *metadata.Format { return info.fmt }

// DeviceSize returns the recorded device size in bytes.
func (info *Info) DeviceSize() uint64 { return info.deviceSize }

// SetDeviceSize records the device size in bytes.
func (info *Info) SetDeviceSize(size uint64) { info.deviceSize = size }

// ExtVersion returns the label extension version.
func (info *Info) ExtVersion() uint32 { return info.extVersion }

// SetExtVersion sets the label extension version.
func (info *Info) SetExtVersion(version uint32) { info.extVersion = version }

// ExtFlags returns the label extension flags.
func (info *Info) ExtFlags() uint32 { return info.extFlags }

// SetExtFlags sets the label extension flags.
func (info *Info) SetExtFlags(flags uint32) { info.extFlags = flags }

// VGName returns the name of the Info's VG, or "" when unknown.
func (info *Info) VGName() string {
	if info.vginfo == nil {
		return ""
	}
	return info.vginfo.name
}

// IsOrphan returns true iff the Info belongs to an orphan VG.
func (info *Info) IsOrphan() bool {
	if info.vginfo == nil {
		return true
	}
	return IsOrphanVG(info.vginfo.name)
}

// UncertainOwnership returns true iff it is impossible to tell from this
// Info alone whether the PV is an orphan: a PV with no usable metadata area
// may belong to a VG whose metadata lives on other devices.
func (info *Info) UncertainOwnership() bool {
	return metadata.MDAsEmptyOrIgnored(info.mdas)
}

// MDACount returns the number of metadata areas of the Info.
func (info *Info) MDACount() int { return len(info.mdas) }

// SmallestMDASize returns the smallest metadata area size, or zero.
func (info *Info) SmallestMDASize() uint64 {
	if info == nil {
		return 0
	}
	return metadata.MinMDASize(info.mdas)
}

// AddMDA appends a metadata area.
func (info *Info) AddMDA(start, size uint64, ignored bool) {
	info.mdas = append(info.mdas, &metadata.MDA{Start: start, Size: size, Ignored: ignored})
}

// AddDA appends a data area.
func (info *Info) AddDA(start, size uint64) {
	info.das = append(info.das, metadata.DiskLocn{Offset: start, Size: size})
}

// AddBA appends a bootloader area.
func (info *Info) AddBA(start, size uint64) {
	info.bas = append(info.bas, metadata.DiskLocn{Offset: start, Size: size})
}

// DelMDAs drops all metadata areas.
func (info *Info) DelMDAs() { info.mdas = nil }

// DelDAs drops all data areas.
func (info *Info) DelDAs() { info.das = nil }

// DelBAs drops all bootloader areas.
func (info *Info) DelBAs() { info.bas = nil }

// ForeachMDA applies |fn| to each metadata area, stopping on error.
func (info *Info) ForeachMDA(fn func(*metadata.MDA) error) error {
	for _, mda := range info.mdas {
		if err := fn(mda); err != nil {
			return err
		}
	}
	return nil
}

// ForeachDA applies |fn| to each data area, stopping on error.
func (info *Info) ForeachDA(fn func(metadata.DiskLocn) error) error {
	for _, da := range info.das {
		if err := fn(da); err != nil {
			return err
		}
	}
	return nil
}

// ForeachBA applies |fn| to each bootloader area, stopping on error.
func (info *Info) ForeachBA(fn func(metadata.DiskLocn) error) error {
	for _, ba := range info.bas {
		if err := fn(ba); err != nil {
			return err
		}
	}
	return nil
}

// FIDAddMDAs attaches the Info's metadata areas to a format instance.
func (info *Info) FIDAddMDAs(fi *metadata.FormatInstance) { fi.AttachMDAs(info.mdas) }

// CheckFormat verifies the Info belongs to |fmt|.
func (info *Info) CheckFormat(fmt *metadata.Format) error {
	if info.fmt != fmt {
		return errors.Errorf("PV %s is a different format (%s)", info.dev.Path, info.fmt.Name)
	}
	return nil
}

// UpdatePV refreshes the Info from a parsed PV.
func (info *Info) UpdatePV(pv *metadata.PV, fmt *metadata.Format) {
	info.deviceSize = pv.Size << device.SectorShift
	info.fmt = fmt
}

// UpdateDAs replaces the Info's data areas from a parsed PV, first filling
// pv.PEStart from the cached area when the PV doesn't know it.
func (info *Info) UpdateDAs(pv *metadata.PV) {
	if len(info.das) != 0 && pv.PEStart == 0 {
		pv.PEStart = info.das[0].Offset >> device.SectorShift
	}
	info.das = []metadata.DiskLocn{{Offset: pv.PEStart << device.SectorShift}}
}

// UpdateBAs replaces the Info's bootloader areas from a parsed PV, first
// filling pv.BAStart/BASize from the cached area when the PV doesn't know
// them.
func (info *Info) UpdateBAs(pv *metadata.PV) {
	if len(info.bas) != 0 && pv.BAStart == 0 && pv.BASize == 0 {
		pv.BAStart = info.bas[0].Offset >> device.SectorShift
		pv.BASize = info.bas[0].Size >> device.SectorShift
	}
	info.bas = []metadata.DiskLocn{{
		Offset: pv.BAStart << device.SectorShift,
		Size:   pv.BASize << device.SectorShift,
	}}
}

// PopulatePVFields projects the cached label and areas onto |pv|, for
// building an orphan PV from the cache.
func (info *Info) PopulatePVFields(pv *metadata.PV) error {
	if info.lbl == nil {
		return errors.Errorf("no cached label for orphan PV %s", info.dev.Path)
	}

	pv.LabelSector = info.lbl.Sector
	pv.Dev = info.dev
	pv.Fmt = info.fmt
	pv.Size = info.deviceSize >> device.SectorShift
	pv.VGName = info.fmt.OrphanVGName
	pv.DevicePath = info.dev.Path
	pv.ID = info.dev.PVID

	if pv.Size == 0 {
		return errors.Errorf("PV %s size is zero", info.dev.Path)
	}

	// Exactly one data area, and at most one bootloader area.
	if len(info.das) != 1 {
		return errors.Errorf("must be exactly one data area (found %d) on PV %s",
			len(info.das), info.dev.Path)
	}
	if len(info.bas) > 1 {
		return errors.Errorf("must be at most one bootloader area (found %d) on PV %s",
			len(info.bas), info.dev.Path)
	}

	pv.PEStart = info.das[0].Offset >> device.SectorShift
	for _, ba := range info.bas {
		pv.BAStart = ba.Offset >> device.SectorShift
		pv.BASize = ba.Size >> device.SectorShift
	}
	return nil
}
