// Package device models block devices as seen by the volume manager. Devices
// are enumerated and owned by an external device cache; this package holds
// only the borrowed handles and the host's device-type table.
package device

// SectorShift converts between bytes and 512-byte sectors.
const SectorShift = 9

// Flags describe externally-observed facts about a device.
type Flags uint32

const (
	// UsedForLV is set when the device is an active backing device of a
	// logical volume.
	UsedForLV Flags = 1 << iota
)

// A Device is a handle to one block device, borrowed from the device cache
// which enumerated it. The metadata cache never creates or frees Devices,
// but it does maintain the PVID binding.
type Device struct {
	// Path is the device node path, eg "/dev/sdb".
	Path string
	// Major and Minor are the device numbers.
	Major uint32
	Minor uint32
	// SizeSectors is the current device size in 512-byte sectors.
	SizeSectors uint64
	// Flags of the device.
	Flags Flags
	// MountedFS is set when a filesystem on the device is currently mounted.
	MountedFS bool

	// PVID is the 16-byte identifier of the PV label most recently bound to
	// this device by the metadata cache. Zero when none.
	PVID [16]byte
}

// Name returns the device node path for messages.
func (d *Device) Name() string { return d.Path }

// InList returns true iff |dev| appears in |devs|.
func InList(dev *Device, devs []*Device) bool {
	for _, d := range devs {
		if d == dev {
			return true
		}
	}
	return false
}

// Remove returns |devs| with the first occurrence of |dev| spliced out.
func Remove(dev *Device, devs []*Device) []*Device {
	for i, d := range devs {
		if d == dev {
			return append(devs[:i], devs[i+1:]...)
		}
	}
	return devs
}

// Types is the host's device-type table: the reserved major numbers of the
// device-mapper and MD drivers, and the majors claimed by recognized block
// subsystems (MD, DM, DRBD and the like).
type Types struct {
	DMMajor uint32
	MDMajor uint32
	// Subsystem maps a major number to the name of the block subsystem
	// which owns it.
	Subsystem map[uint32]string
}

// IsDM returns true iff |major| is the device-mapper major.
func (t *Types) IsDM(major uint32) bool { return t != nil && major == t.DMMajor }

// IsMD returns true iff |major| is the MD (software RAID) major.
func (t *Types) IsMD(major uint32) bool { return t != nil && major == t.MDMajor }

// InSubsystem returns true iff |major| belongs to a recognized subsystem.
func (t *Types) InSubsystem(major uint32) bool {
	if t == nil {
		return false
	}
	var _, ok = t.Subsystem[major]
	return ok
}

// SubsystemName returns the subsystem owning |major|, or "".
func (t *Types) SubsystemName(major uint32) string {
	if t == nil {
		return ""
	}
	return t.Subsystem[major]
}
