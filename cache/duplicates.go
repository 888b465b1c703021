package cache

import (
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"go.pvcache.dev/core/device"
	"go.pvcache.dev/core/metadata"
)

// Several devices can carry the same PV id: multipath paths to one disk, a
// device cloned with dd, or a subsystem (dm, md, drbd) exposing a mapping of
// an underlying PV. The cache references exactly one of them; the resolver
// picks which.
//
// Duplicates observed during a scan collect on foundDuplicates. After the
// scan, choosePreferredDevs compares each group against the device currently
// in the cache and decides a preferred device per PV id; devices not chosen
// move to unusedDuplicates. The choice is sticky: a device once unchosen
// stays unchosen across rebuilds within the command.

// FoundDuplicatePVs returns true iff any duplicate PV was seen since the
// cache was initialized. Callers use it to skip duplicate searches entirely
// on the common, duplicate-free host.
func (c *Cache) FoundDuplicatePVs() bool { return c.foundDuplicatePVs }

// UnusedDuplicates returns a copy of the unchosen duplicate device list.
func (c *Cache) UnusedDuplicates() []*device.Device {
	return append([]*device.Device(nil), c.unusedDuplicates...)
}

// DevIsUnchosenDuplicate returns true iff |dev| is an unchosen duplicate.
func (c *Cache) DevIsUnchosenDuplicate(dev *device.Device) bool {
	return device.InList(dev, c.unusedDuplicates)
}

// PVIDInUnchosenDuplicates returns true iff some unchosen duplicate carries
// |pvid|.
func (c *Cache) PVIDInUnchosenDuplicates(pvid metadata.ID) bool {
	for _, dev := range c.unusedDuplicates {
		if dev.PVID == pvid {
			return true
		}
	}
	return false
}

// RemoveUnchosenDuplicate drops |dev| from the unchosen duplicate list,
// lifting the restrictions placed on it.
func (c *Cache) RemoveUnchosenDuplicate(dev *device.Device) {
	c.unusedDuplicates = device.Remove(dev, c.unusedDuplicates)
}

// VGHasDuplicatePVs returns true iff any PV of |vg| shares a PV id with an
// unchosen duplicate device.
func (c *Cache) VGHasDuplicatePVs(vg *metadata.VG) bool {
	for _, pv := range vg.PVs {
		for _, dev := range c.unusedDuplicates {
			if dev.PVID == pv.ID {
				return true
			}
		}
	}
	return false
}

// choosePreferredDevs resolves the duplicates found during a scan. For each
// PV id with duplicates it compares the candidates against the device
// currently in the cache, and returns the devices to drop from the cache
// (del) and the preferred replacements to rescan into it (add). All devices
// not chosen become the new unused-duplicates list (the caller additionally
// splices the dropped devices there once they're out of the cache).
func (c *Cache) choosePreferredDevs() (del, add []*device.Device) {
	var newUnused []*device.Device
	var rest = c.foundDuplicates
	c.foundDuplicates = nil

	for len(rest) != 0 {
		// Gather all alternate devices of the next PV id.
		var altdevs = []*device.Device{rest[0]}
		var pvid metadata.ID = rest[0].PVID
		rest = rest[1:]
		for i := 0; i != len(rest); {
			if rest[i].PVID == pvid {
				altdevs = append(altdevs, rest[i])
				rest = append(rest[:i], rest[i+1:]...)
			} else {
				i++
			}
		}

		var info = c.InfoByPVID(pvid, nil)
		if info == nil {
			// This shouldn't happen.
			log.WithFields(log.Fields{"pv": pvid, "dev": altdevs[0].Path}).
				Warn("PV on duplicate device not found in cache")
			continue
		}

		// dev1 is the currently preferred device, starting with the device
		// in the cache.
		var dev1 = info.dev

		for _, dev2 := range altdevs {
			if dev1 == dev2 {
				// This shouldn't happen.
				log.WithField("dev", dev1.Path).Warn("same duplicate device repeated")
				continue
			}
			var change, reason = c.compareDuplicates(info, dev1, dev2)
			if change {
				dev1 = dev2
			}
			log.WithFields(log.Fields{
				"pv":     pvid,
				"dev":    dev1.Path,
				"reason": reason,
			}).Warn("PV prefers duplicate device")
		}

		if dev1 != info.dev {
			log.WithFields(log.Fields{
				"pv": pvid, "to": dev1.Path, "from": info.dev.Path,
			}).Debug("switching to device")

			add = append(add, dev1)
			del = append(del, info.dev)
		} else {
			log.WithFields(log.Fields{"pv": pvid, "dev": info.dev.Path}).
				Debug("keeping current device")
		}

		// Alternates not chosen move to the unused list.
		for _, dev := range altdevs {
			if dev != dev1 {
				newUnused = append(newUnused, dev)
			}
		}
	}

	c.unusedDuplicates = newUnused
	return del, add
}

// compareDuplicates weighs |dev1| (the incumbent) against |dev2| for the PV
// of |info|, by a ladder of priorities in which the first decisive test
// wins. It returns whether to switch to dev2, and the reason that decided.
func (c *Cache) compareDuplicates(info *Info, dev1, dev2 *device.Device) (change bool, reason string) {
	var dt = c.cmd.DevTypes

	// A device on either unused list was unpreferred before; keep
	// unpreferring it so one command makes stable choices across rebuilds.
	var prevUnchosen1 = device.InList(dev1, c.unusedDuplicates)
	var prevUnchosen2 = device.InList(dev2, c.unusedDuplicates)
	if !prevUnchosen1 && !prevUnchosen2 {
		prevUnchosen1 = device.InList(dev1, c.cmd.UnusedDuplicates)
		prevUnchosen2 = device.InList(dev2, c.cmd.UnusedDuplicates)
	}

	var hasLV1 = dev1.Flags&device.UsedForLV != 0
	var hasLV2 = dev2.Flags&device.UsedForLV != 0

	var infoSize = info.deviceSize >> device.SectorShift
	var sameSize1 = c.devSizeSectors(dev1) == infoSize
	var sameSize2 = c.devSizeSectors(dev2) == infoSize

	var hasFS1, hasFS2 = dev1.MountedFS, dev2.MountedFS

	var isDM1 = dt.IsDM(dev1.Major)
	var isDM2 = dt.IsDM(dev2.Major)

	var inSubsys1 = dt.InSubsystem(dev1.Major)
	var inSubsys2 = dt.InSubsystem(dev2.Major)

	log.WithFields(log.Fields{
		"pv":        metadata.ID(dev2.PVID),
		"dev1":      dev1.Path,
		"dev2":      dev2.Path,
		"wantsSize": humanize.IBytes(infoSize << device.SectorShift),
		"dev1Size":  humanize.IBytes(c.devSizeSectors(dev1) << device.SectorShift),
		"dev2Size":  humanize.IBytes(c.devSizeSectors(dev2) << device.SectorShift),
	}).Debug("comparing duplicates")

	switch {
	case prevUnchosen1 && !prevUnchosen2:
		return true, "of previous preference"
	case prevUnchosen2 && !prevUnchosen1:
		return false, "of previous preference"
	case hasLV1 && !hasLV2:
		return false, "device is used by LV"
	case hasLV2 && !hasLV1:
		return true, "device is used by LV"
	case sameSize1 && !sameSize2:
		return false, "device size is correct"
	case sameSize2 && !sameSize1:
		return true, "device size is correct"
	case hasFS1 && !hasFS2:
		return false, "device has fs mounted"
	case hasFS2 && !hasFS1:
		return true, "device has fs mounted"
	case isDM1 && !isDM2:
		return false, "device is in dm subsystem"
	case isDM2 && !isDM1:
		return true, "device is in dm subsystem"
	case inSubsys1 && !inSubsys2:
		return false, "device is in subsystem"
	case inSubsys2 && !inSubsys1:
		return true, "device is in subsystem"
	}
	return false, "device was seen first"
}

// devSizeSectors returns the size of |dev| in sectors, through the command's
// size cache when one is configured.
func (c *Cache) devSizeSectors(dev *device.Device) uint64 {
	if c.cmd.SizeCache != nil {
		return c.cmd.SizeCache.Size(dev)
	}
	return dev.SizeSectors
}

// filterDuplicateDevs treats some unchosen duplicates as if the device
// filters had eliminated them. A duplicate whose cached counterpart sits on
// the MD major was a component of a software RAID and should not be exposed,
// so it is silently dropped from the unused list.
func (c *Cache) filterDuplicateDevs() {
	var dt = c.cmd.DevTypes

	var kept = c.unusedDuplicates[:0]
	for _, dev := range c.unusedDuplicates {
		var info = c.InfoByPVID(dev.PVID, nil)
		if info != nil && dt.IsMD(info.Device().Major) {
			log.WithField("dev", dev.Path).Debug("ignoring md component duplicate")
			continue
		}
		kept = append(kept, dev)
	}
	c.unusedDuplicates = kept
}
