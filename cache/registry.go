package cache

import (
	log "github.com/sirupsen/logrus"

	"go.pvcache.dev/core/device"
	"go.pvcache.dev/core/label"
	"go.pvcache.dev/core/metadata"
	"go.pvcache.dev/core/metrics"
)

// Add finds or creates the Info for |pvid| and places it under the named VG
// via the update pipeline.
//
// A device may carry the same PV id as one already cached (multipath paths,
// clones, stacked device-mapper). In that case the cache keeps the existing
// device, records the new device on the found-duplicates list, and returns
// nil; after the scan completes the duplicate resolver compares each listed
// device against the cached one and decides which device to prefer.
func (c *Cache) Add(labeller label.Labeller, pvid metadata.ID, dev *device.Device,
	vgname string, vgid metadata.ID, vgstatus metadata.VGStatus) *Info {

	// Find an existing Info, by the claimed pvid or by the device's prior
	// binding. The known dev is deliberately not matched here: a mismatch
	// is the duplicate case, handled below.
	var info = c.infos[pvid]
	if info == nil {
		info = c.infos[dev.PVID]
	}

	var created bool
	if info == nil {
		info = &Info{
			dev: dev,
			fmt: labeller.Format(),
			lbl: label.New(labeller),
		}
		created = true
	}

	if !created {
		if info.dev != dev {
			log.WithFields(log.Fields{
				"pv":   pvid,
				"dev":  dev.Path,
				"prev": info.dev.Path,
			}).Warn("PV was already found on another device")

			c.foundDuplicatePVs = true
			dev.PVID = pvid

			// Keep the existing PV/dev in the cache and save the new
			// duplicate. After scanning completes the duplicates are
			// compared against the cached devs, and the cache switches to
			// a duplicate when it's preferred.
			c.foundDuplicates = append(c.foundDuplicates, dev)
			metrics.DuplicatePVsFoundTotal.Inc()
			return nil
		}

		if !metadata.ID(info.dev.PVID).IsNil() && !pvid.IsNil() && info.dev.PVID != pvid {
			// This happens when re-creating a PV on an existing device.
			log.WithFields(log.Fields{
				"dev":  info.dev.Path,
				"from": metadata.ID(info.dev.PVID),
				"to":   pvid,
			}).Debug("changing pvid on device")
		}

		if info.lbl.Labeller != labeller {
			log.WithFields(log.Fields{
				"dev":  info.dev.Path,
				"from": info.lbl.Labeller.Name(),
				"to":   labeller.Name(),
			}).Debug("changing labeller on device")
			info.lbl = label.New(labeller)
			info.fmt = labeller.Format()
		}
	}

	// Add or update the pvid index entry for the Info.
	if c.infos[pvid] != info || info.dev.PVID != pvid {
		if !metadata.ID(info.dev.PVID).IsNil() {
			delete(c.infos, info.dev.PVID)
		}
		info.dev.PVID = pvid
		c.infos[pvid] = info
	}

	var summary = VGSummary{VGName: vgname, VGID: vgid, VGStatus: vgstatus}
	if err := c.UpdateVGNameAndID(info, &summary); err != nil {
		if created {
			delete(c.infos, pvid)
			info.dev.PVID = metadata.NilID
		}
		log.WithFields(log.Fields{"vg": vgname, "err": err}).
			Error("failed to update VG info in cache")
		return nil
	}

	return info
}

// Del removes |info| from the cache: its pvid index entry is cleared and it
// detaches from its VGInfo, freeing the VGInfo if this was its last member.
func (c *Cache) Del(info *Info) {
	if !metadata.ID(info.dev.PVID).IsNil() && c.infos != nil {
		delete(c.infos, info.dev.PVID)
	}
	c.dropVGInfo(info, info.vginfo)
	info.lbl = nil
}

// DelDev removes the Info bound to |dev|, if any. An Info for the same PV id
// on a different device is left alone.
func (c *Cache) DelDev(dev *device.Device) {
	if info := c.InfoByPVID(dev.PVID, dev); info != nil {
		c.Del(info)
	}
}
