package cache

import (
	log "github.com/sirupsen/logrus"

	"go.pvcache.dev/core/metadata"
	"go.pvcache.dev/core/metrics"
)

// A VGSummary is the minimal per-device description of a VG produced by
// scanning: identity, status, and the metadata witness (seqno, mda size,
// mda checksum) claimed by one device.
type VGSummary struct {
	VGName       string
	VGID         metadata.ID
	VGStatus     metadata.VGStatus
	CreationHost string
	SystemID     string
	LockType     string

	Seqno       uint32
	MDASize     uint64
	MDAChecksum uint32
}

// UpdateVGNameAndID places (or re-places) |info| under the VG described by
// |summary|: the Info detaches from its current VGInfo, the target VGInfo
// is found or created, and the Info attaches there. When the summary
// carries a metadata witness, it is reconciled against the VGInfo's: the
// first witness wins, and later devices which disagree in seqno or checksum
// set the scan-summary-mismatch flag. A mismatching device is deliberately
// kept in the VG — evicting it would remove the chance to repair it.
func (c *Cache) UpdateVGNameAndID(info *Info, summary *VGSummary) error {
	var vgname = summary.VGName
	var vgid = summary.VGID

	if vgname == "" && info.vginfo == nil {
		log.Error("internal error: empty vgname handed to cache")
		vgname = info.fmt.OrphanVGName
		vgid = orphanID(vgname)
	}

	// If a PV without metadata areas is already in a real VG, don't move it
	// back to an orphan while devices are suspended: the metadata which
	// placed it there is unreadable right now.
	if IsOrphanVG(vgname) && info.vginfo != nil &&
		metadata.MDAsEmptyOrIgnored(info.mdas) &&
		!IsOrphanVG(info.vginfo.name) && c.cmd.CriticalSection {
		return nil
	}

	if err := c.updateVGName(info, vgname, vgid, summary.VGStatus,
		summary.CreationHost, info.fmt); err != nil {
		return err
	}
	c.updateVGID(info.vginfo, vgid)

	// Called from the vg_read path: no witness to reconcile.
	if summary.Seqno == 0 && summary.MDASize == 0 && summary.MDAChecksum == 0 {
		return nil
	}

	var vginfo = info.vginfo
	if vginfo == nil {
		return nil
	}

	if vginfo.seqno == 0 {
		vginfo.seqno = summary.Seqno
		log.WithFields(log.Fields{
			"dev": info.dev.Path, "vg": vginfo.name, "seqno": vginfo.seqno,
		}).Debug("set VG seqno")
	} else if summary.Seqno != vginfo.seqno {
		log.WithFields(log.Fields{
			"vg":    vgname,
			"dev":   info.dev.Path,
			"seqno": summary.Seqno,
			"prev":  vginfo.seqno,
		}).Warn("scan of VG found mismatching metadata seqno")
		vginfo.scanSummaryMismatch = true
		metrics.ScanSummaryMismatchTotal.Inc()
		// Returning failure would remove this device from the cache, and
		// then it couldn't be rescanned or repaired.
		return nil
	}

	if vginfo.mdaSize == 0 {
		vginfo.mdaChecksum = summary.MDAChecksum
		vginfo.mdaSize = summary.MDASize
		log.WithFields(log.Fields{
			"dev": info.dev.Path, "vg": vginfo.name,
			"mdaChecksum": vginfo.mdaChecksum, "mdaSize": vginfo.mdaSize,
		}).Debug("set VG mda checksum and size")
	} else if vginfo.mdaSize != summary.MDASize || vginfo.mdaChecksum != summary.MDAChecksum {
		log.WithFields(log.Fields{
			"vg":          vgname,
			"dev":         info.dev.Path,
			"mdaChecksum": summary.MDAChecksum,
			"mdaSize":     summary.MDASize,
			"prevSum":     vginfo.mdaChecksum,
			"prevSize":    vginfo.mdaSize,
		}).Warn("scan of VG found mismatching mda checksum or size")
		vginfo.scanSummaryMismatch = true
		metrics.ScanSummaryMismatchTotal.Inc()
		return nil
	}

	// The device matched the witness; let it refresh the VG's facts.
	c.updateVGStatus(info, summary)
	return nil
}

// updateVGName moves |info| to the VGInfo of |vgname|, creating it if
// needed. A nil |info| registers the VGInfo alone (orphan seeding).
func (c *Cache) updateVGName(info *Info, vgname string, vgid metadata.ID,
	vgstatus metadata.VGStatus, creationHost string, fmt *metadata.Format) error {

	if vgname == "" || (info != nil && info.vginfo != nil && info.vginfo.name == vgname) {
		return nil
	}

	if info != nil {
		c.dropVGInfo(info, info.vginfo)
	}

	var vginfo = c.vgnameLookup(vgname, vgid)
	if vginfo == nil {
		vginfo = &VGInfo{name: vgname, fmt: fmt}

		// A different VG (different id) can exist with the same name. The
		// two keep separate VGInfos, with the secondary chained off the
		// primary rather than in the name index.
		c.insertVGInfo(vginfo, vgid, vgstatus, creationHost, c.vgnames[vgname])

		// Orphans appear last on enumeration; real VGs first.
		if IsOrphanVG(vgname) {
			c.vginfos = append(c.vginfos, vginfo)
		} else {
			c.vginfos = append([]*VGInfo{vginfo}, c.vginfos...)
		}
	}

	if info != nil {
		vginfo.attach(info)
	} else {
		c.updateVGID(vginfo, vgid)
	}

	c.setVGInfoLockState(vginfo, c.VGNameIsLocked(vgname))
	vginfo.fmt = fmt

	if info != nil {
		log.WithFields(log.Fields{
			"dev":  info.dev.Path,
			"vg":   vgname,
			"vgid": vginfo.id,
			"mdas": len(info.mdas),
		}).Debug("device now in VG")
	} else {
		log.WithField("vg", vgname).Debug("initialised VG")
	}
	return nil
}

// vgnameLookup is VGInfoByVGName without the miss logging, for the create
// path where a miss is the common case.
func (c *Cache) vgnameLookup(vgname string, vgid metadata.ID) *VGInfo {
	var vginfo = c.vgnames[vgname]
	if vginfo == nil {
		return nil
	}
	if !vgid.IsNil() {
		for ; vginfo != nil; vginfo = vginfo.next {
			if vginfo.id == vgid {
				return vginfo
			}
		}
		return nil
	}
	return vginfo
}

// updateVGID binds |vginfo| to |vgid| in the vgid index, releasing any
// prior binding.
func (c *Cache) updateVGID(vginfo *VGInfo, vgid metadata.ID) {
	if vgid.IsNil() || vginfo == nil || vginfo.id == vgid {
		return
	}
	if !vginfo.id.IsNil() {
		delete(c.vgids, vginfo.id)
	}
	vginfo.id = vgid
	c.vgids[vgid] = vginfo

	if !IsOrphanVG(vginfo.name) {
		log.WithFields(log.Fields{"vg": vginfo.name, "vgid": vgid}).
			Debug("set VGID")
	}
}

// updateVGStatus refreshes status, creation host, lock type, and system id
// of |info|'s VGInfo from |summary|. Strings are rewritten only when they
// actually change.
func (c *Cache) updateVGStatus(info *Info, summary *VGSummary) {
	if info == nil || info.vginfo == nil {
		return
	}
	var vginfo = info.vginfo

	if (vginfo.status^summary.VGStatus)&metadata.Exported != 0 {
		var state = "no longer"
		if summary.VGStatus&metadata.Exported != 0 {
			state = "now"
		}
		log.WithFields(log.Fields{"dev": info.dev.Path, "vg": vginfo.name, "exported": state}).
			Debug("VG exported state changed")
	}
	vginfo.status = summary.VGStatus

	if summary.CreationHost != "" && summary.CreationHost != vginfo.creationHost {
		vginfo.creationHost = summary.CreationHost
		log.WithFields(log.Fields{"dev": info.dev.Path, "vg": vginfo.name, "host": summary.CreationHost}).
			Debug("set creation host")
	}
	if summary.LockType != "" && summary.LockType != vginfo.lockType {
		vginfo.lockType = summary.LockType
		log.WithFields(log.Fields{"dev": info.dev.Path, "vg": vginfo.name, "lockType": summary.LockType}).
			Debug("set lock_type")
	}
	if summary.SystemID != "" && summary.SystemID != vginfo.systemID {
		vginfo.systemID = summary.SystemID
		log.WithFields(log.Fields{"dev": info.dev.Path, "vg": vginfo.name, "systemID": summary.SystemID}).
			Debug("set system_id")
	}
}

// UpdateVG re-places every PV of a fully-parsed VG through the update
// pipeline, correcting associations made from incomplete scan summaries
// (a PV with no metadata areas scans as an orphan until its VG's metadata
// names it). In cluster-daemon mode the VG is also saved for the
// suspend/resume window.
func (c *Cache) UpdateVG(vg *metadata.VG, precommitted bool) error {
	var summary = VGSummary{
		VGName:   vg.Name,
		VGID:     vg.ID,
		VGStatus: vg.Status,
		SystemID: vg.SystemID,
		LockType: vg.LockType,
	}

	for _, pv := range vg.PVs {
		if info := c.InfoByPVID(pv.ID, pv.Dev); info != nil {
			if err := c.UpdateVGNameAndID(info, &summary); err != nil {
				return err
			}
		}
	}

	if c.savedVGs != nil {
		c.SaveVG(vg, precommitted)
	}
	return nil
}
