package cache

import (
	log "github.com/sirupsen/logrus"

	"go.pvcache.dev/core/device"
	"go.pvcache.dev/core/label"
	"go.pvcache.dev/core/metadata"
)

// InfoByPVID returns the Info of |pvid|, or nil. When the caller knows which
// device it's working with, it passes |dev|: if the cached Info is bound to
// a different device the lookup misses, which keeps duplicate devices from
// being confused with the chosen one.
func (c *Cache) InfoByPVID(pvid metadata.ID, dev *device.Device) *Info {
	if c.infos == nil || pvid.IsNil() {
		return nil
	}
	var info = c.infos[pvid]
	if info == nil {
		return nil
	}
	if dev != nil && info.dev != nil && info.dev != dev {
		log.WithFields(log.Fields{
			"pv":        pvid,
			"dev":       dev.Path,
			"cachedDev": info.dev.Path,
		}).Debug("ignoring cache info for unrequested device")
		return nil
	}
	return info
}

// VGInfoByVGName returns the VGInfo of |vgname|. A supplied |vgid| must
// match and selects among VGs sharing the name; without it the primary is
// returned. An empty |vgname| falls through to the vgid index.
func (c *Cache) VGInfoByVGName(vgname string, vgid metadata.ID) *VGInfo {
	if vgname == "" {
		return c.VGInfoByVGID(vgid)
	}
	if c.vgnames == nil {
		log.Debug("internal error: cache is not yet initialized")
		return nil
	}

	var vginfo = c.vgnames[vgname]
	if vginfo == nil {
		log.WithField("vg", vgname).Debug("cache has no info for vgname")
		return nil
	}

	if !vgid.IsNil() {
		for ; vginfo != nil; vginfo = vginfo.next {
			if vginfo.id == vgid {
				return vginfo
			}
		}
		log.WithFields(log.Fields{"vg": vgname, "vgid": vgid}).
			Debug("cache has not found vgname with vgid")
		return nil
	}
	return vginfo
}

// VGInfoByVGID returns the VGInfo of |vgid|, or nil.
func (c *Cache) VGInfoByVGID(vgid metadata.ID) *VGInfo {
	if c.vgids == nil || vgid.IsNil() {
		return nil
	}
	var vginfo = c.vgids[vgid]
	if vginfo == nil {
		log.WithField("vgid", vgid).Debug("cache has no info for vgid")
	}
	return vginfo
}

// VGNameFromVGID returns the name of the VG of |vgid|.
func (c *Cache) VGNameFromVGID(vgid metadata.ID) (string, bool) {
	if vginfo := c.VGInfoByVGID(vgid); vginfo != nil {
		return vginfo.name, true
	}
	return "", false
}

// VGIDFromVGName resolves |vgname| to its VG id. It fails when several VGs
// share the name, because the caller's intent is ambiguous.
func (c *Cache) VGIDFromVGName(vgname string) (metadata.ID, bool) {
	var vginfo = c.vgnames[vgname]
	if vginfo == nil {
		return metadata.NilID, false
	}
	if vginfo.next != nil {
		return metadata.NilID, false
	}
	return vginfo.id, true
}

// VGNameFromPVID returns the VG name of the PV |pvid|.
func (c *Cache) VGNameFromPVID(pvid metadata.ID) (string, bool) {
	var info = c.InfoByPVID(pvid, nil)
	if info == nil || info.vginfo == nil {
		return "", false
	}
	return info.vginfo.name, true
}

// DeviceFromPVID returns the cached device of |pvid| and its label sector.
func (c *Cache) DeviceFromPVID(pvid metadata.ID) (*device.Device, uint64) {
	var info = c.InfoByPVID(pvid, nil)
	if info == nil {
		log.WithField("pv", pvid).Debug("no device with PV id")
		return nil, 0
	}
	var sector uint64
	if info.lbl != nil {
		sector = info.lbl.Sector
	}
	return info.dev, sector
}

// PVIDFromDevName returns the PV id of the device named |devname|, from the
// cached infos.
func (c *Cache) PVIDFromDevName(devname string) (metadata.ID, bool) {
	for pvid, info := range c.infos {
		if info.dev.Path == devname {
			return pvid, true
		}
	}
	return metadata.NilID, false
}

// HasDevInfo returns true iff the cache holds an Info for |dev|'s PV id.
func (c *Cache) HasDevInfo(dev *device.Device) bool {
	return c.InfoByPVID(dev.PVID, nil) != nil
}

// DevLabel returns the cached label of |dev|, or nil. A device which is an
// unchosen duplicate of the cached one returns nil.
func (c *Cache) DevLabel(dev *device.Device) *label.Label {
	if info := c.InfoByPVID(dev.PVID, nil); info != nil && info.dev == dev {
		return info.lbl
	}
	return nil
}

// A NameID pairs a VG name with its id.
type NameID struct {
	Name string
	ID   metadata.ID
}

// VGNameIDs enumerates cached VGs as (name, id) pairs, real VGs first and
// orphans last. Orphan VGs are skipped unless |includeInternal|.
func (c *Cache) VGNameIDs(includeInternal bool) []NameID {
	var out []NameID
	for _, vginfo := range c.vginfos {
		if !includeInternal && IsOrphanVG(vginfo.name) {
			continue
		}
		out = append(out, NameID{Name: vginfo.name, ID: vginfo.id})
	}
	return out
}

// VGNames enumerates cached VG names.
func (c *Cache) VGNames(includeInternal bool) []string {
	var out []string
	for _, vginfo := range c.vginfos {
		if !includeInternal && IsOrphanVG(vginfo.name) {
			continue
		}
		out = append(out, vginfo.name)
	}
	return out
}

// VGIDs enumerates cached VG ids.
func (c *Cache) VGIDs(includeInternal bool) []metadata.ID {
	var out []metadata.ID
	for _, vginfo := range c.vginfos {
		if !includeInternal && IsOrphanVG(vginfo.name) {
			continue
		}
		out = append(out, vginfo.id)
	}
	return out
}

// PVIDs enumerates the PV ids of the named VG.
func (c *Cache) PVIDs(vgname string, vgid metadata.ID) []metadata.ID {
	var vginfo = c.VGInfoByVGName(vgname, vgid)
	if vginfo == nil {
		return nil
	}
	var out []metadata.ID
	for _, info := range vginfo.infos {
		out = append(out, info.dev.PVID)
	}
	return out
}

// VGDevices returns the devices of |vginfo|'s members.
func (c *Cache) VGDevices(vginfo *VGInfo) []*device.Device {
	var out []*device.Device
	for _, info := range vginfo.infos {
		out = append(out, info.dev)
	}
	return out
}

// ForeachPV applies |fn| to each member Info of |vginfo|, stopping on error.
func (c *Cache) ForeachPV(vginfo *VGInfo, fn func(*Info) error) error {
	for _, info := range vginfo.infos {
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

// FIDAddMDAsVG attaches the metadata areas of every member of |vginfo| to a
// format instance.
func (c *Cache) FIDAddMDAsVG(vginfo *VGInfo, fi *metadata.FormatInstance) {
	for _, info := range vginfo.infos {
		info.FIDAddMDAs(fi)
	}
}

// MaxNameLengths returns the longest cached PV device name and VG name, for
// sizing report columns.
func (c *Cache) MaxNameLengths() (pvMaxNameLen, vgMaxNameLen int) {
	for _, vginfo := range c.vginfos {
		if n := len(vginfo.name); n > vgMaxNameLen {
			vgMaxNameLen = n
		}
		for _, info := range vginfo.infos {
			if n := len(info.dev.Path); n > pvMaxNameLen {
				pvMaxNameLen = n
			}
		}
	}
	return
}

// VGIDIsCached returns true iff |vgid| maps to a cached, non-orphan VG.
func (c *Cache) VGIDIsCached(vgid metadata.ID) bool {
	var vginfo = c.VGInfoByVGID(vgid)
	if vginfo == nil || vginfo.name == "" {
		return false
	}
	return !IsOrphanVG(vginfo.name)
}

// VGIsForeign returns true iff the VG of |vgid| carries a system id other
// than this host's.
func (c *Cache) VGIsForeign(vgid metadata.ID) bool {
	var vginfo = c.VGInfoByVGID(vgid)
	if vginfo == nil {
		return false
	}
	return vginfo.systemID != "" && vginfo.systemID != c.cmd.SystemID
}

// ContainsLockType returns true iff any cached VG uses the named lock type.
func (c *Cache) ContainsLockType(lockType string) bool {
	for _, vginfo := range c.vginfos {
		if vginfo.lockType == lockType {
			return true
		}
	}
	return false
}

// SetIndependentLocation marks the named VG's metadata as file-sourced,
// which exempts it from device rescans.
func (c *Cache) SetIndependentLocation(vgname string) {
	if vginfo := c.VGInfoByVGName(vgname, metadata.NilID); vginfo != nil {
		vginfo.independentMetadataLocation = true
	}
}

// ScanMismatch reports whether devices of the identified VG disagreed about
// its metadata during the scan. An unknown VG reports true: the caller
// cannot assume a consistent scan it never saw.
func (c *Cache) ScanMismatch(vgname string, vgid metadata.ID) bool {
	if vgname == "" || vgid.IsNil() {
		return true
	}
	if vginfo := c.VGInfoByVGID(vgid); vginfo != nil {
		return vginfo.scanSummaryMismatch
	}
	return true
}

// LookupMDA fills |summary| from a cached VGInfo whose metadata checksum and
// size match, letting a scan skip re-parsing identical metadata text.
func (c *Cache) LookupMDA(summary *VGSummary) bool {
	if summary.MDASize == 0 {
		return false
	}
	for _, vginfo := range c.vginfos {
		if vginfo.mdaChecksum == summary.MDAChecksum && vginfo.mdaSize == summary.MDASize &&
			!IsOrphanVG(vginfo.name) {
			summary.VGName = vginfo.name
			summary.CreationHost = vginfo.creationHost
			summary.VGStatus = vginfo.status
			summary.Seqno = vginfo.seqno
			summary.VGID = vginfo.id
			return true
		}
	}
	return false
}
