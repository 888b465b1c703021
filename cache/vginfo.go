package cache

import (
	log "github.com/sirupsen/logrus"

	"go.pvcache.dev/core/metadata"
)

// A VGInfo aggregates the cached Infos of one VG, identified by its
// (name, id) pair. VG names are not unique: when several VGs share a name,
// the primary VGInfo is the one in the name index and the others are
// chained through next. Only the primary is found by a name-only lookup.
type VGInfo struct {
	name string
	id   metadata.ID
	fmt  *metadata.Format

	status       metadata.VGStatus
	lockType     string
	systemID     string
	creationHost string

	// Metadata witness, recorded from the first device which supplied it.
	seqno       uint32
	mdaSize     uint64
	mdaChecksum uint32

	// scanSummaryMismatch is set when a later device disagrees with the
	// witness in seqno or checksum.
	scanSummaryMismatch bool
	// independentMetadataLocation is set when the VG's metadata was read
	// from a file rather than from device metadata areas.
	independentMetadataLocation bool

	next  *VGInfo
	infos []*Info
}

// Name of the VG.
func (v *VGInfo) Name() string { return v.name }

// ID of the VG.
func (v *VGInfo) ID() metadata.ID { return v.id }

// Format of the VG.
func (v *VGInfo) Format() *metadata.Format { return v.fmt }

// Status bits of the VG.
func (v *VGInfo) Status() metadata.VGStatus { return v.status }

// SystemID of the VG.
func (v *VGInfo) SystemID() string { return v.systemID }

// LockType of the VG.
func (v *VGInfo) LockType() string { return v.lockType }

// CreationHost of the VG.
func (v *VGInfo) CreationHost() string { return v.creationHost }

// Seqno of the recorded metadata witness.
func (v *VGInfo) Seqno() uint32 { return v.seqno }

// ScanSummaryMismatch reports whether devices of the VG disagreed about its
// metadata during the scan.
func (v *VGInfo) ScanSummaryMismatch() bool { return v.scanSummaryMismatch }

// IndependentMetadataLocation reports whether the VG's metadata came from a
// file-backed location.
func (v *VGInfo) IndependentMetadataLocation() bool { return v.independentMetadataLocation }

// attach links |info| into the VGInfo's member list.
func (v *VGInfo) attach(info *Info) {
	info.vginfo = v
	v.infos = append(v.infos, info)
}

// detachInfo unlinks |info| from its VGInfo, if any.
func (c *Cache) detachInfo(info *Info) {
	var v = info.vginfo
	if v == nil {
		return
	}
	for i, other := range v.infos {
		if other == info {
			v.infos = append(v.infos[:i], v.infos[i+1:]...)
			break
		}
	}
	info.vginfo = nil
}

// dropVGInfo detaches |info| (when non-nil) and frees |vginfo| once its last
// member detaches. Orphan VGInfos persist when empty.
func (c *Cache) dropVGInfo(info *Info, vginfo *VGInfo) {
	if info != nil {
		c.detachInfo(info)
	}
	if vginfo == nil || IsOrphanVG(vginfo.name) || len(vginfo.infos) != 0 {
		return
	}
	c.freeVGInfo(vginfo)
}

// freeVGInfo removes |vginfo| from every index: the name chain is rewired
// (the successor is promoted when removing the primary, or the entry is
// spliced out mid-chain), the vgid entry is removed if it still points here,
// and the VGInfo leaves the ordered list.
func (c *Cache) freeVGInfo(vginfo *VGInfo) {
	var primary = c.vgnames[vginfo.name]

	if primary == vginfo {
		delete(c.vgnames, vginfo.name)
		if vginfo.next != nil {
			c.vgnames[vginfo.name] = vginfo.next
		}
	} else {
		for prev := primary; prev != nil; prev = prev.next {
			if prev.next == vginfo {
				prev.next = vginfo.next
				break
			}
		}
	}
	vginfo.next = nil

	if !vginfo.id.IsNil() && c.vgids != nil && c.vgids[vginfo.id] == vginfo {
		delete(c.vgids, vginfo.id)
	}

	for i, v := range c.vginfos {
		if v == vginfo {
			c.vginfos = append(c.vginfos[:i], c.vginfos[i+1:]...)
			break
		}
	}
}

// insertVGInfo places |vginfo| under its name in the name index. When the
// name is already taken by a different VG, one of the two becomes the
// primary by precedence:
//
//	If   primary not exported, new exported => keep
//	Else primary exported, new not exported => change
//	Else primary created on this host       => keep
//	Else primary has no creation host, new has one => change
//	Else new created on this host           => change
//	Else keep primary.
//
// The loser joins the winner's chain.
func (c *Cache) insertVGInfo(vginfo *VGInfo, vgid metadata.ID,
	vgstatus metadata.VGStatus, creationHost string, primary *VGInfo) {

	var useNew bool

	if primary != nil {
		var fields = log.Fields{
			"vg":      vginfo.name,
			"primary": primary.id,
			"new":     vgid,
		}

		if primary.status&metadata.Exported == 0 && vgstatus&metadata.Exported != 0 {
			log.WithFields(fields).Debug("duplicate VG name: existing takes precedence over exported")
		} else if primary.status&metadata.Exported != 0 && vgstatus&metadata.Exported == 0 {
			log.WithFields(fields).Debug("duplicate VG name: new takes precedence over exported")
			useNew = true
		} else if primary.creationHost != "" && primary.creationHost == c.cmd.Hostname {
			log.WithFields(fields).Debug("duplicate VG name: existing (created here) takes precedence")
		} else if primary.creationHost == "" && creationHost != "" {
			log.WithFields(fields).Debug("duplicate VG name: new (with creation host) takes precedence")
			useNew = true
		} else if creationHost != "" && creationHost == c.cmd.Hostname {
			log.WithFields(fields).Debug("duplicate VG name: new (created here) takes precedence")
			useNew = true
		} else {
			log.WithFields(fields).Debug("duplicate VG name: prefer existing")
		}

		if !useNew {
			var last = primary
			for last.next != nil {
				last = last.next
			}
			last.next = vginfo
			return
		}

		delete(c.vgnames, primary.name)
	}

	c.vgnames[vginfo.name] = vginfo
	if primary != nil {
		vginfo.next = primary
	}
}
