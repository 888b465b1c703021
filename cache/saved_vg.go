package cache

import (
	log "github.com/sirupsen/logrus"

	"go.pvcache.dev/core/metadata"
	"go.pvcache.dev/core/metrics"
)

// The saved-VG buffer exists for the cluster daemon's suspend/resume path.
// Between suspend and resume, devices are unreadable, so the daemon keeps
// both the pre-commit ("new") and committed ("old") metadata as fully parsed
// VGs and resumes logical volumes from whichever copy the commit outcome
// selects, without touching disks.
type savedVG struct {
	vgid      metadata.ID
	committed bool

	old *metadata.VG // Current (committed) metadata.
	new *metadata.VG // Precommitted metadata.

	// Displaced snapshots are not freed immediately: a caller may still
	// hold a reference from an earlier get. They queue here until the next
	// free cycle.
	toFree []*metadata.VG
}

// inval displaces the selected snapshots onto the deferred-free list.
func (svg *savedVG) inval(old, new bool) {
	if old && svg.old != nil {
		log.WithFields(log.Fields{"vg": svg.old.Name, "seqno": svg.old.Seqno}).
			Debug("invalidating saved old VG")
		svg.toFree = append(svg.toFree, svg.old)
		svg.old = nil
	}
	if new && svg.new != nil {
		log.WithFields(log.Fields{"vg": svg.new.Name, "seqno": svg.new.Seqno}).
			Debug("invalidating saved precommitted VG")
		svg.toFree = append(svg.toFree, svg.new)
		svg.new = nil
	}
}

// free releases the selected snapshots. Releasing the old side also drains
// the deferred-free list.
func (svg *savedVG) free(old, new bool) {
	if old {
		svg.old = nil
		svg.toFree = nil
	}
	if new {
		svg.new = nil
	}
}

// snapshots counts the live snapshots of the buffer.
func (svg *savedVG) snapshots() int {
	var n int
	if svg.old != nil {
		n++
	}
	if svg.new != nil {
		n++
	}
	return n
}

func (c *Cache) savedSnapshotGauge() {
	var n int
	for _, svg := range c.savedVGs {
		n += svg.snapshots()
	}
	metrics.SavedVGSnapshots.Set(float64(n))
}

// SaveVG stores an independent deep copy of |vg| in its precommitted or
// committed slot. Saving a seqno the slot already holds is a no-op; an
// older occupant is displaced onto the deferred-free list first. The copy
// is made by exporting the VG to text and re-importing it, so that the
// saved VG shares nothing with the caller's.
//
// The buffer only operates in cluster-daemon mode; otherwise SaveVG is a
// no-op.
func (c *Cache) SaveVG(vg *metadata.VG, precommitted bool) {
	if c.savedVGs == nil {
		return
	}
	var old, new = !precommitted, precommitted

	var svg = c.savedVGs[vg.ID]
	if svg == nil {
		svg = &savedVG{vgid: vg.ID}
		c.savedVGs[vg.ID] = svg
	} else {
		// Nothing to do if this seqno is already saved.
		if old && svg.old != nil && svg.old.Seqno == vg.Seqno {
			return
		}
		if new && svg.new != nil && svg.new.Seqno == vg.Seqno {
			return
		}
		svg.inval(old, new)
	}

	var saved, err = roundTripVG(vg)
	if err != nil {
		log.WithFields(log.Fields{"vg": vg.Name, "pre": precommitted, "err": err}).
			Debug("failed to save VG")
		svg.inval(old, new)
		c.savedSnapshotGauge()
		return
	}

	if old {
		svg.old = saved
		log.WithFields(log.Fields{"vg": saved.Name, "seqno": saved.Seqno}).
			Debug("saved old VG")
	} else {
		svg.new = saved
		log.WithFields(log.Fields{"vg": saved.Name, "seqno": saved.Seqno}).
			Debug("saved precommitted VG")
	}
	c.savedSnapshotGauge()
}

// roundTripVG deep-copies a VG through the text codec.
func roundTripVG(vg *metadata.VG) (*metadata.VG, error) {
	var text, err = metadata.ExportVG(vg)
	if err != nil {
		return nil, err
	}
	return metadata.ImportVG(text)
}

// SavedVG returns the saved VG of |vgid| from the requested slot, or nil.
// The returned VG remains owned by the buffer: it stays valid until a drop
// or a later save displaces it.
//
// When the precommitted copy is returned while an older committed copy
// exists, the committed copy is invalidated eagerly: the precommitted
// metadata has been used, and the stale committed copy must not resurface.
// When the committed copy is requested but only the precommitted one
// exists, it is returned in its place iff the commit was recorded.
func (c *Cache) SavedVG(vgid metadata.ID, precommitted bool) *metadata.VG {
	var svg = c.savedVGs[vgid]
	if svg == nil {
		log.WithFields(log.Fields{"vgid": vgid, "pre": precommitted}).
			Debug("no saved VG")
		return nil
	}

	var vg *metadata.VG
	if precommitted {
		vg = svg.new
	} else {
		vg = svg.old

		// Once committed, the precommitted copy serves as both old and new.
		if vg == nil && svg.committed && svg.new != nil {
			log.WithFields(log.Fields{"vgid": vgid, "seqno": svg.new.Seqno}).
				Warn("returning committed precommitted VG; old copy is gone")
			vg = svg.new
		}
	}

	if vg != nil && precommitted {
		c.invalStaleOld(svg, vg)
	}

	if vg == nil && precommitted && svg.old != nil {
		log.WithFields(log.Fields{
			"vgid": vgid, "have": "old", "seqno": svg.old.Seqno, "vg": svg.old.Name,
		}).Warn("saved VG wanted precommitted but only have committed")
	}
	if vg == nil && !precommitted && svg.new != nil {
		log.WithFields(log.Fields{
			"vgid": vgid, "have": "new", "seqno": svg.new.Seqno, "vg": svg.new.Name,
		}).Warn("saved VG wanted committed but only have precommitted")
	}
	if vg == nil {
		log.WithFields(log.Fields{"vgid": vgid, "pre": precommitted}).
			Debug("no saved VG")
	}
	return vg
}

// SavedVGLatest returns the saved VG which the commit outcome selects: the
// precommitted copy once the commit is recorded, and the committed copy
// otherwise.
func (c *Cache) SavedVGLatest(vgid metadata.ID) *metadata.VG {
	var svg = c.savedVGs[vgid]
	if svg == nil {
		log.WithField("vgid", vgid).Debug("no saved VG")
		return nil
	}

	var vg *metadata.VG
	if svg.committed {
		vg = svg.new
		if vg != nil {
			c.invalStaleOld(svg, vg)
		}
	} else {
		vg = svg.old
	}

	if vg == nil {
		log.WithField("vgid", vgid).Debug("no saved VG latest")
	}
	return vg
}

// invalStaleOld displaces the committed copy when it is strictly older than
// the precommitted copy being handed out.
func (c *Cache) invalStaleOld(svg *savedVG, vg *metadata.VG) {
	if svg.old != nil && svg.old.Seqno < vg.Seqno {
		log.WithFields(log.Fields{
			"vg": vg.Name, "oldSeqno": svg.old.Seqno, "newSeqno": vg.Seqno,
		}).Debug("invalidating stale saved old VG")
		svg.inval(true, false)
		c.savedSnapshotGauge()
	}
}

// CommitMetadata records that the named VG's precommitted metadata was
// committed. No snapshot moves; reads now select the precommitted copy.
func (c *Cache) CommitMetadata(vgname string) {
	var vginfo = c.VGInfoByVGName(vgname, metadata.NilID)
	if vginfo == nil {
		return
	}
	if svg := c.savedVGs[vginfo.id]; svg != nil {
		svg.committed = true
	}
}

// DropMetadata frees the saved metadata of the named VG: only the
// precommitted copy with |dropPrecommitted|, both copies otherwise. An
// orphan name means every format's orphan VG, both copies. Nothing is
// dropped while the global lock is held.
func (c *Cache) DropMetadata(vgname string, dropPrecommitted bool) {
	if c.savedVGs == nil {
		return
	}
	if c.VGNameIsLocked(VGGlobal) {
		return
	}

	if IsOrphanVG(vgname) {
		for _, fmt := range c.cmd.Formats {
			c.dropMetadata(fmt.OrphanVGName, false)
		}
		return
	}
	c.dropMetadata(vgname, dropPrecommitted)
}

func (c *Cache) dropMetadata(vgname string, dropPrecommitted bool) {
	var vginfo = c.VGInfoByVGName(vgname, metadata.NilID)
	if vginfo == nil {
		return
	}
	var svg = c.savedVGs[vginfo.id]
	if svg == nil {
		return
	}
	if dropPrecommitted {
		svg.free(false, true)
	} else {
		svg.free(true, true)
	}
	c.savedSnapshotGauge()
}

// DropSavedVGID invalidates both saved copies of |vgid|.
func (c *Cache) DropSavedVGID(vgid metadata.ID) {
	if svg := c.savedVGs[vgid]; svg != nil {
		svg.inval(true, true)
		c.savedSnapshotGauge()
	}
}
