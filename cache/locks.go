package cache

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"go.pvcache.dev/core/metadata"
	"go.pvcache.dev/core/metrics"
)

// vgnameOrderCorrect returns true iff |a| may be locked before |b|:
// the global lock comes first, orphan locks come last, and everything else
// is alphabetical.
func vgnameOrderCorrect(a, b string) bool {
	if IsGlobalVG(a) {
		return true
	}
	if IsGlobalVG(b) {
		return false
	}
	if IsOrphanVG(a) {
		return false
	}
	if IsOrphanVG(b) {
		return true
	}
	return a < b
}

// LockOrdering enables or suppresses lock-order verification.
func (c *Cache) LockOrdering(enable bool) { c.suppressOrder = !enable }

// VerifyLockOrder checks that |vgname| may be locked given the locks already
// held: every held lock must order before it. A violation is returned as a
// deadlock-class error.
func (c *Cache) VerifyLockOrder(vgname string) error {
	if c.suppressOrder || c.locks == nil {
		return nil
	}
	for held := range c.locks {
		if !vgnameOrderCorrect(held, vgname) {
			return errors.Errorf(
				"deadlock avoided: VG lock %s must be requested before %s, not after",
				vgname, held)
		}
	}
	return nil
}

// LockVGName records the named VG lock as held and propagates the locked
// state to the VG's cached PVs. Acquiring out of order fails; locking a
// name twice is a programming error which is logged, and the lock state is
// left as-is.
func (c *Cache) LockVGName(vgname string) error {
	if _, held := c.locks[vgname]; held {
		log.WithField("vg", vgname).Error("internal error: nested locking attempted on VG")
		return nil
	}
	if err := c.VerifyLockOrder(vgname); err != nil {
		return err
	}
	c.locks[vgname] = struct{}{}

	if !IsGlobalVG(vgname) {
		c.updateLockState(vgname, true)
		c.vgsLocked++
		metrics.VGsLocked.Inc()
	}
	return nil
}

// UnlockVGName clears the named VG lock. Unlocking an unheld name is a
// programming error which is logged. When the last VG lock drops, every
// cached device size is invalidated: a VG change may have resized devices
// under us.
func (c *Cache) UnlockVGName(vgname string) {
	if _, held := c.locks[vgname]; !held {
		log.WithField("vg", vgname).Error("internal error: attempt to unlock unlocked VG")
	}

	if !IsGlobalVG(vgname) {
		c.updateLockState(vgname, false)
	}
	delete(c.locks, vgname)

	if !IsGlobalVG(vgname) {
		c.vgsLocked--
		metrics.VGsLocked.Dec()
		if c.vgsLocked == 0 && c.cmd.SizeCache != nil {
			c.cmd.SizeCache.Bump()
		}
	}
}

// VGNameIsLocked returns true iff the named VG's lock is held. Any orphan
// name aliases to the shared orphan lock.
func (c *Cache) VGNameIsLocked(vgname string) bool {
	if c.locks == nil {
		return false
	}
	if IsOrphanVG(vgname) {
		vgname = VGOrphans
	}
	var _, held = c.locks[vgname]
	return held
}

// VGsLocked returns the number of VG locks currently held.
func (c *Cache) VGsLocked() int { return c.vgsLocked }

// updateLockState propagates |locked| to every cached PV of the named VG.
func (c *Cache) updateLockState(vgname string, locked bool) {
	var vginfo = c.vgnameLookup(vgname, metadata.NilID)
	if vginfo == nil {
		return
	}
	c.setVGInfoLockState(vginfo, locked)
}

// setVGInfoLockState sets or clears CacheLocked on every member of |vginfo|.
func (c *Cache) setVGInfoLockState(vginfo *VGInfo, locked bool) {
	for _, info := range vginfo.infos {
		if locked {
			info.status |= CacheLocked
		} else {
			info.status &^= CacheLocked
		}
	}
}
