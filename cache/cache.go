// Package cache implements the in-memory metadata cache of the volume
// manager. The cache indexes every physical volume (PV) observed on the
// host and aggregates PVs into the volume groups (VGs) they belong to, so
// that commands can resolve names, find devices, and enforce consistency
// without re-reading disk labels each time.
//
// The cache has the lifetime of one command. It is populated by an external
// label scan, consulted while the command processes VGs, and destroyed (and
// possibly rebuilt) as the command's view of the disks changes. All cache
// state is read and changed on the command's thread; only the label reads
// of a scan run concurrently, and the scan waits for them before applying
// their results.
package cache

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"go.pvcache.dev/core/device"
	"go.pvcache.dev/core/metadata"
	"go.pvcache.dev/core/metrics"
)

const (
	// VGGlobal is the reserved name of the global lock. It orders before
	// every other lock name.
	VGGlobal = "#global"
	// VGOrphans is the reserved lock name aliasing the orphan VG of every
	// format. It orders after every other lock name.
	VGOrphans = "#orphans"
)

// IsGlobalVG returns true iff |vgname| is the global lock name.
func IsGlobalVG(vgname string) bool { return vgname == VGGlobal }

// IsOrphanVG returns true iff |vgname| names an orphan VG of any format.
func IsOrphanVG(vgname string) bool {
	return vgname == "" || strings.HasPrefix(vgname, VGOrphans)
}

// orphanID derives the fixed VG id of an orphan VG from its name.
func orphanID(vgname string) metadata.ID {
	var id metadata.ID
	copy(id[:], vgname)
	return id
}

// A Command carries the per-command state which outlives cache rebuilds.
// One command may fill, destroy, and re-fill the cache several times; the
// duplicate-device choices and the global-lock state must be stable across
// those rebuilds, so they live here rather than on the Cache.
type Command struct {
	// Hostname of this host, compared against VG creation hosts.
	Hostname string
	// SystemID of this host, compared against VG system ids.
	SystemID string
	// DevTypes is the host's device-type table.
	DevTypes *device.Types
	// Formats known to the command. Each contributes an orphan VG.
	Formats []*metadata.Format
	// MetadataSources are file-backed metadata locations scanned after
	// devices. VGs found here are exempt from device rescans.
	MetadataSources []*metadata.FileSource
	// SizeCache of device sizes, invalidated when the last VG lock drops.
	SizeCache *device.SizeCache
	// ScanWorkers bounds concurrent label reads during a scan.
	// Zero selects a default.
	ScanWorkers int
	// IsClusterDaemon enables the saved-VG buffer used across the cluster
	// suspend/resume window.
	IsClusterDaemon bool
	// RescanIndependent opts VGs with file-sourced metadata into the
	// per-VG rescan path. The default preserves the historical contract:
	// such VGs skip rescans and retain their cached associations.
	RescanIndependent bool
	// CriticalSection is set by the activation layer while devices are
	// suspended. Some cache moves are suppressed during it.
	CriticalSection bool

	// UnusedDuplicates carries unchosen duplicate devices across cache
	// rebuilds, so each rebuild prefers the same devices.
	UnusedDuplicates []*device.Device

	// Global lock held when the cache was last destroyed; re-locked by the
	// next Init.
	globalLockHeld bool
}

// A Cache is the in-memory metadata cache. It owns every Info and VGInfo;
// devices and labellers are borrowed.
type Cache struct {
	cmd *Command

	infos   map[metadata.ID]*Info   // PV id → Info
	vgids   map[metadata.ID]*VGInfo // VG id → VGInfo
	vgnames map[string]*VGInfo      // VG name → primary VGInfo (chain head)
	vginfos []*VGInfo               // Ordered: real VGs first, orphans last.

	locks         map[string]struct{}
	vgsLocked     int
	suppressOrder bool

	foundDuplicates   []*device.Device
	unusedDuplicates  []*device.Device
	foundDuplicatePVs bool

	savedVGs map[metadata.ID]*savedVG

	scanning   bool
	hasScanned bool
}

// New returns an initialized Cache bound to |cmd|.
func New(cmd *Command) *Cache {
	var c = &Cache{cmd: cmd}
	c.Init()
	return c
}

// Init (re-)initializes the cache's indexes. Re-initializing clears the
// internal record of held locks; the global lock can legitimately be held
// across a rebuild, so its state is restored from the Command.
func (c *Cache) Init() {
	c.vgsLocked = 0

	c.infos = make(map[metadata.ID]*Info)
	c.vgids = make(map[metadata.ID]*VGInfo)
	c.vgnames = make(map[string]*VGInfo)
	c.vginfos = nil
	c.locks = make(map[string]struct{})

	c.foundDuplicates = nil
	c.unusedDuplicates = nil
	c.foundDuplicatePVs = false

	if c.cmd.IsClusterDaemon {
		c.savedVGs = make(map[metadata.ID]*savedVG)
	}

	if c.cmd.globalLockHeld {
		_ = c.LockVGName(VGGlobal)
		c.cmd.globalLockHeld = false
	}
}

// Destroy drops every cached Info and VGInfo. Locks still held are reported
// as programming errors, except the global lock, which is remembered and
// re-acquired by the next Init. The current unused-duplicates list moves
// onto the Command so the next scan within the same command makes the same
// duplicate choices. With |retainOrphans|, the cache is re-initialized and
// re-seeded with each format's orphan VGInfo.
func (c *Cache) Destroy(retainOrphans, reset bool) {
	log.Debug("dropping VG info")

	c.hasScanned = false

	c.vgids = nil

	for _, info := range c.infos {
		c.destroyInfo(info)
	}
	c.infos = nil

	// Free each name chain. freeVGInfo rewires c.vgnames as it goes, so
	// walk a snapshot of the primaries.
	var primaries []*VGInfo
	for _, vginfo := range c.vgnames {
		primaries = append(primaries, vginfo)
	}
	for _, vginfo := range primaries {
		for vginfo != nil {
			var next = vginfo.next
			c.freeVGInfo(vginfo)
			vginfo = next
		}
	}
	c.vgnames = nil

	if reset {
		c.cmd.globalLockHeld = false
	} else {
		for vgname := range c.locks {
			if vgname == VGGlobal {
				c.cmd.globalLockHeld = true
			} else {
				log.WithField("vg", vgname).
					Error("internal error: VG was not unlocked")
			}
		}
	}
	c.locks = nil
	metrics.VGsLocked.Sub(float64(c.vgsLocked))
	c.vgsLocked = 0

	for _, svg := range c.savedVGs {
		svg.free(true, true)
	}
	c.savedVGs = nil
	metrics.SavedVGSnapshots.Set(0)

	if len(c.vginfos) != 0 {
		log.Error("internal error: vginfos list should be empty")
	}
	c.vginfos = nil

	c.cmd.UnusedDuplicates = append([]*device.Device(nil), c.unusedDuplicates...)
	c.unusedDuplicates = nil
	c.foundDuplicates = nil
	c.foundDuplicatePVs = false

	if retainOrphans {
		c.Init()
		for _, fmt := range c.cmd.Formats {
			if err := c.AddOrphanVGInfo(fmt.OrphanVGName, fmt); err != nil {
				log.WithFields(log.Fields{"format": fmt.Name, "err": err}).
					Error("failed to re-add orphan VG info")
			}
		}
	}
}

// destroyInfo tears down one Info at cache destroy: no index maintenance is
// needed because the indexes themselves are being dropped.
func (c *Cache) destroyInfo(info *Info) {
	c.detachInfo(info)
	info.dev.PVID = metadata.NilID
	info.lbl = nil
}

// AddOrphanVGInfo registers the orphan VGInfo of a format.
func (c *Cache) AddOrphanVGInfo(vgname string, fmt *metadata.Format) error {
	return c.updateVGName(nil, vgname, orphanID(vgname), 0, "", fmt)
}

// A Seeder populates the cache from the external metadata daemon's current
// PV records, in place of a device scan.
type Seeder interface {
	Seed(c *Cache) error
}

// SeedFromDaemon populates the cache from |seeder| unless a scan or seed
// already happened.
func (c *Cache) SeedFromDaemon(seeder Seeder) error {
	if seeder == nil || c.hasScanned {
		return nil
	}
	if err := seeder.Seed(c); err != nil {
		return err
	}
	c.hasScanned = true
	return nil
}

// scanWorkers returns the configured label-read concurrency.
func (c *Cache) scanWorkers() int {
	if c.cmd.ScanWorkers > 0 {
		return c.cmd.ScanWorkers
	}
	return 8
}
