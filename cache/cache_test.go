package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pvcache.dev/core/device"
	"go.pvcache.dev/core/metadata"
)

func TestSimpleAdd(t *testing.T) {
	var f = newTestFixture()
	var devA = testDev("/dev/sda", 8, 0, 2048)
	var p1, g1 = testID(1), testID(0x10)

	var info = f.cache.Add(f.labeller, p1, devA, "vg0", g1, 0)
	require.NotNil(t, info)

	info = f.cache.InfoByPVID(p1, nil)
	require.NotNil(t, info)
	assert.Equal(t, devA, info.Device())
	assert.Equal(t, "vg0", info.VGName())
	assert.False(t, info.IsOrphan())

	assert.Equal(t, []string{"vg0"}, f.cache.VGNames(false))
	assert.Equal(t, []metadata.ID{g1}, f.cache.VGIDs(false))
	assert.Equal(t, []metadata.ID{p1}, f.cache.PVIDs("vg0", metadata.NilID))

	// Index coherence: every lookup path resolves to the same entities.
	var vginfo = f.cache.VGInfoByVGID(g1)
	require.NotNil(t, vginfo)
	assert.Equal(t, vginfo, f.cache.VGInfoByVGName("vg0", metadata.NilID))
	assert.Equal(t, vginfo, f.cache.VGInfoByVGName("vg0", g1))
	assert.Equal(t, []*device.Device{devA}, f.cache.VGDevices(vginfo))

	var vgid, ok = f.cache.VGIDFromVGName("vg0")
	assert.True(t, ok)
	assert.Equal(t, g1, vgid)

	var name, found = f.cache.VGNameFromPVID(p1)
	assert.True(t, found)
	assert.Equal(t, "vg0", name)
}

func TestInfoByPVIDWithDeviceMismatch(t *testing.T) {
	var f = newTestFixture()
	var devA = testDev("/dev/sda", 8, 0, 2048)
	var devB = testDev("/dev/sdb", 8, 16, 2048)
	var p1 = testID(1)

	require.NotNil(t, f.cache.Add(f.labeller, p1, devA, "vg0", testID(0x10), 0))

	// A lookup naming a different device misses, protecting duplicate
	// handling from answering for the wrong path.
	assert.NotNil(t, f.cache.InfoByPVID(p1, devA))
	assert.Nil(t, f.cache.InfoByPVID(p1, devB))
}

func TestOrphanVGInfoPersistsWhenEmpty(t *testing.T) {
	var f = newTestFixture()
	require.NoError(t, f.cache.AddOrphanVGInfo(f.fmt.OrphanVGName, f.fmt))

	var devA = testDev("/dev/sda", 8, 0, 2048)
	var p1 = testID(1)
	var info = f.cache.Add(f.labeller, p1, devA, f.fmt.OrphanVGName, metadata.NilID, 0)
	require.NotNil(t, info)
	assert.True(t, info.IsOrphan())

	f.cache.Del(info)

	// The orphan VGInfo survives with no members.
	assert.NotNil(t, f.cache.VGInfoByVGName(f.fmt.OrphanVGName, metadata.NilID))

	// A real VG does not.
	var devB = testDev("/dev/sdb", 8, 16, 2048)
	info = f.cache.Add(f.labeller, testID(2), devB, "vg0", testID(0x10), 0)
	require.NotNil(t, info)
	f.cache.Del(info)
	assert.Nil(t, f.cache.VGInfoByVGName("vg0", metadata.NilID))
	assert.Nil(t, f.cache.VGInfoByVGID(testID(0x10)))
}

func TestDuplicateVGNameChain(t *testing.T) {
	var f = newTestFixture()
	var gX, gY = testID(0x10), testID(0x20)

	// First VG under the name is exported; the second is not, and takes
	// precedence as primary.
	var infoX = f.cache.Add(f.labeller, testID(1),
		testDev("/dev/sda", 8, 0, 2048), "dup", gX, metadata.Exported)
	require.NotNil(t, infoX)
	require.NoError(t, f.cache.UpdateVGNameAndID(infoX, &VGSummary{
		VGName:      "dup",
		VGID:        gX,
		VGStatus:    metadata.Exported,
		Seqno:       1,
		MDASize:     512,
		MDAChecksum: 0xAA,
	}))
	require.NotNil(t, f.cache.Add(f.labeller, testID(2),
		testDev("/dev/sdb", 8, 16, 2048), "dup", gY, 0))

	var primary = f.cache.VGInfoByVGName("dup", metadata.NilID)
	require.NotNil(t, primary)
	assert.Equal(t, gY, primary.ID())

	// Both remain retrievable by (name, id).
	require.NotNil(t, f.cache.VGInfoByVGName("dup", gX))
	assert.Equal(t, gX, f.cache.VGInfoByVGName("dup", gX).ID())
	require.NotNil(t, f.cache.VGInfoByVGName("dup", gY))

	// A name-to-id resolution is ambiguous with two VGs on the chain.
	var _, ok = f.cache.VGIDFromVGName("dup")
	assert.False(t, ok)

	// Removing the primary's last PV promotes the successor.
	f.cache.Del(f.cache.InfoByPVID(testID(2), nil))
	primary = f.cache.VGInfoByVGName("dup", metadata.NilID)
	require.NotNil(t, primary)
	assert.Equal(t, gX, primary.ID())

	vgid, ok := f.cache.VGIDFromVGName("dup")
	assert.True(t, ok)
	assert.Equal(t, gX, vgid)
}

func TestChainInsertionPrefersCreationHost(t *testing.T) {
	var f = newTestFixture()
	var gX, gY = testID(0x10), testID(0x20)

	require.NotNil(t, f.cache.Add(f.labeller, testID(1),
		testDev("/dev/sda", 8, 0, 2048), "dup", gX, 0))

	// Feed a creation host through the update pipeline for the second VG:
	// a VG created on this host takes precedence over one with no known
	// creation host.
	var devB = testDev("/dev/sdb", 8, 16, 2048)
	var info = f.cache.Add(f.labeller, testID(2), devB, "dup", gY, 0)
	require.NotNil(t, info)
	require.NoError(t, f.cache.UpdateVGNameAndID(info, &VGSummary{
		VGName:       "dup2",
		VGID:         gY,
		CreationHost: "host-a",
		Seqno:        1,
		MDASize:      512,
		MDAChecksum:  0xAA,
	}))

	// Re-read under the original shared name: a new vginfo for a third id
	// with creation host of this host becomes the primary.
	var devC = testDev("/dev/sdc", 8, 32, 2048)
	var gZ = testID(0x30)
	info = f.cache.Add(f.labeller, testID(3), devC, "dup3", gZ, 0)
	require.NotNil(t, info)
	require.NoError(t, f.cache.UpdateVGNameAndID(info, &VGSummary{
		VGName:       "dup",
		VGID:         gZ,
		CreationHost: "host-a",
		Seqno:        1,
		MDASize:      512,
		MDAChecksum:  0xBB,
	}))

	var primary = f.cache.VGInfoByVGName("dup", metadata.NilID)
	require.NotNil(t, primary)
	assert.Equal(t, gZ, primary.ID())
}

func TestDestroyRetainsOrphansAndGlobalLock(t *testing.T) {
	var f = newTestFixture()
	require.NoError(t, f.cache.AddOrphanVGInfo(f.fmt.OrphanVGName, f.fmt))

	require.NotNil(t, f.cache.Add(f.labeller, testID(1),
		testDev("/dev/sda", 8, 0, 2048), "vg0", testID(0x10), 0))

	require.NoError(t, f.cache.LockVGName(VGGlobal))
	f.cache.unusedDuplicates = []*device.Device{testDev("/dev/sdz", 8, 240, 2048)}

	f.cache.Destroy(true, false)

	// The cache was re-initialized: orphan VGInfos are back, the VG is
	// gone, the global lock was re-acquired, and the unused duplicates
	// moved onto the command for the next scan.
	assert.NotNil(t, f.cache.VGInfoByVGName(f.fmt.OrphanVGName, metadata.NilID))
	assert.Nil(t, f.cache.VGInfoByVGName("vg0", metadata.NilID))
	assert.True(t, f.cache.VGNameIsLocked(VGGlobal))
	assert.Len(t, f.cmd.UnusedDuplicates, 1)
	assert.False(t, f.cache.FoundDuplicatePVs())

	// A reset destroy forgets the global lock instead.
	f.cache.Destroy(true, true)
	assert.False(t, f.cache.VGNameIsLocked(VGGlobal))
}

func TestVGIDIsCachedAndForeign(t *testing.T) {
	var f = newTestFixture()
	var g1 = testID(0x10)

	assert.False(t, f.cache.VGIDIsCached(g1))

	var info = f.cache.Add(f.labeller, testID(1),
		testDev("/dev/sda", 8, 0, 2048), "vg0", g1, 0)
	require.NotNil(t, info)
	assert.True(t, f.cache.VGIDIsCached(g1))

	// An orphan vgid is not considered cached.
	require.NoError(t, f.cache.AddOrphanVGInfo(f.fmt.OrphanVGName, f.fmt))
	assert.False(t, f.cache.VGIDIsCached(orphanID(f.fmt.OrphanVGName)))

	// A VG is foreign iff it carries another host's system id.
	assert.False(t, f.cache.VGIsForeign(g1))
	assert.False(t, f.cache.ContainsLockType("sanlock"))
	require.NoError(t, f.cache.UpdateVGNameAndID(info, &VGSummary{
		VGName:      "vg0",
		VGID:        g1,
		SystemID:    "host-b",
		LockType:    "sanlock",
		Seqno:       1,
		MDASize:     512,
		MDAChecksum: 0xAA,
	}))
	assert.True(t, f.cache.VGIsForeign(g1))
	assert.True(t, f.cache.ContainsLockType("sanlock"))
}

func TestMaxNameLengths(t *testing.T) {
	var f = newTestFixture()
	require.NotNil(t, f.cache.Add(f.labeller, testID(1),
		testDev("/dev/sda", 8, 0, 2048), "vg0", testID(0x10), 0))
	require.NotNil(t, f.cache.Add(f.labeller, testID(2),
		testDev("/dev/disk/by-id/wwn-0x5000c500a1b2c3d4", 8, 16, 2048),
		"a-rather-long-vg-name", testID(0x20), 0))

	var pvMax, vgMax = f.cache.MaxNameLengths()
	assert.Equal(t, len("/dev/disk/by-id/wwn-0x5000c500a1b2c3d4"), pvMax)
	assert.Equal(t, len("a-rather-long-vg-name"), vgMax)
}

func TestPVIDFromDevName(t *testing.T) {
	var f = newTestFixture()
	var p1 = testID(1)
	require.NotNil(t, f.cache.Add(f.labeller, p1,
		testDev("/dev/sda", 8, 0, 2048), "vg0", testID(0x10), 0))

	var pvid, ok = f.cache.PVIDFromDevName("/dev/sda")
	assert.True(t, ok)
	assert.Equal(t, p1, pvid)

	_, ok = f.cache.PVIDFromDevName("/dev/missing")
	assert.False(t, ok)
}
