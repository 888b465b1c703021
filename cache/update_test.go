package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pvcache.dev/core/metadata"
)

func TestWitnessMismatchKeepsBothPVs(t *testing.T) {
	var f = newTestFixture()
	var g1 = testID(0x10)

	var infoA = f.cache.Add(f.labeller, testID(1),
		testDev("/dev/sda", 8, 0, 2048), "vg0", g1, 0)
	require.NotNil(t, infoA)
	require.NoError(t, f.cache.UpdateVGNameAndID(infoA, &VGSummary{
		VGName: "vg0", VGID: g1, Seqno: 5, MDASize: 512, MDAChecksum: 0xAAAA,
	}))
	assert.False(t, f.cache.ScanMismatch("vg0", g1))

	// A second device claims a newer seqno with the same checksum. The
	// mismatch is recorded but the device stays in the VG so it can be
	// repaired.
	var infoB = f.cache.Add(f.labeller, testID(2),
		testDev("/dev/sdb", 8, 16, 2048), "vg0", g1, 0)
	require.NotNil(t, infoB)
	require.NoError(t, f.cache.UpdateVGNameAndID(infoB, &VGSummary{
		VGName: "vg0", VGID: g1, Seqno: 6, MDASize: 512, MDAChecksum: 0xAAAA,
	}))

	assert.True(t, f.cache.ScanMismatch("vg0", g1))
	var vginfo = f.cache.VGInfoByVGID(g1)
	require.NotNil(t, vginfo)
	assert.Len(t, f.cache.VGDevices(vginfo), 2)

	// The witness keeps the first claim.
	assert.Equal(t, uint32(5), vginfo.Seqno())
}

func TestWitnessChecksumMismatch(t *testing.T) {
	var f = newTestFixture()
	var g1 = testID(0x10)

	var infoA = f.cache.Add(f.labeller, testID(1),
		testDev("/dev/sda", 8, 0, 2048), "vg0", g1, 0)
	require.NoError(t, f.cache.UpdateVGNameAndID(infoA, &VGSummary{
		VGName: "vg0", VGID: g1, Seqno: 5, MDASize: 512, MDAChecksum: 0xAAAA,
	}))

	var infoB = f.cache.Add(f.labeller, testID(2),
		testDev("/dev/sdb", 8, 16, 2048), "vg0", g1, 0)
	require.NoError(t, f.cache.UpdateVGNameAndID(infoB, &VGSummary{
		VGName: "vg0", VGID: g1, Seqno: 5, MDASize: 512, MDAChecksum: 0xBBBB,
	}))

	assert.True(t, f.cache.ScanMismatch("vg0", g1))
}

func TestScanMismatchOfUnknownVG(t *testing.T) {
	var f = newTestFixture()
	assert.True(t, f.cache.ScanMismatch("", metadata.NilID))
	assert.True(t, f.cache.ScanMismatch("nope", testID(0x77)))
}

func TestVGReadPathSkipsWitness(t *testing.T) {
	var f = newTestFixture()
	var g1 = testID(0x10)

	var info = f.cache.Add(f.labeller, testID(1),
		testDev("/dev/sda", 8, 0, 2048), "vg0", g1, 0)
	require.NotNil(t, info)

	// A summary without seqno/size/checksum (the vg_read path) stops
	// before witness reconciliation and before status refresh.
	require.NoError(t, f.cache.UpdateVGNameAndID(info, &VGSummary{
		VGName: "vg0", VGID: g1, SystemID: "host-b",
	}))
	var vginfo = f.cache.VGInfoByVGID(g1)
	assert.Equal(t, uint32(0), vginfo.Seqno())
	assert.Equal(t, "", vginfo.SystemID())
}

func TestOrphanMoveSuppressedInCriticalSection(t *testing.T) {
	var f = newTestFixture()
	var g1 = testID(0x10)
	var p1 = testID(1)

	// An MDA-less PV placed in a real VG by vg_read.
	var info = f.cache.Add(f.labeller, p1,
		testDev("/dev/sda", 8, 0, 2048), "vg0", g1, 0)
	require.NotNil(t, info)
	assert.True(t, info.UncertainOwnership())

	// While devices are suspended, a scan summary claiming the PV is an
	// orphan must not displace it.
	f.cmd.CriticalSection = true
	require.NoError(t, f.cache.UpdateVGNameAndID(info, &VGSummary{
		VGName: f.fmt.OrphanVGName, VGID: orphanID(f.fmt.OrphanVGName),
	}))
	assert.Equal(t, "vg0", info.VGName())

	// Outside the critical section the move proceeds.
	f.cmd.CriticalSection = false
	require.NoError(t, f.cache.UpdateVGNameAndID(info, &VGSummary{
		VGName: f.fmt.OrphanVGName, VGID: orphanID(f.fmt.OrphanVGName),
	}))
	assert.True(t, info.IsOrphan())
}

func TestUpdateVGCorrectsOrphanPlacement(t *testing.T) {
	var f = newTestFixture()
	require.NoError(t, f.cache.AddOrphanVGInfo(f.fmt.OrphanVGName, f.fmt))

	var g1 = testID(0x10)
	var p1, p2 = testID(1), testID(2)
	var devA = testDev("/dev/sda", 8, 0, 2048)
	var devB = testDev("/dev/sdb", 8, 16, 2048)

	// The scan put the MDA-less devB in the orphan VG.
	require.NotNil(t, f.cache.Add(f.labeller, p1, devA, "vg0", g1, 0))
	require.NotNil(t, f.cache.Add(f.labeller, p2, devB, f.fmt.OrphanVGName, metadata.NilID, 0))

	// vg_read supplies the full VG; the pipeline re-places devB under it.
	var vg = &metadata.VG{
		Name:  "vg0",
		ID:    g1,
		Seqno: 3,
		PVs: []*metadata.PV{
			{ID: p1, DevicePath: devA.Path, Dev: devA},
			{ID: p2, DevicePath: devB.Path, Dev: devB},
		},
	}
	require.NoError(t, f.cache.UpdateVG(vg, false))

	var vginfo = f.cache.VGInfoByVGID(g1)
	require.NotNil(t, vginfo)
	assert.Len(t, f.cache.VGDevices(vginfo), 2)
	assert.Equal(t, "vg0", f.cache.InfoByPVID(p2, nil).VGName())
}

func TestUpdateVGStatusRefresh(t *testing.T) {
	var f = newTestFixture()
	var g1 = testID(0x10)

	var info = f.cache.Add(f.labeller, testID(1),
		testDev("/dev/sda", 8, 0, 2048), "vg0", g1, 0)
	require.NotNil(t, info)

	var summary = VGSummary{
		VGName:       "vg0",
		VGID:         g1,
		VGStatus:     metadata.Exported,
		CreationHost: "host-b",
		LockType:     "dlm",
		SystemID:     "sys-1",
		Seqno:        7,
		MDASize:      1024,
		MDAChecksum:  0xC0DE,
	}
	require.NoError(t, f.cache.UpdateVGNameAndID(info, &summary))

	var vginfo = f.cache.VGInfoByVGID(g1)
	assert.Equal(t, metadata.Exported, vginfo.Status())
	assert.Equal(t, "host-b", vginfo.CreationHost())
	assert.Equal(t, "dlm", vginfo.LockType())
	assert.Equal(t, "sys-1", vginfo.SystemID())

	// A matching witness from another device refreshes the facts again.
	summary.VGStatus = 0
	var info2 = f.cache.Add(f.labeller, testID(2),
		testDev("/dev/sdb", 8, 16, 2048), "vg0", g1, 0)
	require.NoError(t, f.cache.UpdateVGNameAndID(info2, &summary))
	assert.Equal(t, metadata.VGStatus(0), vginfo.Status())
}

func TestLookupMDA(t *testing.T) {
	var f = newTestFixture()
	var g1 = testID(0x10)

	var info = f.cache.Add(f.labeller, testID(1),
		testDev("/dev/sda", 8, 0, 2048), "vg0", g1, 0)
	require.NoError(t, f.cache.UpdateVGNameAndID(info, &VGSummary{
		VGName: "vg0", VGID: g1, CreationHost: "host-a",
		Seqno: 4, MDASize: 512, MDAChecksum: 0xFEED,
	}))

	// A later device with matching checksum+size can skip re-parsing: the
	// summary is filled from the cached VGInfo.
	var probe = VGSummary{MDASize: 512, MDAChecksum: 0xFEED}
	require.True(t, f.cache.LookupMDA(&probe))
	assert.Equal(t, "vg0", probe.VGName)
	assert.Equal(t, g1, probe.VGID)
	assert.Equal(t, uint32(4), probe.Seqno)
	assert.Equal(t, "host-a", probe.CreationHost)

	// No match on differing checksum, or an absent size.
	assert.False(t, f.cache.LookupMDA(&VGSummary{MDASize: 512, MDAChecksum: 0xBEEF}))
	assert.False(t, f.cache.LookupMDA(&VGSummary{MDAChecksum: 0xFEED}))
}
