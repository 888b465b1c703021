package cache

import (
	"go.pvcache.dev/core/device"
	"go.pvcache.dev/core/label"
	"go.pvcache.dev/core/metadata"
)

// testLabeller is a stand-in for the text-format labeller.
type testLabeller struct {
	name string
	fmt  *metadata.Format
}

func (l *testLabeller) Name() string             { return l.name }
func (l *testLabeller) Format() *metadata.Format { return l.fmt }

var _ label.Labeller = new(testLabeller)

// testFixture bundles a Command, its Cache, and the fixture labeller.
type testFixture struct {
	cmd      *Command
	cache    *Cache
	fmt      *metadata.Format
	labeller *testLabeller
}

func newTestFixture() *testFixture {
	var fmtText = &metadata.Format{Name: "text", OrphanVGName: VGOrphans + "_text"}
	var cmd = &Command{
		Hostname: "host-a",
		SystemID: "host-a",
		DevTypes: &device.Types{
			DMMajor: 253,
			MDMajor: 9,
			Subsystem: map[uint32]string{
				9:   "md",
				147: "drbd",
				253: "dm",
			},
		},
		Formats: []*metadata.Format{fmtText},
	}
	return &testFixture{
		cmd:      cmd,
		cache:    New(cmd),
		fmt:      fmtText,
		labeller: &testLabeller{name: "text", fmt: fmtText},
	}
}

func testDev(path string, major, minor uint32, sectors uint64) *device.Device {
	return &device.Device{Path: path, Major: major, Minor: minor, SizeSectors: sectors}
}

func testID(b byte) metadata.ID {
	var id metadata.ID
	for i := range id {
		id[i] = b
	}
	return id
}
