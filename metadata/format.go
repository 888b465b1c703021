package metadata

// A Format describes one metadata format known to the command. The cache
// treats formats as opaque descriptors; the orphan VG name is the only
// field it interprets.
type Format struct {
	// Name of the format, eg "text".
	Name string
	// OrphanVGName is the reserved VG name holding this format's PVs whose
	// VG membership is unknown, eg "#orphans_text".
	OrphanVGName string
}

// A FormatInstance binds a Format to one VG for a read or write, and
// accumulates the metadata areas to be used for it.
type FormatInstance struct {
	Fmt    *Format
	VGName string
	VGID   ID

	mdas []*MDA
}

// NewFormatInstance returns a FormatInstance of |fmt| bound to the named VG.
func NewFormatInstance(fmt *Format, vgname string, vgid ID) *FormatInstance {
	return &FormatInstance{Fmt: fmt, VGName: vgname, VGID: vgid}
}

// AttachMDAs appends copies of |mdas| to the instance's metadata area list.
func (fi *FormatInstance) AttachMDAs(mdas []*MDA) {
	for _, mda := range mdas {
		var cp = *mda
		fi.mdas = append(fi.mdas, &cp)
	}
}

// MDAs returns the attached metadata areas.
func (fi *FormatInstance) MDAs() []*MDA { return fi.mdas }

// An MDA is an on-disk metadata area of a PV. The cache tracks MDAs as
// opaque handles; only their size and ignored bit are interpreted.
type MDA struct {
	Start   uint64
	Size    uint64
	Ignored bool
}

// A DiskLocn is a reserved extent on a PV: a data area or bootloader area.
type DiskLocn struct {
	Offset uint64
	Size   uint64
}

// MDAsEmptyOrIgnored returns true iff |mdas| is empty or every entry is
// ignored, ie the PV carries no usable metadata area.
func MDAsEmptyOrIgnored(mdas []*MDA) bool {
	for _, mda := range mdas {
		if !mda.Ignored {
			return false
		}
	}
	return true
}

// MinMDASize returns the smallest size among |mdas|, or zero when empty.
func MinMDASize(mdas []*MDA) uint64 {
	var min uint64
	for _, mda := range mdas {
		if min == 0 || mda.Size < min {
			min = mda.Size
		}
	}
	return min
}
