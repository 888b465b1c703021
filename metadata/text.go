package metadata

import (
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// ExportVG serializes |vg| to its text-metadata form. The text is stable: a
// VG exported, imported, and exported again produces identical bytes, which
// is how the cache makes independent deep copies of parsed VGs.
func ExportVG(vg *VG) ([]byte, error) {
	var text, err = yaml.Marshal(vg)
	if err != nil {
		return nil, errors.Wrapf(err, "exporting VG %s", vg.Name)
	}
	return text, nil
}

// ImportVG parses text-metadata produced by ExportVG into a new VG. Device
// bindings are not part of the text and are left nil.
func ImportVG(text []byte) (*VG, error) {
	var vg = new(VG)
	if err := yaml.UnmarshalStrict(text, vg); err != nil {
		return nil, errors.Wrap(err, "importing VG text")
	}
	return vg, nil
}
