package metadata

import (
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// vgFileSuffix names VG metadata text files within a FileSource directory.
const vgFileSuffix = ".vg"

// A FileSource reads VG metadata from text files in a directory, for
// configurations where metadata lives on the filesystem instead of in device
// metadata areas. VGs discovered this way are marked in the cache as having
// an independent metadata location, which exempts them from device rescans.
type FileSource struct {
	FS  afero.Fs
	Dir string
	Fmt *Format
}

// VGNames enumerates the VG files of the source directory, without suffix.
func (s *FileSource) VGNames() ([]string, error) {
	var entries, err = afero.ReadDir(s.FS, s.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading metadata directory %s", s.Dir)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), vgFileSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), vgFileSuffix))
	}
	return names, nil
}

// ReadVG parses the metadata file of the named VG.
func (s *FileSource) ReadVG(name string) (*VG, error) {
	var text, err = afero.ReadFile(s.FS, path.Join(s.Dir, name+vgFileSuffix))
	if err != nil {
		return nil, errors.Wrapf(err, "reading metadata of VG %s", name)
	}
	return ImportVG(text)
}

// WriteVG exports |vg| into the source directory, replacing any prior file.
func (s *FileSource) WriteVG(vg *VG) error {
	var text, err = ExportVG(vg)
	if err != nil {
		return err
	}
	return afero.WriteFile(s.FS, path.Join(s.Dir, vg.Name+vgFileSuffix), text, 0644)
}
