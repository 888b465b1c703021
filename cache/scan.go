package cache

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.pvcache.dev/core/device"
	"go.pvcache.dev/core/label"
	"go.pvcache.dev/core/metadata"
	"go.pvcache.dev/core/metrics"
)

// A ScanResult is the per-device outcome of reading a PV label: the label
// identity, the device geometry, and the VG summary claimed by the device's
// metadata areas. An orphan PV carries a summary naming the format's orphan
// VG.
type ScanResult struct {
	PVID     metadata.ID
	Labeller label.Labeller

	LabelSector uint64
	DeviceSize  uint64 // Bytes.
	ExtVersion  uint32
	ExtFlags    uint32

	Summary VGSummary

	MDAs []*metadata.MDA
	DAs  []metadata.DiskLocn
	BAs  []metadata.DiskLocn
}

// A DeviceReader is the external label reader: it enumerates candidate
// devices and parses their on-disk PV labels. Implementations perform all
// I/O; the cache never reads disks itself.
type DeviceReader interface {
	// Devices enumerates the devices to scan.
	Devices(ctx context.Context) ([]*device.Device, error)
	// ReadLabel reads and parses the PV label of |dev|. A device carrying
	// no label returns (nil, nil).
	ReadLabel(ctx context.Context, dev *device.Device) (*ScanResult, error)
}

// ApplyScanResult feeds one device's scan result through Add and the update
// pipeline, and records the device geometry and area lists on the Info. It
// returns nil when the device was recorded as a duplicate rather than
// inserted.
func (c *Cache) ApplyScanResult(dev *device.Device, res *ScanResult) *Info {
	var info = c.Add(res.Labeller, res.PVID, dev,
		res.Summary.VGName, res.Summary.VGID, res.Summary.VGStatus)
	if info == nil {
		return nil
	}

	info.deviceSize = res.DeviceSize
	info.lbl.Sector = res.LabelSector
	info.extVersion = res.ExtVersion
	info.extFlags = res.ExtFlags

	info.mdas = append([]*metadata.MDA(nil), res.MDAs...)
	info.das = append([]metadata.DiskLocn(nil), res.DAs...)
	info.bas = append([]metadata.DiskLocn(nil), res.BAs...)

	// Second pass with the full summary reconciles the metadata witness
	// and refreshes the VG facts; Add only used the identity fields.
	if err := c.UpdateVGNameAndID(info, &res.Summary); err != nil {
		log.WithFields(log.Fields{"dev": dev.Path, "err": err}).
			Error("failed to update VG info in cache")
	}
	return info
}

// LabelScan populates the cache from a full label scan of |reader|'s
// devices. Only VG summary information is available at this point, so the
// result is incomplete and even incorrect in known ways: a PV with no
// metadata areas lands in the orphan VG until a later vg_read corrects it.
//
// After the scan, duplicate PV ids are resolved: the preferred device per
// PV id stays (or is rescanned into) the cache, the rest become unchosen
// duplicates. Finally, file-backed metadata sources are scanned.
//
// A scan may look PVs up and must not re-enter itself; a nested call fails.
func (c *Cache) LabelScan(ctx context.Context, reader DeviceReader) error {
	if c.scanning {
		metrics.LabelScansRejectedTotal.Inc()
		return errors.New("label scan already in progress")
	}
	c.scanning = true
	defer func() { c.scanning = false }()

	metrics.LabelScansTotal.Inc()
	log.Debug("finding VG info")

	// Duplicates found during this scan accumulate from a clean slate.
	c.foundDuplicates = nil

	var devs, err = reader.Devices(ctx)
	if err != nil {
		return errors.Wrap(err, "enumerating devices")
	}
	if err = c.scanDevs(ctx, reader, devs); err != nil {
		return err
	}

	if len(c.foundDuplicates) != 0 {
		log.Debug("resolving duplicate devices")
		c.resolveDuplicates(ctx, reader)
	}

	for _, src := range c.cmd.MetadataSources {
		if err = c.scanFileSource(src); err != nil {
			return err
		}
	}

	c.hasScanned = true

	var count int
	for _, vginfo := range c.vginfos {
		if !IsOrphanVG(vginfo.name) {
			count++
		}
	}
	log.WithField("vgs", count).Debug("found VG info")
	return nil
}

// scanDevs reads the labels of |devs| with bounded concurrency, then applies
// the results to the cache serially and in device order. A device whose
// Info is already cached is skipped; a device whose read fails is logged
// and skipped rather than failing the scan.
func (c *Cache) scanDevs(ctx context.Context, reader DeviceReader, devs []*device.Device) error {
	var results = make([]*ScanResult, len(devs))

	var group, groupCtx = errgroup.WithContext(ctx)
	group.SetLimit(c.scanWorkers())

	for i, dev := range devs {
		i, dev := i, dev
		if c.HasDevInfo(dev) {
			continue
		}
		group.Go(func() error {
			var res, err = reader.ReadLabel(groupCtx, dev)
			if err != nil {
				log.WithFields(log.Fields{"dev": dev.Path, "err": err}).
					Error("label read failed")
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for i, res := range results {
		if res != nil {
			c.ApplyScanResult(devs[i], res)
		}
	}
	return nil
}

// resolveDuplicates runs the post-scan duplicate resolution: devices losing
// to a preferred alternative are dropped from the cache and join the
// unchosen list, preferred alternatives are rescanned into the cache, and
// md-component duplicates are filtered out.
func (c *Cache) resolveDuplicates(ctx context.Context, reader DeviceReader) {
	var del, add = c.choosePreferredDevs()

	for _, dev := range del {
		log.WithField("dev", dev.Path).Debug("dropping duplicate device")
		if info := c.InfoByPVID(dev.PVID, nil); info != nil {
			c.Del(info)
		}
	}
	for _, dev := range add {
		log.WithField("dev", dev.Path).Debug("rescanning preferred device")
		var res, err = reader.ReadLabel(ctx, dev)
		if err != nil {
			log.WithFields(log.Fields{"dev": dev.Path, "err": err}).
				Error("label read of preferred device failed")
			continue
		}
		if res != nil {
			c.ApplyScanResult(dev, res)
		}
	}

	// The unused list holds every duplicate not in use: the unchosen
	// alternates, plus the cache devices just dropped.
	c.unusedDuplicates = append(c.unusedDuplicates, del...)

	c.filterDuplicateDevs()
	metrics.DuplicateResolutionsTotal.Inc()
}

// scanFileSource registers the VGs of a file-backed metadata source and
// marks them as independently located.
func (c *Cache) scanFileSource(src *metadata.FileSource) error {
	var names, err = src.VGNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		var vg, err = src.ReadVG(name)
		if err != nil {
			log.WithFields(log.Fields{"vg": name, "err": err}).
				Error("failed to read file-backed VG metadata")
			continue
		}
		if err = c.updateVGName(nil, vg.Name, vg.ID, vg.Status, vg.CreationHost, src.Fmt); err != nil {
			return err
		}
		c.SetIndependentLocation(vg.Name)
	}
	return nil
}

// LabelRescanVG re-reads the labels of one VG's devices. The initial label
// scan ran without the VG lock; once the lock is held, the labels and
// metadata could have changed, so the VG's infos are dropped and its
// devices scanned again before the VG is processed.
//
// A VG whose metadata came from a file-backed location has no device-to-VG
// mapping to revalidate, and is skipped (unless the command opts in to
// rescanning those too).
func (c *Cache) LabelRescanVG(ctx context.Context, reader DeviceReader, vgname string, vgid metadata.ID) error {
	var vginfo = c.VGInfoByVGName(vgname, vgid)
	if vginfo == nil {
		return errors.Errorf("VG %s not found in cache", vgname)
	}
	if vginfo.independentMetadataLocation && !c.cmd.RescanIndependent {
		return nil
	}

	var devs = c.VGDevices(vginfo)

	// Deleting the last info drops the vginfo.
	for _, info := range append([]*Info(nil), vginfo.infos...) {
		c.Del(info)
	}
	if c.VGInfoByVGName(vgname, vgid) != nil {
		log.WithField("vg", vgname).Warn("VG info not dropped before rescan")
	}

	for _, dev := range devs {
		var res, err = reader.ReadLabel(ctx, dev)
		if err != nil {
			log.WithFields(log.Fields{"dev": dev.Path, "err": err}).
				Error("label read failed during VG rescan")
			continue
		}
		if res != nil {
			c.ApplyScanResult(dev, res)
		}
	}

	if c.VGInfoByVGName(vgname, vgid) == nil {
		log.WithField("vg", vgname).Warn("VG info not found after rescan")
		return errors.Errorf("VG %s not found after rescan", vgname)
	}
	return nil
}
