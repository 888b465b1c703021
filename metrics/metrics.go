package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors for metadata cache metrics.
var (
	LabelScansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pvcache_label_scans_total",
		Help: "Cumulative number of label scans begun.",
	})
	LabelScansRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pvcache_label_scans_rejected_total",
		Help: "Cumulative number of label scans rejected because a scan was already in progress.",
	})
	DuplicatePVsFoundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pvcache_duplicate_pvs_found_total",
		Help: "Cumulative number of duplicate PV devices recorded during scans.",
	})
	DuplicateResolutionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pvcache_duplicate_resolutions_total",
		Help: "Cumulative number of duplicate-PV resolution passes.",
	})
	ScanSummaryMismatchTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pvcache_scan_summary_mismatch_total",
		Help: "Cumulative number of VG summary mismatches (seqno or checksum) seen across devices.",
	})
	VGsLocked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pvcache_vgs_locked",
		Help: "Number of VG locks currently held by this command.",
	})
	SavedVGSnapshots = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pvcache_saved_vg_snapshots",
		Help: "Number of saved VG metadata snapshots currently buffered.",
	})
)

// CacheCollectors returns the metadata cache collectors, for registration.
func CacheCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		LabelScansTotal,
		LabelScansRejectedTotal,
		DuplicatePVsFoundTotal,
		DuplicateResolutionsTotal,
		ScanSummaryMismatchTotal,
		VGsLocked,
		SavedVGSnapshots,
	}
}
