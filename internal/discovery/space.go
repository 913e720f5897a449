package discovery

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/GenomiqueENS/aozan/internal/constants"
	"github.com/GenomiqueENS/aozan/internal/diskspace"
	"github.com/GenomiqueENS/aozan/internal/illumina"
	"github.com/GenomiqueENS/aozan/internal/notify"
)

// Estimate is the space a run is expected to need on one volume.
type Estimate struct {
	Kind   string
	Path   string
	Needed int64
	Free   int64
}

// Enough reports whether the volume can hold the run.
func (e Estimate) Enough() bool {
	return e.Needed <= e.Free
}

// EstimateSpace compares the space the run will need on the instrument, bcl
// and fastq volumes with their free space, alerting on every shortfall.
func (d *Discovery) EstimateSpace(ctx context.Context, id string, info *illumina.RunInfo) []Estimate {
	scale := float64(info.LaneCount) * float64(info.CycleCount()) * constants.SpaceEstimateMarginRate
	d.logger.Debug().Str("run", id).Int("lanes", info.LaneCount).Int("cycles", info.CycleCount()).
		Float64("factor", scale).Msg("Estimating space needed")

	root, ok := d.RunRoot(id)
	if !ok && len(d.cfg.HiSeqDataPaths) > 0 {
		root = d.cfg.HiSeqDataPaths[0]
	}

	volumes := []struct {
		kind   string
		path   string
		perRun int64
	}{
		{"hiseq files", root, d.cfg.Space.HiSeqFactor},
		{"bcl files", d.cfg.BclDataPath, d.cfg.Space.BclFactor},
		{"fastq files", d.cfg.FastqDataPath, d.cfg.Space.FastqFactor},
	}

	var estimates []Estimate
	for _, v := range volumes {
		if v.path == "" || v.perRun <= 0 {
			continue
		}
		free, err := d.meter.FreeSpace(v.path)
		if err != nil {
			d.logger.Warn().Err(err).Str("path", v.path).Msg("Cannot compute free space")
			continue
		}
		e := Estimate{Kind: v.kind, Path: v.path, Needed: int64(math.Round(float64(v.perRun) * scale)), Free: free}
		estimates = append(estimates, e)

		detail := fmt.Sprintf("\n%s is needed, it is free space %s", diskspace.FormatGb(e.Needed), diskspace.FormatGb(e.Free))
		if e.Enough() {
			d.logger.Info().Str("run", id).Msg(v.kind + " : enough disk space to store files for run " + id + "." + detail)
			continue
		}
		d.notifier.Report(ctx, notify.CategorySpaceEstimate,
			"Not enough disk space to store "+v.kind+" for run "+id,
			v.kind+" : not enough disk space to store files for run "+id+"."+detail)
	}
	return estimates
}

// CheckCriticalSpace warns the operator about instrument roots running out of
// space for the runs in progress.
func (d *Discovery) CheckCriticalSpace(ctx context.Context) {
	critical := d.cfg.Space.HiSeqCriticalMin
	for _, root := range d.cfg.HiSeqDataPaths {
		free, err := d.meter.FreeSpace(filepath.Clean(root))
		if err != nil {
			d.logger.Debug().Err(err).Str("path", root).Msg("Cannot compute free space")
			continue
		}
		switch {
		case free < critical:
			d.notifier.Send(ctx,
				constants.SubjectPrefix+"Critical: Not enough disk space on Hiseq storage for current run",
				fmt.Sprintf("There is only %s left for run storage in %s.  The current warning threshold is set to %s.",
					diskspace.FormatGb(free), root, diskspace.FormatGb(critical)))
		case free < d.cfg.Space.HiSeqWarningMin:
			d.logger.Warn().Str("path", root).Str("free", diskspace.FormatGb(free)).Msg("Instrument storage is running low")
		}
	}
}
