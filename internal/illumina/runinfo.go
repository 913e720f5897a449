// Package illumina reads the run description files an Illumina instrument
// writes in its run directory.
package illumina

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GenomiqueENS/aozan/internal/constants"
)

// Read is one read of a run, a sequencing read or an index read.
type Read struct {
	Number    int
	NumCycles int
	Indexed   bool
}

// RunInfo is the content of RunInfo.xml.
type RunInfo struct {
	ID         string
	Number     int
	FlowCell   string
	Instrument string
	Date       string
	Reads      []Read
	LaneCount  int

	// AlignToPhiX lists the lanes aligned against the PhiX control.
	AlignToPhiX []int
}

type xmlRunInfo struct {
	Run xmlRun `xml:"Run"`
}

type xmlRun struct {
	ID          string    `xml:"Id,attr"`
	Number      int       `xml:"Number,attr"`
	FlowCell    string    `xml:"Flowcell"`
	Instrument  string    `xml:"Instrument"`
	Date        string    `xml:"Date"`
	Reads       []xmlRead `xml:"Reads>Read"`
	Layout      xmlLayout `xml:"FlowcellLayout"`
	AlignToPhiX []int     `xml:"AlignToPhiX>Lane"`
}

type xmlRead struct {
	Number        int    `xml:"Number,attr"`
	NumCycles     int    `xml:"NumCycles,attr"`
	FirstCycle    int    `xml:"FirstCycle,attr"`
	LastCycle     int    `xml:"LastCycle,attr"`
	IsIndexedRead string `xml:"IsIndexedRead,attr"`
}

type xmlLayout struct {
	LaneCount int `xml:"LaneCount,attr"`
}

// ParseRunInfo reads a RunInfo.xml file.
func ParseRunInfo(path string) (*RunInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc xmlRunInfo
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	info := &RunInfo{
		ID:          doc.Run.ID,
		Number:      doc.Run.Number,
		FlowCell:    doc.Run.FlowCell,
		Instrument:  doc.Run.Instrument,
		Date:        doc.Run.Date,
		LaneCount:   doc.Run.Layout.LaneCount,
		AlignToPhiX: doc.Run.AlignToPhiX,
	}
	for _, r := range doc.Run.Reads {
		cycles := r.NumCycles
		// Version 1 files give a cycle range instead of a count
		if cycles == 0 && r.LastCycle >= r.FirstCycle && r.FirstCycle > 0 {
			cycles = r.LastCycle - r.FirstCycle + 1
		}
		info.Reads = append(info.Reads, Read{
			Number:    r.Number,
			NumCycles: cycles,
			Indexed:   strings.EqualFold(r.IsIndexedRead, "Y"),
		})
	}
	return info, nil
}

// ReadRunInfo reads RunInfo.xml in runDir.
func ReadRunInfo(runDir string) (*RunInfo, error) {
	return ParseRunInfo(filepath.Join(runDir, constants.RunInfoFile))
}

// ReadCount returns the number of reads, index reads included.
func (r *RunInfo) ReadCount() int {
	return len(r.Reads)
}

// CycleCount returns the total number of cycles of the run.
func (r *RunInfo) CycleCount() int {
	n := 0
	for _, read := range r.Reads {
		n += read.NumCycles
	}
	return n
}

// Summary counts the reads of a run by kind.
type Summary struct {
	Reads   int
	Indexes int

	// CyclesPerRead is the cycle count of the first sequencing read.
	CyclesPerRead int

	// SameCycles is false when the sequencing reads differ in length.
	SameCycles  bool
	TotalCycles int
}

// Summarize counts the sequencing and index reads.
func (r *RunInfo) Summarize() Summary {
	s := Summary{SameCycles: true}
	for _, read := range r.Reads {
		s.TotalCycles += read.NumCycles
		if read.Indexed {
			s.Indexes++
			continue
		}
		s.Reads++
		if s.CyclesPerRead == 0 {
			s.CyclesPerRead = read.NumCycles
		} else if read.NumCycles != s.CyclesPerRead {
			s.SameCycles = false
		}
	}
	if s.CyclesPerRead == 0 {
		s.SameCycles = false
	}
	return s
}

// RunType describes the run as SR-{cycles} or PE-{cycles} with its index count.
func (s Summary) RunType() string {
	indexes := fmt.Sprintf("%d index", s.Indexes)
	if s.Indexes > 1 {
		indexes += "es"
	}
	switch s.Reads {
	case 1:
		return fmt.Sprintf("SR-%d with %s", s.CyclesPerRead, indexes)
	case 2:
		return fmt.Sprintf("PE-%d with %s", s.CyclesPerRead, indexes)
	default:
		return fmt.Sprintf("Undetermined run type (%d reads with %s)", s.Reads, indexes)
	}
}
