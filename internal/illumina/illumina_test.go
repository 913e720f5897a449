package illumina

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nextSeqRunInfo = `<?xml version="1.0"?>
<RunInfo xmlns:xsd="http://www.w3.org/2001/XMLSchema" Version="2">
  <Run Id="151119_NB500892_0045_AHGFJTBGXX" Number="45">
    <Flowcell>HGFJTBGXX</Flowcell>
    <Instrument>NB500892</Instrument>
    <Date>151119</Date>
    <Reads>
      <Read Number="1" NumCycles="76" IsIndexedRead="N" />
      <Read Number="2" NumCycles="6" IsIndexedRead="Y" />
      <Read Number="3" NumCycles="76" IsIndexedRead="N" />
    </Reads>
    <FlowcellLayout LaneCount="4" SurfaceCount="2" SwathCount="3" TileCount="12" />
    <AlignToPhiX>
      <Lane>1</Lane>
      <Lane>2</Lane>
    </AlignToPhiX>
  </Run>
</RunInfo>
`

const hiSeqRunParameters = `<?xml version="1.0"?>
<RunParameters>
  <Setup>
    <ApplicationName>HiSeq Control Software</ApplicationName>
    <RTAVersion>1.18.64</RTAVersion>
  </Setup>
</RunParameters>
`

const nextSeqRunParameters = `<?xml version="1.0"?>
<RunParameters>
  <RunID>151119_NB500892_0045_AHGFJTBGXX</RunID>
  <RTAVersion>2.4.6</RTAVersion>
</RunParameters>
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestReadRunInfo(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "RunInfo.xml", nextSeqRunInfo)

	info, err := ReadRunInfo(dir)
	require.NoError(t, err)

	assert.Equal(t, "151119_NB500892_0045_AHGFJTBGXX", info.ID)
	assert.Equal(t, 45, info.Number)
	assert.Equal(t, "HGFJTBGXX", info.FlowCell)
	assert.Equal(t, "NB500892", info.Instrument)
	assert.Equal(t, "151119", info.Date)
	assert.Equal(t, 4, info.LaneCount)
	assert.Equal(t, []int{1, 2}, info.AlignToPhiX)
	assert.Equal(t, 3, info.ReadCount())
	assert.Equal(t, 158, info.CycleCount())
	assert.True(t, info.Reads[1].Indexed)
	assert.False(t, info.Reads[0].Indexed)
}

func TestReadRunInfo_CycleRange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "RunInfo.xml", `<RunInfo><Run Id="x" Number="1"><Reads>
<Read Number="1" FirstCycle="1" LastCycle="101" IsIndexedRead="N"/>
<Read Number="2" FirstCycle="102" LastCycle="108" IsIndexedRead="Y"/>
</Reads><FlowcellLayout LaneCount="8"/></Run></RunInfo>`)

	info, err := ReadRunInfo(dir)
	require.NoError(t, err)
	assert.Equal(t, 108, info.CycleCount())
	assert.Equal(t, 8, info.LaneCount)
}

func TestReadRunInfo_Errors(t *testing.T) {
	t.Run("Missing", func(t *testing.T) {
		_, err := ReadRunInfo(t.TempDir())
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("Malformed", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "RunInfo.xml", "<RunInfo><Run>")
		_, err := ReadRunInfo(dir)
		assert.Error(t, err)
	})
}

func TestSummary_RunType(t *testing.T) {
	tests := []struct {
		name  string
		reads []Read
		want  string
		same  bool
	}{
		{
			name:  "single read one index",
			reads: []Read{{NumCycles: 51}, {NumCycles: 6, Indexed: true}},
			want:  "SR-51 with 1 index",
			same:  true,
		},
		{
			name:  "paired end two indexes",
			reads: []Read{{NumCycles: 76}, {NumCycles: 8, Indexed: true}, {NumCycles: 8, Indexed: true}, {NumCycles: 76}},
			want:  "PE-76 with 2 indexes",
			same:  true,
		},
		{
			name:  "different read lengths",
			reads: []Read{{NumCycles: 76}, {NumCycles: 50}},
			want:  "PE-76 with 0 index",
			same:  false,
		},
		{
			name:  "undetermined",
			reads: []Read{{NumCycles: 10}, {NumCycles: 10}, {NumCycles: 10}},
			want:  "Undetermined run type (3 reads with 0 index)",
			same:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := (&RunInfo{Reads: tt.reads}).Summarize()
			assert.Equal(t, tt.want, s.RunType())
			assert.Equal(t, tt.same, s.SameCycles)
		})
	}
}

func TestRTAVersion(t *testing.T) {
	t.Run("HiSeq", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "runParameters.xml", hiSeqRunParameters)

		version, err := RTAVersion(dir)
		require.NoError(t, err)
		assert.Equal(t, "1.18.64", version)

		major, err := RTAMajorVersion(dir)
		require.NoError(t, err)
		assert.Equal(t, 1, major)
	})

	t.Run("NextSeq", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "RunParameters.xml", nextSeqRunParameters)

		major, err := RTAMajorVersion(dir)
		require.NoError(t, err)
		assert.Equal(t, 2, major)
	})

	t.Run("Lowercase element", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "RunParameters.xml", "<RunParameters><RtaVersion>v3.4.4</RtaVersion></RunParameters>")

		major, err := RTAMajorVersion(dir)
		require.NoError(t, err)
		assert.Equal(t, 3, major)
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := RTAVersion(t.TempDir())
		assert.ErrorIs(t, err, ErrNoRunParameters)
	})

	t.Run("Missing element", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "runParameters.xml", "<RunParameters><Setup/></RunParameters>")
		_, err := RTAVersion(dir)
		assert.Error(t, err)
	})
}

func TestInstrumentModel(t *testing.T) {
	t.Run("Scanner id", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "runParameters.xml", `<RunParameters><Setup>
<ApplicationName>HiSeq Control Software</ApplicationName><ScannerID>SN1234</ScannerID>
</Setup></RunParameters>`)

		model, err := InstrumentModel(dir)
		require.NoError(t, err)
		assert.Equal(t, "HiSeq SN1234", model)
	})

	t.Run("Instrument id", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "RunParameters.xml", `<RunParameters><Setup><ApplicationName>NextSeq Control Software</ApplicationName></Setup>
<InstrumentID>NB500892</InstrumentID></RunParameters>`)

		model, err := InstrumentModel(dir)
		require.NoError(t, err)
		assert.Equal(t, "NextSeq NB500892", model)
	})

	t.Run("Unknown", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "RunParameters.xml", "<RunParameters/>")

		model, err := InstrumentModel(dir)
		require.NoError(t, err)
		assert.Equal(t, "Unknown instrument", model)
	})
}
