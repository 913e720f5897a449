package illumina

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNoRunParameters is returned when a run directory has no run parameters file.
var ErrNoRunParameters = errors.New("no run parameters file")

// Run parameter file names. The case changed between instrument generations.
var runParametersFiles = []string{"runParameters.xml", "RunParameters.xml"}

// RunParametersPath returns the run parameters file of runDir.
func RunParametersPath(runDir string) (string, error) {
	for _, name := range runParametersFiles {
		path := filepath.Join(runDir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoRunParameters, runDir)
}

// RTAVersion returns the Real Time Analysis version recorded for the run in
// runDir, e.g. "2.4.11".
func RTAVersion(runDir string) (string, error) {
	values, path, err := readParameters(runDir, "RTAVersion", "RtaVersion")
	if err != nil {
		return "", err
	}
	if v := values["RTAVersion"]; v != "" {
		return v, nil
	}
	if v := values["RtaVersion"]; v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no RTA version in %s", path)
}

// RTAMajorVersion returns the major RTA version of the run in runDir.
func RTAMajorVersion(runDir string) (int, error) {
	version, err := RTAVersion(runDir)
	if err != nil {
		return 0, err
	}
	major, _, _ := strings.Cut(strings.TrimPrefix(version, "v"), ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0, fmt.Errorf("invalid RTA version %q", version)
	}
	return n, nil
}

// InstrumentModel describes the instrument from its control software name and
// serial, e.g. "HiSeq SN1234" or "NextSeq NB500892".
func InstrumentModel(runDir string) (string, error) {
	values, _, err := readParameters(runDir, "ApplicationName", "ScannerID", "InstrumentID")
	if err != nil {
		return "", err
	}
	application := strings.Fields(values["ApplicationName"])
	if len(application) == 0 {
		return "Unknown instrument", nil
	}
	model := application[0]
	switch {
	case values["ScannerID"] != "":
		model += " " + values["ScannerID"]
	case values["InstrumentID"] != "":
		model += " " + values["InstrumentID"]
	}
	return model, nil
}

func readParameters(runDir string, names ...string) (map[string]string, string, error) {
	path, err := RunParametersPath(runDir)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, path, err
	}
	defer f.Close()

	values, err := scanElements(f, names...)
	if err != nil {
		return nil, path, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return values, path, nil
}

// scanElements returns the text of the first element of each name, wherever
// it is nested. Run parameter layouts differ per instrument.
func scanElements(r io.Reader, names ...string) (map[string]string, error) {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	values := make(map[string]string, len(names))
	dec := xml.NewDecoder(r)
	for len(values) < len(wanted) {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || !wanted[start.Name.Local] {
			continue
		}
		if _, seen := values[start.Name.Local]; seen {
			continue
		}
		var text string
		if err := dec.DecodeElement(&text, &start); err != nil {
			return nil, err
		}
		values[start.Name.Local] = strings.TrimSpace(text)
	}
	return values, nil
}
