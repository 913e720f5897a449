package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// Load errors
var (
	ErrConfigNotFound  = errors.New("configuration file not found")
	ErrIncludeNotFound = errors.New("included configuration file not found")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const includeKey = "include"

// legacyKeys maps old key names to the current ones.
var legacyKeys = map[string]string{
	"casava.design.format":                  "bcl2fastq.samplesheet.format",
	"casava.samplesheet.format":             "bcl2fastq.samplesheet.format",
	"casava.design.prefix.filename":         KeyBcl2fastqSampleSheetPrefix,
	"casava.samplesheet.prefix.filename":    KeyBcl2fastqSampleSheetPrefix,
	"casava.designs.path":                   KeyBcl2fastqSampleSheetsPath,
	"casava.samplesheets.path":              KeyBcl2fastqSampleSheetsPath,
	"casava.adapter.fasta.file.path":        "bcl2fastq.adapter.fasta.file.path",
	"casava.additionnal.arguments":          KeyBcl2fastqAdditionalArguments,
	"casava.compression":                    KeyBcl2fastqCompression,
	"casava.compression.level":              KeyBcl2fastqCompressionLevel,
	"casava.fastq.cluster.count":            "bcl2fastq.fastq.cluster.count",
	"casava.mismatches":                     KeyBcl2fastqMismatches,
	"casava.path":                           KeyBcl2fastqPath,
	"casava.threads":                        KeyBcl2fastqThreads,
	"casava.with.failed.reads":              KeyBcl2fastqWithFailedReads,
	"casava.design.generator.command":       "bcl2fastq.samplesheet.generator.command",
	"casava.samplesheet.generator.command":  "bcl2fastq.samplesheet.generator.command",
	"demux.use.docker.enable":               KeyBcl2fastqUseDocker,
	"qc.conf.fastqc.threads":                KeyQCThreads,
	"qc.conf.blast.arguments":               "qc.conf.fastqc.blast.arguments",
	"qc.conf.blast.db.path":                 "qc.conf.fastqc.blast.db.path",
	"qc.conf.blast.path":                    "qc.conf.fastqc.blast.path",
	"qc.conf.step.blast.enable":             "qc.conf.fastqc.blast.enable",
	"qc.conf.fastqscreen.blast.arguments":   "qc.conf.fastqc.blast.arguments",
	"qc.conf.fastqscreen.blast.db.path":     "qc.conf.fastqc.blast.db.path",
	"qc.conf.fastqscreen.blast.path":        "qc.conf.fastqc.blast.path",
	"qc.conf.fastqscreen.blast.enable":      "qc.conf.fastqc.blast.enable",
	"qc.conf.fastqscreen.settings.genomes":  "qc.conf.fastqscreen.genomes.path",
	"qc.conf.settings.genomes":              "qc.conf.fastqscreen.genomes.path",
	"qc.conf.genome.alias.path":             "qc.conf.fastqscreen.genomes.alias.path",
	"qc.conf.ignore.paired.mode":            "qc.conf.fastqscreen.mapping.ignore.paired.end.mode",
	"qc.conf.max.reads.parsed":              "qc.conf.fastqscreen.fastq.max.reads.parsed",
	"qc.conf.reads.pf.used":                 "qc.conf.fastqscreen.fastq.reads.pf.used",
	"qc.conf.skip.control.lane":             "qc.conf.fastqscreen.mapping.skip.control.lane",
	"qc.conf.settings.mappers.indexes.path": "qc.conf.fastqscreen.mappers.indexes.path",
}

// CanonicalKey returns the current name of key.
func CanonicalKey(key string) string {
	if current, ok := legacyKeys[key]; ok {
		return current
	}
	return key
}

// Load reads the configuration file at path, following include directives,
// and returns the typed configuration. Validation is left to the caller.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	var values []entry
	if err := readFile(path, &values, map[string]bool{}); err != nil {
		return nil, err
	}

	cfg, err := fromValues(values)
	if err != nil {
		return nil, err
	}
	cfg.Source = path
	return cfg, nil
}

// readFile appends the key/value pairs of path to values. Included files are
// read at the position of the include key; a file already being read is
// skipped so include cycles terminate.
func readFile(path string, values *[]entry, visiting map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if visiting[abs] {
		return nil
	}
	visiting[abs] = true
	defer delete(visiting, abs)

	file, err := ini.LoadSources(ini.LoadOptions{
		AllowShadows:            true,
		IgnoreInlineComment:     true,
		KeyValueDelimiters:      "=",
		PreserveSurroundedQuote: true,
		SkipUnrecognizableLines: true,
	}, path)
	if err != nil {
		return fmt.Errorf("failed to load configuration %s: %w", path, err)
	}

	for _, sec := range file.Sections() {
		for _, key := range sec.Keys() {
			name := strings.TrimSpace(key.Name())
			if name == includeKey {
				for _, include := range key.ValueWithShadows() {
					if err := readInclude(path, include, values, visiting); err != nil {
						return err
					}
				}
				continue
			}
			// Repeated keys are shadows; the last occurrence wins.
			shadows := key.ValueWithShadows()
			if len(shadows) == 0 {
				shadows = []string{""}
			}
			for _, value := range shadows {
				*values = append(*values, entry{key: CanonicalKey(name), value: strings.TrimSpace(value)})
			}
		}
	}
	return nil
}

func readInclude(parent, include string, values *[]entry, visiting map[string]bool) error {
	include = strings.TrimSpace(include)
	if include == "" {
		return nil
	}
	if !filepath.IsAbs(include) {
		include = filepath.Join(filepath.Dir(parent), include)
	}
	info, err := os.Stat(include)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s (included from %s)", ErrIncludeNotFound, include, parent)
	}
	return readFile(include, values, visiting)
}
