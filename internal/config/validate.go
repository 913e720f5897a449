package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/GenomiqueENS/aozan/internal/constants"
)

// Config validation errors
var (
	ErrMissingVarPath      = errors.New("aozan.var.path is required")
	ErrMissingLockFile     = errors.New("lock.file is required")
	ErrMissingPath         = errors.New("required path is not set")
	ErrPathNotFound        = errors.New("configured directory does not exist")
	ErrInvalidCompression  = errors.New("unsupported compression")
	ErrInvalidStorage      = errors.New("reports.archive.storage must be none, s3 or azure")
	ErrInvalidProxyMode    = errors.New("notify.webhook.proxy.mode must be none, system, basic or ntlm")
	ErrMissingArchiveSetup = errors.New("report archive storage is incomplete")
	ErrMissingProgram      = errors.New("required program not found")
)

// Validate checks the directories used by the enabled steps and the
// consistency of enumerated settings.
func (cfg *Config) Validate() error {
	if cfg.VarPath == "" {
		return ErrMissingVarPath
	}
	if err := checkDir(KeyVarPath, cfg.VarPath); err != nil {
		return err
	}
	if cfg.LockFile == "" {
		return ErrMissingLockFile
	}

	s := cfg.Steps
	if s.FirstBaseReport || s.HiSeq || s.Sync || (s.Demux && cfg.Demux.UseHiSeqOutput) {
		if len(cfg.HiSeqDataPaths) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingPath, KeyHiSeqDataPath)
		}
		for _, p := range cfg.HiSeqDataPaths {
			if err := checkDir(KeyHiSeqDataPath, p); err != nil {
				return err
			}
		}
	}

	type dir struct {
		key   string
		value string
		used  bool
	}
	dirs := []dir{
		{KeyBclDataPath, cfg.BclDataPath, s.Sync || (s.Demux && !cfg.Demux.UseHiSeqOutput)},
		{KeyFastqDataPath, cfg.FastqDataPath, s.Demux || s.Recompress || s.QC},
		{KeyReportsDataPath, cfg.ReportsDataPath, s.Sync || s.Demux || s.QC},
		{KeyTmpPath, cfg.TmpPath, s.Sync || s.Demux || s.QC},
	}
	for _, d := range dirs {
		if !d.used {
			continue
		}
		if d.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingPath, d.key)
		}
		if err := checkDir(d.key, d.value); err != nil {
			return err
		}
	}

	if s.Demux && cfg.Demux.Bcl2fastq.SampleSheetsPath != "" {
		if err := checkDir(KeyBcl2fastqSampleSheetsPath, cfg.Demux.Bcl2fastq.SampleSheetsPath); err != nil {
			return err
		}
	}

	if s.Recompress {
		switch cfg.Recompress.Compression {
		case CompressionGzip, CompressionBzip2, CompressionNone:
		default:
			return fmt.Errorf("%w: %s=%s", ErrInvalidCompression, KeyRecompressCompression, cfg.Recompress.Compression)
		}
		if cfg.Recompress.CompressionLevel < 1 || cfg.Recompress.CompressionLevel > 9 {
			return fmt.Errorf("%w: %s must be between 1 and 9", ErrInvalidValue, KeyRecompressCompressionLevel)
		}
	}

	switch cfg.Webhook.Proxy.Mode {
	case ProxyModeNone, ProxyModeSystem, ProxyModeBasic, ProxyModeNTLM:
	default:
		return ErrInvalidProxyMode
	}

	switch cfg.Archive.Storage {
	case StorageNone:
	case StorageS3:
		if cfg.Archive.S3.Bucket == "" {
			return fmt.Errorf("%w: %s", ErrMissingArchiveSetup, KeyArchiveS3Bucket)
		}
	case StorageAzure:
		if cfg.Archive.Azure.ContainerURL == "" {
			return fmt.Errorf("%w: %s", ErrMissingArchiveSetup, KeyArchiveAzureURL)
		}
	default:
		return ErrInvalidStorage
	}

	return nil
}

// RequiredPrograms lists the executables the enabled steps run.
func (cfg *Config) RequiredPrograms() []string {
	programs := append([]string(nil), constants.RequiredPrograms...)
	if cfg.Steps.Sync {
		programs = append(programs, "rsync")
	}
	if cfg.Steps.Demux && cfg.Demux.Bcl2fastq.UseDocker {
		programs = append(programs, "docker")
	}
	return programs
}

// CheckPrograms returns an ErrMissingProgram error naming the first program
// of names that cannot be found on PATH.
func CheckPrograms(names []string) error {
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingProgram, name)
		}
	}
	return nil
}

func checkDir(key, path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s=%s", ErrPathNotFound, key, path)
	}
	return nil
}
