package mgmt

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/frestoinc/xipki/internal/profile"
)

// confEntryName is the manager config's name inside an exported archive.
const confEntryName = "ca-conf.yaml"

// ExportConf writes the full configuration (manager config plus all profile
// files) as a zip archive.
func (m *Manager) ExportConf(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.conf == nil {
		return fmt.Errorf("manager is not started")
	}

	zw := zip.NewWriter(w)

	confData, err := os.ReadFile(m.confPath)
	if err != nil {
		return fmt.Errorf("failed to read manager config: %w", err)
	}
	if err := writeZipEntry(zw, confEntryName, confData); err != nil {
		return err
	}

	for _, entry := range m.conf.Profiles {
		data, err := os.ReadFile(m.conf.Resolve(entry.File))
		if err != nil {
			return fmt.Errorf("failed to read profile %s: %w", entry.Name, err)
		}
		if err := writeZipEntry(zw, entry.File, data); err != nil {
			return err
		}
	}

	return zw.Close()
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create archive entry %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write archive entry %s: %w", name, err)
	}
	return nil
}

// ImportConf replaces the configuration from an exported archive and
// restarts the CA system. The archive is fully validated before any file is
// touched; on failure the current live state is preserved.
func (m *Manager) ImportConf(data []byte) (RestartSummary, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return RestartSummary{}, fmt.Errorf("invalid configuration archive: %w", err)
	}

	files := make(map[string][]byte)
	for _, entry := range zr.File {
		rc, err := entry.Open()
		if err != nil {
			return RestartSummary{}, fmt.Errorf("failed to open archive entry %s: %w", entry.Name, err)
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return RestartSummary{}, fmt.Errorf("failed to read archive entry %s: %w", entry.Name, err)
		}
		files[entry.Name] = content
	}

	confData, ok := files[confEntryName]
	if !ok {
		return RestartSummary{}, fmt.Errorf("archive is missing %s", confEntryName)
	}

	var conf Conf
	if err := yaml.Unmarshal(confData, &conf); err != nil {
		return RestartSummary{}, fmt.Errorf("invalid manager config in archive: %w", err)
	}
	conf.baseDir = filepath.Dir(m.confPath)
	if err := conf.Validate(); err != nil {
		return RestartSummary{}, err
	}

	// Validate every referenced profile before touching the filesystem.
	for _, entry := range conf.Profiles {
		profData, ok := files[entry.File]
		if !ok {
			return RestartSummary{}, fmt.Errorf("archive is missing profile file %s", entry.File)
		}
		profConf, err := profile.ParseConf(profData)
		if err != nil {
			return RestartSummary{}, fmt.Errorf("profile %s: %w", entry.Name, err)
		}
		if _, err := profile.Initialize(profConf); err != nil {
			return RestartSummary{}, fmt.Errorf("profile %s: %w", entry.Name, err)
		}
	}

	// Write the validated files into place.
	for name, content := range files {
		var target string
		if name == confEntryName {
			target = m.confPath
		} else {
			target = conf.Resolve(name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return RestartSummary{}, fmt.Errorf("failed to create directory for %s: %w", name, err)
		}
		if err := os.WriteFile(target, content, 0644); err != nil {
			return RestartSummary{}, fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	return m.RestartCaSystem()
}
