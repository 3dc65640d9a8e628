// Package generator renders the cloud-config boot artifact that installs a
// container runtime, writes the runner settings and setup scripts to their
// fixed paths, and starts the runner once at boot.
package generator

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"jobrunner/internal/config"
	"jobrunner/internal/parser"
)

const (
	// BinaryPath is where the boot artifact installs the runner.
	BinaryPath = "/usr/local/bin/jobrunner"

	BaseSetupScript = "base_setup"

	cloudConfigHeader = "#cloud-config\n"
	dockerInstallCmd  = "curl -fsSL https://get.docker.com | sh"
)

// baseSetupContent is always shipped so that jobs may list base_setup
// without the operator providing it.
const baseSetupContent = `#!/usr/bin/env bash
set -e
echo "[setup] CPU base setup done"
`

// Options are the values baked into one boot artifact.
type Options struct {
	BackendURL string `validate:"required,url"`
	JobID      string `validate:"required"`
	BinaryURL  string `validate:"required,url"`
	// ScriptsDir is a local directory whose *.sh files are shipped as setup
	// scripts. Optional.
	ScriptsDir      string
	NetworkWait     time.Duration `validate:"gte=0"`
	MaxStartupLines int           `validate:"gte=0"`
}

// CloudConfig is the subset of the cloud-init format the artifact uses.
type CloudConfig struct {
	PackageUpdate bool        `yaml:"package_update"`
	Packages      []string    `yaml:"packages"`
	WriteFiles    []WriteFile `yaml:"write_files"`
	RunCmd        []string    `yaml:"runcmd"`
}

// WriteFile is one cloud-init write_files entry. Content is always base64.
type WriteFile struct {
	Path        string `yaml:"path"`
	Permissions string `yaml:"permissions"`
	Encoding    string `yaml:"encoding"`
	Content     string `yaml:"content"`
}

// runnerFile mirrors config.Settings with durations kept as strings.
type runnerFile struct {
	BackendURL      string `yaml:"backend_url"`
	JobID           string `yaml:"job_id"`
	NetworkWait     string `yaml:"network_wait,omitempty"`
	MaxStartupLines int    `yaml:"max_startup_lines,omitempty"`
	ScriptsDir      string `yaml:"scripts_dir"`
}

type script struct {
	name    string
	content []byte
}

// Generate renders the boot artifact for opts.
func Generate(opts Options) ([]byte, error) {
	opts.BackendURL = strings.TrimRight(strings.TrimSpace(opts.BackendURL), "/")
	opts.JobID = strings.TrimSpace(opts.JobID)
	if err := parser.Validate(&opts); err != nil {
		return nil, err
	}

	scripts, err := collectScripts(opts.ScriptsDir)
	if err != nil {
		return nil, err
	}

	settings, err := renderSettings(opts)
	if err != nil {
		return nil, err
	}

	cc := CloudConfig{
		PackageUpdate: true,
		Packages:      []string{"ca-certificates", "curl"},
		WriteFiles:    []WriteFile{encodedFile(config.DefaultConfigPath, "0600", settings)},
		RunCmd: []string{
			dockerInstallCmd,
			"curl -fsSL -o " + BinaryPath + " " + shellQuote(opts.BinaryURL),
			"chmod 0755 " + BinaryPath,
			BinaryPath + " run --config " + config.DefaultConfigPath,
		},
	}
	for _, s := range scripts {
		path := filepath.ToSlash(filepath.Join(config.DefaultScriptsDir, s.name+config.DefaultScriptSuffix))
		cc.WriteFiles = append(cc.WriteFiles, encodedFile(path, "0755", s.content))
	}

	var buf bytes.Buffer
	buf.WriteString(cloudConfigHeader)
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&cc); err != nil {
		return nil, fmt.Errorf("failed to encode cloud-config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode cloud-config: %w", err)
	}

	return buf.Bytes(), nil
}

func renderSettings(opts Options) ([]byte, error) {
	rf := runnerFile{
		BackendURL:      opts.BackendURL,
		JobID:           opts.JobID,
		MaxStartupLines: opts.MaxStartupLines,
		ScriptsDir:      config.DefaultScriptsDir,
	}
	if opts.NetworkWait > 0 {
		rf.NetworkWait = opts.NetworkWait.String()
	}

	data, err := yaml.Marshal(&rf)
	if err != nil {
		return nil, fmt.Errorf("failed to encode runner settings: %w", err)
	}
	return data, nil
}

func encodedFile(path, permissions string, content []byte) WriteFile {
	return WriteFile{
		Path:        path,
		Permissions: permissions,
		Encoding:    "b64",
		Content:     base64.StdEncoding.EncodeToString(content),
	}
}

// collectScripts returns the built-in base_setup script plus every *.sh
// file directly under dir, sorted by name. A local base_setup.sh replaces
// the built-in one.
func collectScripts(dir string) ([]script, error) {
	byName := map[string][]byte{BaseSetupScript: []byte(baseSetupContent)}

	if dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return nil, fmt.Errorf("scripts directory not found: %s", dir)
		}

		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != dir {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), config.DefaultScriptSuffix) {
				return nil
			}

			name := strings.TrimSuffix(d.Name(), config.DefaultScriptSuffix)
			if name == "" || strings.ContainsAny(name, `/\`) {
				return fmt.Errorf("invalid script name: %s", d.Name())
			}

			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read script %s: %w", path, err)
			}
			byName[name] = content
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to collect setup scripts: %w", err)
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	scripts := make([]script, 0, len(names))
	for _, name := range names {
		scripts = append(scripts, script{name: name, content: byName[name]})
	}
	return scripts, nil
}

// shellQuote wraps s in single quotes for /bin/sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
