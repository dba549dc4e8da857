// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package manifest loads command declarations from a cmdbind.toml or
// cmdbind.yaml file. Each declared command runs an external program whose
// arguments are filled from the bound values. Bound values are also passed
// to the program as CMDBIND_ARG_<NAME> environment variables.
//
//	version = 1
//	requires = ">= 0.1.0"
//
//	[[shared]]
//	name = "global"
//	  [[shared.options]]
//	  name = "dry-run"
//	  short = "n"
//	  type = "bool"
//
//	[[commands]]
//	name = "greet"
//	run = ["echo", "hello", "{{who}}", "{{rest}}"]
//	shared = ["global"]
//	  [[commands.params]]
//	  name = "who"
//	  default = "world"
//	  [commands.array]
//	  name = "rest"
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Version is the newest manifest format understood.
const Version = 1

// FileNames are the manifest names searched for, in order.
var FileNames = []string{"cmdbind.toml", "cmdbind.yaml", "cmdbind.yml"}

type Manifest struct {
	Version  int       `toml:"version,omitempty" yaml:"version,omitempty"`
	Requires string    `toml:"requires,omitempty" yaml:"requires,omitempty"`
	Shared   []Group   `toml:"shared,omitempty" yaml:"shared,omitempty"`
	Commands []Command `toml:"commands,omitempty" yaml:"commands,omitempty"`

	Path string `toml:"-" yaml:"-"`
	Dir  string `toml:"-" yaml:"-"`
}

// Group is a named set of options that several commands can share.
type Group struct {
	Name    string   `toml:"name" yaml:"name"`
	Options []Member `toml:"options,omitempty" yaml:"options,omitempty"`
}

type Command struct {
	Name    string   `toml:"name" yaml:"name"`
	Aliases []string `toml:"aliases,omitempty" yaml:"aliases,omitempty"`
	Help    string   `toml:"help,omitempty" yaml:"help,omitempty"`
	Run     []string `toml:"run" yaml:"run"`
	Dir     string   `toml:"dir,omitempty" yaml:"dir,omitempty"`
	WhenEnv string   `toml:"when_env,omitempty" yaml:"when_env,omitempty"`
	Timeout string   `toml:"timeout,omitempty" yaml:"timeout,omitempty"`
	Confirm string   `toml:"confirm,omitempty" yaml:"confirm,omitempty"` // prompt before running
	Shared  []string `toml:"shared,omitempty" yaml:"shared,omitempty"`
	Options []Member `toml:"options,omitempty" yaml:"options,omitempty"`
	Params  []Member `toml:"params,omitempty" yaml:"params,omitempty"`
	Array   *Member  `toml:"array,omitempty" yaml:"array,omitempty"`
}

type Member struct {
	Name     string   `toml:"name" yaml:"name"`
	Short    string   `toml:"short,omitempty" yaml:"short,omitempty"`
	Aliases  []string `toml:"aliases,omitempty" yaml:"aliases,omitempty"`
	Type     string   `toml:"type,omitempty" yaml:"type,omitempty"`
	Default  any      `toml:"default,omitempty" yaml:"default,omitempty"`
	Optional bool     `toml:"optional,omitempty" yaml:"optional,omitempty"` // nil when omitted
	Required bool     `toml:"required,omitempty" yaml:"required,omitempty"`
	Explicit bool     `toml:"explicit,omitempty" yaml:"explicit,omitempty"` // must be named
	Rest     bool     `toml:"rest,omitempty" yaml:"rest,omitempty"`
	Help     string   `toml:"help,omitempty" yaml:"help,omitempty"`
}

// Find walks up from startDir looking for a manifest. It returns an error
// matching os.ErrNotExist if there is none.
func Find(startDir string) (string, error) {
	dir := filepath.Clean(startDir)
	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			} else if !os.IsNotExist(err) {
				return "", err
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

// Load reads the manifest at path. The format follows the file extension.
func Load(path string) (*Manifest, error) {
	var m Manifest
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, &m); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", ext)
	}
	if m.Version == 0 {
		m.Version = Version
	}
	if m.Version > Version {
		return nil, fmt.Errorf("%s: manifest version %d is newer than supported version %d", path, m.Version, Version)
	}
	m.Path = path
	m.Dir = filepath.Dir(path)
	return &m, nil
}

// FindAndLoad loads the nearest manifest above startDir. It returns nil and
// no error when there is none.
func FindAndLoad(startDir string) (*Manifest, error) {
	path, err := Find(startDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return Load(path)
}

// Check reports whether version satisfies the manifest's requires
// constraint.
func (m *Manifest) Check(version string) error {
	if m.Requires == "" {
		return nil
	}
	c, err := semver.NewConstraint(m.Requires)
	if err != nil {
		return fmt.Errorf("%s: invalid requires %q: %w", m.Path, m.Requires, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", version, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("%s requires cmdbind %s, this is %s", m.Path, m.Requires, v)
	}
	return nil
}
