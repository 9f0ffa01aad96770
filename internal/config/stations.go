package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

// Stations is a parsed station config file.
type Stations struct {
	Table         *model.StationTable
	Definitions   []model.StationDefinition
	GoldenSamples []string
}

// stationsFile is the on-disk layout. TOML uses [[station]] tables, YAML a
// "stations" list; golden_samples is a top-level list in both.
type stationsFile struct {
	GoldenSamples []string       `toml:"golden_samples" yaml:"golden_samples"`
	Station       []stationEntry `toml:"station" yaml:"-"`
	Stations      []stationEntry `toml:"-" yaml:"stations"`
}

type stationEntry struct {
	ID         string   `toml:"id" yaml:"id"`
	Requires   []string `toml:"requires" yaml:"requires"`
	MaxRetries *int     `toml:"max_retries" yaml:"max_retries"`
	Role       string   `toml:"role" yaml:"role"`
}

// LoadStations reads a station file, choosing TOML or YAML by extension.
func LoadStations(path string) (*Stations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stations: %w", err)
	}
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		format = "toml"
	case ".yaml", ".yml":
		format = "yaml"
	default:
		return nil, fmt.Errorf("stations file %s: unsupported extension (want .toml, .yaml or .yml)", path)
	}
	st, err := ParseStations(data, format)
	if err != nil {
		return nil, fmt.Errorf("stations file %s: %w", path, err)
	}
	return st, nil
}

// ParseStations parses data in format "toml" or "yaml".
func ParseStations(data []byte, format string) (*Stations, error) {
	var f stationsFile
	switch format {
	case "toml":
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&f)
		if err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys: %v", undecoded)
		}
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		f.Station = f.Stations
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}

	defs := make([]model.StationDefinition, 0, len(f.Station))
	for _, e := range f.Station {
		d := model.StationDefinition{
			ID:           e.ID,
			Requires:     e.Requires,
			MaxRetries:   model.DefaultMaxRetries,
			RequiredRole: model.Role(e.Role),
		}
		if e.MaxRetries != nil {
			d.MaxRetries = *e.MaxRetries
		}
		defs = append(defs, d)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no stations defined")
	}
	table, err := model.NewStationTable(defs)
	if err != nil {
		return nil, err
	}

	var golden []string
	seen := make(map[string]bool)
	for _, s := range f.GoldenSamples {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		golden = append(golden, s)
	}

	resolved := make([]model.StationDefinition, 0, len(defs))
	for _, id := range table.IDs() {
		d, _ := table.Lookup(id)
		resolved = append(resolved, d)
	}
	return &Stations{Table: table, Definitions: resolved, GoldenSamples: golden}, nil
}
