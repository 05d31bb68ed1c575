package model

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/encoding/yaml"
	"github.com/pelletier/go-toml/v2"
)

type batchFile struct {
	Version  int           `json:"version"`
	Programs []programFile `json:"programs"`
}

type programFile struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Timeout string `json:"timeout"`
}

// LoadBatch reads a batch file. The format is picked by the file extension
// of name: .toml is decoded as TOML, everything else as YAML. Both are
// validated against the #Batch schema.
func LoadBatch(name string, r io.Reader) ([]ProgramRequest, error) {
	var value cue.Value
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		raw := map[string]any{}
		if err := toml.NewDecoder(r).Decode(&raw); err != nil {
			return nil, fmt.Errorf("decoding toml: %w", err)
		}
		value = cueCtx.Encode(raw)
	default:
		f, err := yaml.Extract(name, r)
		if err != nil {
			return nil, err
		}
		value = cueCtx.BuildFile(f)
	}
	if value.Err() != nil {
		return nil, value.Err()
	}

	unified := batchSchema.Unify(value)
	if err := unified.Validate(cue.All(), cue.Concrete(true)); err != nil {
		return nil, err
	}
	var out batchFile
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}
	return out.requests()
}

func (b batchFile) requests() ([]ProgramRequest, error) {
	seen := make(map[string]struct{}, len(b.Programs))
	ret := make([]ProgramRequest, 0, len(b.Programs))
	for _, p := range b.Programs {
		if _, ok := seen[p.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, p.Name)
		}
		seen[p.Name] = struct{}{}
		timeout, err := time.ParseDuration(p.Timeout)
		if err != nil {
			return nil, fmt.Errorf("program %s: %w", p.Name, err)
		}
		ret = append(ret, ProgramRequest{
			Name:    p.Name,
			Command: p.Command,
			Timeout: timeout,
		})
	}
	return ret, nil
}
