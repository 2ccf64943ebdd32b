// Package writer emits compiled plans as JSON files.
package writer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/artpar/topoplan/internal/core/deployment"
)

// ErrDirExists is returned when the output directory exists and overwriting
// was not requested.
var ErrDirExists = errors.New("output directory already exists")

// Options controls WritePlan.
type Options struct {
	Overwrite bool
	DOT       map[string]string // extra files: application name -> DOT graph
}

// WritePlan writes plan to dir and returns the written paths in write order.
//
// Layout:
//
//	dir/data/{app}_{phase}.json   one per application and phase
//	dir/{phase}.json              system command per phase
//	dir/{app}.dot                 when opts.DOT has an entry for app
func WritePlan(plan *deployment.Plan, dir string, opts Options) ([]string, error) {
	if _, err := os.Stat(dir); err == nil {
		if !opts.Overwrite {
			return nil, fmt.Errorf("%s: %w", dir, ErrDirExists)
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("clear %s: %w", dir, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	var written []string
	write := func(rel string, v any) error {
		data, err := json.MarshalIndent(v, "", "    ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", rel, err)
		}
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
		return nil
	}

	for _, app := range plan.Apps {
		for _, phase := range app.Commands.Phases() {
			payload, _ := app.Commands.Get(phase)
			if err := write(deployment.AppDataPath(app.Name, phase)+".json", payload); err != nil {
				return written, err
			}
		}
	}

	system := plan.SystemCommands()
	for _, phase := range plan.Phases() {
		if err := write(phase+".json", system[phase]); err != nil {
			return written, err
		}
	}

	for _, name := range slices.Sorted(maps.Keys(opts.DOT)) {
		path := filepath.Join(dir, name+".dot")
		if err := os.WriteFile(path, []byte(opts.DOT[name]), 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}

	return written, nil
}
