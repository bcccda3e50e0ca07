package roster

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// FileSource reads the roster from a YAML file on every call, so edits are
// picked up without a restart.
//
//	drivers:
//	  - name: Alice Johnson
//	    vehicle_id: T-100
//	    state: Normal
type FileSource struct {
	path string
}

type rosterFile struct {
	Drivers []Driver `yaml:"drivers"`
}

// NewFileSource returns a source reading path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Drivers loads and validates the file.
func (s *FileSource) Drivers(ctx context.Context) ([]Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file: %w", err)
	}

	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse roster file %s: %w", s.path, err)
	}

	drivers := make([]Driver, 0, len(f.Drivers))
	seen := make(map[string]bool, len(f.Drivers))
	for i, d := range f.Drivers {
		if d.VehicleID == "" {
			return nil, fmt.Errorf("roster file %s: entry %d has no vehicle_id", s.path, i)
		}
		if seen[d.VehicleID] {
			return nil, fmt.Errorf("roster file %s: duplicate vehicle_id %q", s.path, d.VehicleID)
		}
		seen[d.VehicleID] = true

		normalized, err := normalize(d)
		if err != nil {
			return nil, fmt.Errorf("roster file %s: entry %d: %w", s.path, i, err)
		}
		drivers = append(drivers, normalized)
	}
	return drivers, nil
}

// Driver loads the file and finds vehicleID.
func (s *FileSource) Driver(ctx context.Context, vehicleID string) (Driver, error) {
	drivers, err := s.Drivers(ctx)
	if err != nil {
		return Driver{}, err
	}
	return find(drivers, vehicleID)
}
