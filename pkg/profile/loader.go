package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads one profile document. Profiles on disk carry no state
// unless the file says so, and so start out as drafts.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailed, path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailed, path, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: %s: profile_id is required", ErrLoadFailed, path)
	}
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: %s: %q", ErrInvalidType, path, p.Type)
	}
	return &p, nil
}

// LoadDirectory loads every .yaml, .yml and .json file in dir, sorted by
// path. Profiles that load are returned together with the errors of those
// that did not.
func LoadDirectory(dir string) ([]*Profile, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			if !d.IsDir() {
				files = append(files, path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailed, dir, err)
	}
	sort.Strings(files)

	var (
		profiles []*Profile
		errs     []error
	)
	for _, file := range files {
		p, err := LoadFile(file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, errors.Join(errs...)
}
