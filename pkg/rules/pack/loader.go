package pack

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// LoaderConfig controls how pack and industry profile files are discovered.
type LoaderConfig struct {
	// MaxFileSize is the largest file accepted, in bytes.
	MaxFileSize int64

	// Extensions lists the file extensions that are loaded. JSON documents
	// are valid YAML and share the decoder.
	Extensions []string

	// SkipHidden skips dot files and dot directories.
	SkipHidden bool
}

// DefaultLoaderConfig returns the loader defaults.
func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		MaxFileSize: 4 * 1024 * 1024,
		Extensions:  []string{".yaml", ".yml", ".json"},
		SkipHidden:  true,
	}
}

// Loader reads rule packs and industry profiles from the file system.
type Loader struct {
	config *LoaderConfig
}

// NewLoader creates a loader. A nil config uses DefaultLoaderConfig.
func NewLoader(config *LoaderConfig) *Loader {
	if config == nil {
		config = DefaultLoaderConfig()
	}
	return &Loader{config: config}
}

// LoadPackFile reads one pack document. When the document carries no rules
// and a "rules" directory sits next to it, every rule file in that directory
// is loaded into the pack.
func (l *Loader) LoadPackFile(path string) (*RulePack, error) {
	data, err := l.readFile(path)
	if err != nil {
		return nil, err
	}

	var p RulePack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, &LoadError{FilePath: path, Message: "decode failed", Cause: err}
	}
	if p.ID == "" {
		return nil, &LoadError{FilePath: path, Message: "pack_id is required"}
	}

	if len(p.Rules) == 0 {
		rulesDir := filepath.Join(filepath.Dir(path), "rules")
		if isDir(rulesDir) {
			rules, err := l.loadRuleDir(rulesDir)
			if err != nil {
				return nil, err
			}
			p.Rules = rules
		}
	}

	p.SourcePath = path
	p.normalize()
	return &p, nil
}

// LoadPackDirectory loads every pack file below dir. Files inside "rules"
// directories are rule fragments and are only read through their pack.
// Packs that load are returned together with the errors of those that did
// not.
func (l *Loader) LoadPackDirectory(dir string) ([]*RulePack, error) {
	files, err := l.collectFiles(dir, true)
	if err != nil {
		return nil, err
	}

	var packs []*RulePack
	errs := &ErrorList{}
	for _, file := range files {
		p, err := l.LoadPackFile(file)
		if err != nil {
			errs.Add(err)
			continue
		}
		packs = append(packs, p)
	}
	return packs, errs.ToError()
}

// LoadIndustryProfileFile reads one industry profile document.
func (l *Loader) LoadIndustryProfileFile(path string) (*IndustryProfile, error) {
	data, err := l.readFile(path)
	if err != nil {
		return nil, err
	}

	var ip IndustryProfile
	if err := yaml.Unmarshal(data, &ip); err != nil {
		return nil, &LoadError{FilePath: path, Message: "decode failed", Cause: err}
	}
	if ip.Name == "" {
		ip.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &ip, nil
}

// LoadIndustryProfileDirectory loads every industry profile file in dir.
func (l *Loader) LoadIndustryProfileDirectory(dir string) ([]*IndustryProfile, error) {
	files, err := l.collectFiles(dir, false)
	if err != nil {
		return nil, err
	}

	var profiles []*IndustryProfile
	errs := &ErrorList{}
	for _, file := range files {
		ip, err := l.LoadIndustryProfileFile(file)
		if err != nil {
			errs.Add(err)
			continue
		}
		profiles = append(profiles, ip)
	}
	return profiles, errs.ToError()
}

func (l *Loader) loadRuleDir(dir string) ([]Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &LoadError{FilePath: dir, Message: "failed to read rules directory", Cause: err}
	}

	var rules []Rule
	for _, entry := range entries {
		if entry.IsDir() || !l.hasValidExtension(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := l.readFile(path)
		if err != nil {
			return nil, err
		}
		var rule Rule
		if err := yaml.Unmarshal(data, &rule); err != nil {
			return nil, &LoadError{FilePath: path, Message: "decode failed", Cause: err}
		}
		rules = append(rules, rule)
	}
	// os.ReadDir is sorted by name; keep rule order stable by id as well.
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

func (l *Loader) readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{FilePath: path, Message: "file not found", Cause: err}
		}
		return nil, &LoadError{FilePath: path, Message: "failed to access file", Cause: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &LoadError{FilePath: path, Message: "not a regular file"}
	}
	if info.Size() > l.config.MaxFileSize {
		return nil, &LoadError{
			FilePath: path,
			Message:  fmt.Sprintf("file size %d bytes exceeds maximum %d bytes", info.Size(), l.config.MaxFileSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{FilePath: path, Message: "failed to read file", Cause: err}
	}
	if !utf8.Valid(data) {
		return nil, &LoadError{FilePath: path, Message: "file contains invalid UTF-8 encoding"}
	}
	return data, nil
}

// collectFiles lists loadable files below dir in lexical order.
func (l *Loader) collectFiles(dir string, skipRuleDirs bool) ([]string, error) {
	if !isDir(dir) {
		return nil, &LoadError{FilePath: dir, Message: "directory not found"}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if l.config.SkipHidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if skipRuleDirs && d.Name() == "rules" {
				return filepath.SkipDir
			}
			return nil
		}
		if l.hasValidExtension(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, &LoadError{FilePath: dir, Message: "failed to walk directory", Cause: err}
	}

	sort.Strings(files)
	return files, nil
}

func (l *Loader) hasValidExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, valid := range l.config.Extensions {
		if ext == strings.ToLower(valid) {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
