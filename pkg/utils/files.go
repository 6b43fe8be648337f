package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
)

const resultsFile = "results.json"

// ResultDir is the directory a scan result is stored in:
// <outputDir>/<target>_<scan id>_<timestamp>. The scan id keeps two scans
// of one target saved in the same second apart; it is left out when empty.
func ResultDir(res schema.ScanResult, outputDir string) string {
	name := SafeName(res.Target)
	if res.Scan.ID != "" {
		name += "_" + SafeName(string(res.Scan.ID))
	}
	return filepath.Join(outputDir, name+"_"+res.Timestamp.UTC().Format("20060102_150405"))
}

// SaveResult writes res as results.json inside its result directory and
// returns the directory.
func SaveResult(res schema.ScanResult, outputDir string) (string, error) {
	dir := ResultDir(res, outputDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	fh, err := os.Create(filepath.Join(dir, resultsFile))
	if err != nil {
		return "", fmt.Errorf("failed to create results.json: %w", err)
	}
	defer fh.Close()

	enc := json.NewEncoder(fh)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return "", fmt.Errorf("failed to encode results: %w", err)
	}
	return dir, nil
}

// LatestResultDir returns the newest result directory under outputDir,
// optionally restricted to one target.
func LatestResultDir(outputDir, target string) (string, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", outputDir, err)
	}
	prefix := ""
	if target != "" {
		prefix = SafeName(target) + "_"
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if _, err := os.Stat(filepath.Join(outputDir, e.Name(), resultsFile)); err == nil {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return "", errors.New("no saved scan results found in " + outputDir)
	}
	// names end in a sortable timestamp
	sort.Slice(dirs, func(i, j int) bool { return stamp(dirs[i]) < stamp(dirs[j]) })
	return filepath.Join(outputDir, dirs[len(dirs)-1]), nil
}

func stamp(name string) string {
	if len(name) < 15 {
		return name
	}
	return name[len(name)-15:]
}

// SafeName replaces characters not safe for file paths
func SafeName(s string) string {
	invalid := []rune{'/', '\\', ':', '*', '?', '"', '<', '>', '|', ' '}
	rs := []rune(s)
	for i, r := range rs {
		for _, bad := range invalid {
			if r == bad {
				rs[i] = '_'
			}
		}
	}
	return string(rs)
}
