// Credential sources: inline config keys plus an optional keys file.
package keypool

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadFile reads one credential per line. Blank lines and lines starting
// with # are ignored.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open keys file '%s': %w", path, err)
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read keys file '%s': %w", path, err)
	}
	return keys, nil
}

// Collect merges inline keys with the keys file, dropping duplicates
// while keeping first-seen order.
func Collect(inline []string, keysFile string) ([]string, error) {
	all := append([]string{}, inline...)
	if keysFile != "" {
		fromFile, err := LoadFile(keysFile)
		if err != nil {
			return nil, err
		}
		all = append(all, fromFile...)
	}

	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, k := range all {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out, nil
}
