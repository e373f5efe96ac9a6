package auth

import (
	"bufio"
	"os"
	"strings"
)

// LoadList reads a newline-delimited allowlist into a membership set.
// Entries are trimmed, blank lines skipped. A missing or unreadable
// file yields an empty set: the gate fails closed rather than open.
// The file is re-read on every call so operator edits take effect on
// the very next request.
func LoadList(path string) map[string]struct{} {
	entries := make(map[string]struct{})

	file, err := os.Open(path)
	if err != nil {
		return entries
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		entry := strings.TrimSpace(scanner.Text())
		if entry == "" {
			continue
		}
		entries[entry] = struct{}{}
	}

	return entries
}
