package urls

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// FileSource reads one URL per line. Blank lines and lines starting with # are skipped.
type FileSource struct{}

func NewFileSource() *FileSource {
	return &FileSource{}
}

// Fetch reads the file at path.
func (s *FileSource) Fetch(_ context.Context, path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimRight(line, ", \t")
		if line == "" {
			continue
		}
		entries = append(entries, Entry{Location: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file at line %d: %w", lineNum, err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no URLs found in %s", path)
	}
	return entries, nil
}
