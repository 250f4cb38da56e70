package queue

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"docket-harvester/internal/domain"
)

// Load reads the manifest of candidate documents. Each non-blank, non-comment
// line is "filename,url". Order is preserved; the returned slice is the work
// queue for the whole run and is never mutated afterwards.
func Load(path string) ([]domain.WorkItem, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer file.Close()

	var items []domain.WorkItem
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		sep := strings.Index(line, ",")
		if sep <= 0 || sep == len(line)-1 {
			return nil, fmt.Errorf("manifest line %d: expected filename,url", lineNo)
		}

		filename := strings.TrimSpace(line[:sep])
		url := strings.TrimSpace(line[sep+1:])
		if filename == "" || url == "" {
			return nil, fmt.Errorf("manifest line %d: empty filename or url", lineNo)
		}

		items = append(items, domain.WorkItem{
			Filename:  filename,
			SourceURL: url,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return items, nil
}
