package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ParseFile reads every well-formed entry of a history log. A missing file
// has no entries; malformed lines are skipped.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for s.Scan() {
		var entry Entry
		if err := json.Unmarshal(s.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan history log: %w", err)
	}
	return entries, nil
}
