package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"beltsim.ai/internal/sim/factory"
)

// ListSegments returns the <prefix>-*.jsonl.zst files in dir in time order.
func ListSegments(dir, prefix string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	// Hour stamps sort lexicographically.
	sort.Strings(files)
	return files, nil
}

// ReadTicks decodes every tick entry in path and calls fn in file order.
// Iteration stops at the first error returned by fn.
func ReadTicks(path string, fn func(factory.TickLogEntry) error) error {
	return readJSONL(path, fn)
}

// ReadAudits decodes every audit entry in path and calls fn in file order.
func ReadAudits(path string, fn func(factory.AuditEntry) error) error {
	return readJSONL(path, fn)
}

func readJSONL[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e T
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return sc.Err()
}
