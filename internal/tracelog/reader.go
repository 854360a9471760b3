package tracelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"chunkstream.ai/internal/observerproto"
)

// ListTickFiles returns the tick logs under dir in chronological order.
func ListTickFiles(dir string) ([]string, error) {
	ticksDir := filepath.Join(dir, tickPrefix)
	ents, err := os.ReadDir(ticksDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, tickPrefix+"-") && strings.HasSuffix(name, fileSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(ticksDir, name))
	}
	return out, nil
}

// ReadTicks decodes path line by line, stopping at the first error from fn.
func ReadTicks(path string, fn func(observerproto.TickMsg) error) error {
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
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var msg observerproto.TickMsg
		if err := json.Unmarshal(sc.Bytes(), &msg); err != nil {
			return fmt.Errorf("%s:%d: unmarshal: %w", filepath.Base(path), line, err)
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
	return sc.Err()
}
