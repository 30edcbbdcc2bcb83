package reply

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/legeling/xianyu-auto-reply/internal/model"
)

// MaxGlobalKeywordsSize caps the keyword file read into memory.
const MaxGlobalKeywordsSize = 1 << 20

var ErrGlobalKeywordsTooLarge = errors.New("global keywords file exceeds maximum size")

// ParseGlobalKeywords reads one rule per line. Blank lines and lines
// starting with # are skipped. Keyword and reply are split on the first
// tab, else the first space, else the first colon; lines with none of
// these are ignored.
func ParseGlobalKeywords(r io.Reader) ([]model.GlobalKeyword, error) {
	var out []model.GlobalKeyword
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxGlobalKeywordsSize)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var key, value string
		var ok bool
		for _, sep := range []string{"\t", " ", ":"} {
			if key, value, ok = strings.Cut(line, sep); ok {
				break
			}
		}
		if !ok {
			continue
		}
		out = append(out, model.GlobalKeyword{
			Keyword: strings.TrimSpace(key),
			Reply:   strings.TrimSpace(value),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading global keywords: %w", err)
	}
	return out, nil
}

// GlobalTable is a file-backed GlobalSource. A missing file is an empty table.
type GlobalTable struct {
	path string

	mu       sync.RWMutex
	keywords []model.GlobalKeyword
	digest   string
}

func NewGlobalTable(path string) *GlobalTable {
	empty := sha256.Sum256(nil)
	return &GlobalTable{path: path, digest: hex.EncodeToString(empty[:])}
}

// NewStaticGlobalTable serves a fixed table. Reload is a no-op.
func NewStaticGlobalTable(keywords []model.GlobalKeyword) *GlobalTable {
	return &GlobalTable{keywords: keywords}
}

func (t *GlobalTable) Keywords() []model.GlobalKeyword {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.keywords
}

// Reload re-reads the file and reports whether the table changed.
func (t *GlobalTable) Reload() (bool, error) {
	if t.path == "" {
		return false, nil
	}

	content, err := os.ReadFile(t.path)
	if errors.Is(err, os.ErrNotExist) {
		content = nil
	} else if err != nil {
		return false, fmt.Errorf("reading %s: %w", t.path, err)
	}
	if len(content) > MaxGlobalKeywordsSize {
		return false, ErrGlobalKeywordsTooLarge
	}

	sum := sha256.Sum256(content)
	digest := hex.EncodeToString(sum[:])

	t.mu.RLock()
	unchanged := digest == t.digest
	t.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	keywords, err := ParseGlobalKeywords(bytes.NewReader(content))
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	t.keywords = keywords
	t.digest = digest
	t.mu.Unlock()

	slog.Info("global keywords loaded", "path", t.path, "count", len(keywords))
	return true, nil
}
