// Package core provides the capabilities every language host ships with:
// an in-memory buffer store kept in sync with the editor, a lexical
// go-to-definition and a delimiter balance diagnostic.
package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ajitpratap0/langhost/pkg/environment"
	"github.com/ajitpratap0/langhost/pkg/protocol"
)

// MaxScannedFiles caps how many files a workspace scan reads.
const MaxScannedFiles = 2000

// ErrNotOpen is returned for edits to a document the editor never opened.
var ErrNotOpen = errors.New("document is not open")

// Buffer is a snapshot of one open document.
type Buffer struct {
	URI        string
	LanguageID string
	Version    int
	Text       string
}

// Workspace stores the editor's open buffers. It is safe for concurrent use.
type Workspace struct {
	root string

	mu      sync.RWMutex
	buffers map[string]*Buffer
}

// NewWorkspace creates an empty store for the workspace at root.
func NewWorkspace(root string) *Workspace {
	return &Workspace{root: root, buffers: make(map[string]*Buffer)}
}

// Root returns the workspace root path.
func (w *Workspace) Root() string { return w.root }

// Open records a document, replacing any previous buffer for uri.
func (w *Workspace) Open(uri, languageID string, version int, text string) Buffer {
	w.mu.Lock()
	defer w.mu.Unlock()
	b := &Buffer{URI: uri, LanguageID: languageID, Version: version, Text: text}
	w.buffers[uri] = b
	return *b
}

// Update replaces the whole text of an open document. Unknown documents are
// opened, mirroring editors that send updates for files they never opened.
func (w *Workspace) Update(uri, languageID string, version int, text string) Buffer {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.buffers[uri]
	if !ok {
		b = &Buffer{URI: uri, LanguageID: languageID}
		w.buffers[uri] = b
	}
	b.Text = text
	b.Version = version
	if languageID != "" {
		b.LanguageID = languageID
	}
	return *b
}

// Apply runs content changes against an open document in order. A change
// without a range replaces the whole text.
func (w *Workspace) Apply(uri string, version int, changes []protocol.TextDocumentContentChangeEvent) (Buffer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.buffers[uri]
	if !ok {
		return Buffer{}, fmt.Errorf("%w: %s", ErrNotOpen, uri)
	}

	text := b.Text
	for _, change := range changes {
		if change.Range == nil {
			text = change.Text
			continue
		}
		start, err := offsetOf(text, change.Range.Start)
		if err != nil {
			return Buffer{}, err
		}
		end, err := offsetOf(text, change.Range.End)
		if err != nil {
			return Buffer{}, err
		}
		if end < start {
			return Buffer{}, fmt.Errorf("invalid range %v", *change.Range)
		}
		text = text[:start] + change.Text + text[end:]
	}
	b.Text = text
	b.Version = version
	return *b, nil
}

// Close forgets a document. It reports whether the document was open.
func (w *Workspace) Close(uri string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.buffers[uri]
	delete(w.buffers, uri)
	return ok
}

// Get returns a snapshot of an open document.
func (w *Workspace) Get(uri string) (Buffer, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	b, ok := w.buffers[uri]
	if !ok {
		return Buffer{}, false
	}
	return *b, true
}

// Buffers returns snapshots of every open document ordered by URI.
func (w *Workspace) Buffers() []Buffer {
	w.mu.RLock()
	out := make([]Buffer, 0, len(w.buffers))
	for _, b := range w.buffers {
		out = append(out, *b)
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Scan reads files under the workspace root that match pattern and are not
// open in the editor. Open buffers win over disk content.
func (w *Workspace) Scan(ctx context.Context, pattern string) ([]Buffer, error) {
	if w.root == "" {
		return nil, nil
	}
	fsys := os.DirFS(w.root)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	sort.Strings(matches)

	var out []Buffer
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if len(out) >= MaxScannedFiles {
			break
		}
		uri := environment.PathToURI(filepath.Join(w.root, filepath.FromSlash(rel)))
		if _, open := w.Get(uri); open {
			continue
		}
		data, err := fs.ReadFile(fsys, rel)
		if err != nil {
			// directories named like sources and unreadable files are skipped
			continue
		}
		out = append(out, Buffer{URI: uri, LanguageID: LanguageID, Text: string(data)})
	}
	return out, nil
}

// offsetOf converts an LSP position, counted in UTF-16 code units, into a
// byte offset. Positions past the end of a line clamp to the line end.
func offsetOf(text string, pos protocol.Position) (int, error) {
	if pos.Line < 0 || pos.Character < 0 {
		return 0, fmt.Errorf("invalid position %d:%d", pos.Line, pos.Character)
	}
	offset := 0
	for line := 0; line < pos.Line; line++ {
		i := strings.IndexByte(text[offset:], '\n')
		if i < 0 {
			return len(text), nil
		}
		offset += i + 1
	}

	units := 0
	for offset < len(text) && units < pos.Character {
		r, size := utf8.DecodeRuneInString(text[offset:])
		if r == '\n' {
			break
		}
		units += utf16Len(r)
		offset += size
	}
	return offset, nil
}

// positionOf is the inverse of offsetOf.
func positionOf(text string, offset int) protocol.Position {
	var pos protocol.Position
	for i, r := range text {
		if i >= offset {
			break
		}
		if r == '\n' {
			pos.Line++
			pos.Character = 0
			continue
		}
		pos.Character += utf16Len(r)
	}
	return pos
}

func utf16Len(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}
