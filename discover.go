package main

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// SourceKind is the parser family a file is routed to.
type SourceKind string

const (
	KindJSON SourceKind = "json"
	KindGPX  SourceKind = "gpx"
	KindKML  SourceKind = "kml"
)

var kindOrder = map[SourceKind]int{KindJSON: 0, KindGPX: 1, KindKML: 2}

// SourceFile is a discovered input file.
type SourceFile struct {
	Path string
	Kind SourceKind
}

// KindForPath returns the parser family for a file name, matching the
// extension case-insensitively.
func KindForPath(path string) (SourceKind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return KindJSON, true
	case ".gpx":
		return KindGPX, true
	case ".kml", ".kmz":
		return KindKML, true
	}
	return "", false
}

// DiscoverFiles walks root recursively and returns every supported file,
// JSON first, then GPX, then KML/KMZ, each group in lexical path order.
func DiscoverFiles(root string) ([]SourceFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("data directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data directory %s is not a directory", root)
	}

	var files []SourceFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if kind, ok := KindForPath(path); ok {
			files = append(files, SourceFile{Path: path, Kind: kind})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Kind != files[j].Kind {
			return kindOrder[files[i].Kind] < kindOrder[files[j].Kind]
		}
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// UsernameFromPath derives the attribution for a file: the remainder after a
// "username-" or "user-" prefix, else the text before the first underscore,
// else fallback. Both slash styles are accepted as separators.
func UsernameFromPath(path, fallback string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	lower := strings.ToLower(stem)

	switch {
	case strings.HasPrefix(lower, "username-"):
		return stem[len("username-"):]
	case strings.HasPrefix(lower, "user-"):
		return stem[len("user-"):]
	}
	if before, _, found := strings.Cut(stem, "_"); found && before != "" {
		return before
	}
	return fallback
}

// ReadSource reads a whole input file. A zero-byte file is an error.
func ReadSource(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}
	return data, nil
}

type textEncoding struct {
	name   string
	decode func([]byte) ([]byte, error)
}

// Tried in order. The x/text Shift JIS decoder implements the Windows-31J
// (CP932) superset, so it covers both.
var jsonEncodings = []textEncoding{
	{"utf-8", func(b []byte) ([]byte, error) {
		if !utf8.Valid(b) {
			return nil, fmt.Errorf("invalid utf-8")
		}
		return b, nil
	}},
	{"utf-8-sig", func(b []byte) ([]byte, error) {
		if !utf8.Valid(b) {
			return nil, fmt.Errorf("invalid utf-8")
		}
		return unicode.UTF8BOM.NewDecoder().Bytes(b)
	}},
	{"shift_jis", func(b []byte) ([]byte, error) {
		out, err := japanese.ShiftJIS.NewDecoder().Bytes(b)
		if err != nil {
			return nil, err
		}
		if bytes.ContainsRune(out, utf8.RuneError) {
			return nil, fmt.Errorf("invalid shift_jis")
		}
		return out, nil
	}},
}

// decodeJSONText returns data as UTF-8 JSON text using the first encoding
// under which it decodes to valid JSON.
func decodeJSONText(data []byte) ([]byte, string, error) {
	for _, enc := range jsonEncodings {
		text, err := enc.decode(data)
		if err != nil {
			continue
		}
		text = bytes.TrimSpace(text)
		if len(text) == 0 {
			return nil, enc.name, ErrEmptyFile
		}
		if gjson.ValidBytes(text) {
			return text, enc.name, nil
		}
	}
	return nil, "", ErrUndecodable
}

// charsetReader lets encoding/xml read documents that declare a non-UTF-8
// encoding such as Shift_JIS.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported XML encoding %q: %w", label, err)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}
