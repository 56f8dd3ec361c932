package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
)

func TestUsernameFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "data/username-alice.json", want: "alice"},
		{path: "data/user-bob.gpx", want: "bob"},
		{path: "USER-Carol.kml", want: "Carol"},
		{path: "data/dave_2024-01.json", want: "dave"},
		{path: "data/erin_walk_home.gpx", want: "erin"},
		{path: "data/Timeline.json", want: "default"},
		{path: "data/_hidden.json", want: "default"},
		{path: `C:\Users\frank\exports\frank_tracks.gpx`, want: "frank"},
		{path: `exports\user-gina.kmz`, want: "gina"},
		{path: "data/user_henry.json", want: "user"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, UsernameFromPath(tt.path, "default"))
		})
	}
}

func TestKindForPath(t *testing.T) {
	tests := []struct {
		path string
		kind SourceKind
		ok   bool
	}{
		{"a.json", KindJSON, true},
		{"a.JSON", KindJSON, true},
		{"b.gpx", KindGPX, true},
		{"c.kml", KindKML, true},
		{"d.KMZ", KindKML, true},
		{"e.csv", "", false},
		{"noext", "", false},
	}
	for _, tt := range tests {
		kind, ok := KindForPath(tt.path)
		if kind != tt.kind || ok != tt.ok {
			t.Errorf("KindForPath(%q) = %q, %v; want %q, %v", tt.path, kind, ok, tt.kind, tt.ok)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDiscoverFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"b.kml", "a.gpx", "sub/c.json", "z.json", "readme.txt", "d.KMZ", "sub/deeper/e.gpx",
	} {
		writeFile(t, filepath.Join(dir, name), "x")
	}

	files, err := DiscoverFiles(dir)
	require.NoError(t, err)

	var got []string
	for _, f := range files {
		rel, err := filepath.Rel(dir, f.Path)
		require.NoError(t, err)
		got = append(got, filepath.ToSlash(rel)+":"+string(f.Kind))
	}
	assert.Equal(t, []string{
		"sub/c.json:json",
		"z.json:json",
		"a.gpx:gpx",
		"sub/deeper/e.gpx:gpx",
		"b.kml:kml",
		"d.KMZ:kml",
	}, got)
}

func TestDiscoverFilesErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := DiscoverFiles(filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	file := filepath.Join(dir, "file.json")
	writeFile(t, file, "{}")
	_, err = DiscoverFiles(file)
	require.Error(t, err)

	files, err := DiscoverFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestReadSource(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.gpx")
	writeFile(t, empty, "")
	_, err := ReadSource(empty)
	require.ErrorIs(t, err, ErrEmptyFile)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	full := filepath.Join(dir, "full.gpx")
	writeFile(t, full, "<gpx/>")
	data, err := ReadSource(full)
	require.NoError(t, err)
	assert.Equal(t, "<gpx/>", string(data))

	_, err = ReadSource(filepath.Join(dir, "nope.gpx"))
	require.Error(t, err)
}

func TestDecodeJSONText(t *testing.T) {
	sjis, err := japanese.ShiftJIS.NewEncoder().String(`{"name":"東京駅"}`)
	require.NoError(t, err)

	tests := []struct {
		name     string
		input    []byte
		want     string
		encoding string
		err      error
	}{
		{name: "utf-8", input: []byte(`{"name":"東京駅"}`), want: `{"name":"東京駅"}`, encoding: "utf-8"},
		{name: "surrounding whitespace", input: []byte("\n  [1, 2]  \n"), want: "[1, 2]", encoding: "utf-8"},
		{name: "byte order mark", input: []byte("\xef\xbb\xbf{\"a\":1}"), want: `{"a":1}`, encoding: "utf-8-sig"},
		{name: "shift_jis", input: []byte(sjis), want: `{"name":"東京駅"}`, encoding: "shift_jis"},
		{name: "whitespace only", input: []byte(" \n\t "), err: ErrEmptyFile},
		{name: "not json", input: []byte("hello world"), err: ErrUndecodable},
		{name: "binary", input: []byte{0xff, 0xfe, 0x00, 0x81}, err: ErrUndecodable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, encoding, err := decodeJSONText(tt.input)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(text))
			assert.Equal(t, tt.encoding, encoding)
		})
	}
}

func TestCharsetReader(t *testing.T) {
	_, err := charsetReader("x-no-such-charset", nil)
	require.Error(t, err)
}
