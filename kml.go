package main

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"path"
	"sort"
	"strings"
)

// xmlNode is a generic element tree. KML nests features arbitrarily deep and
// mixes the kml and gx namespaces, so elements are matched by local name while
// walking rather than through fixed structs.
type xmlNode struct {
	XMLName  xml.Name
	Content  string    `xml:",chardata"`
	Children []xmlNode `xml:",any"`
}

func (n *xmlNode) child(local string) *xmlNode {
	for i := range n.Children {
		if n.Children[i].XMLName.Local == local {
			return &n.Children[i]
		}
	}
	return nil
}

func (n *xmlNode) childText(local string) string {
	if c := n.child(local); c != nil {
		return strings.TrimSpace(c.Content)
	}
	return ""
}

func (n *xmlNode) childrenText(local string) []string {
	var out []string
	for i := range n.Children {
		if n.Children[i].XMLName.Local == local {
			out = append(out, strings.TrimSpace(n.Children[i].Content))
		}
	}
	return out
}

// walk visits n and its descendants in document order. placemark is the
// nearest enclosing Placemark, or nil.
func (n *xmlNode) walk(placemark *xmlNode, fn func(node, placemark *xmlNode)) {
	if n.XMLName.Local == "Placemark" {
		placemark = n
	}
	fn(n, placemark)
	for i := range n.Children {
		n.Children[i].walk(placemark, fn)
	}
}

// ParseKML decodes a KML document. The first strategy that yields records
// wins: gx:Track elements, then placemarks carrying a TimeStamp or TimeSpan,
// then untimed placemark geometry.
func ParseKML(data []byte, filename, username string, th Thresholds) ([]Draft, error) {
	var root xmlNode
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("failed to parse KML: %w", err)
	}
	if root.XMLName.Local != "kml" {
		return nil, fmt.Errorf("root element <%s>: %w", root.XMLName.Local, ErrUnrecognizedFormat)
	}

	if drafts := gxTrackDrafts(&root, filename, username, th); len(drafts) > 0 {
		return drafts, nil
	}
	if drafts := placemarkDrafts(&root, username, true); len(drafts) > 0 {
		return drafts, nil
	}
	return placemarkDrafts(&root, username, false), nil
}

// ParseKMZ extracts the KML document from a KMZ archive and parses it.
func ParseKMZ(data []byte, filename, username string, th Thresholds) ([]Draft, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open KMZ: %w", err)
	}

	entry := selectKMLEntry(zr.File)
	if entry == nil {
		return nil, ErrNoKMLEntry
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s in KMZ: %w", entry.Name, err)
	}
	defer rc.Close()

	doc, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s in KMZ: %w", entry.Name, err)
	}
	return ParseKML(doc, filename, username, th)
}

// selectKMLEntry returns doc.kml if present, else the .kml entry that looks
// most like it: a nested doc.kml first, then the shallowest path, then by
// name.
func selectKMLEntry(files []*zip.File) *zip.File {
	var candidates []*zip.File
	for _, f := range files {
		if f.Name == "doc.kml" {
			return f
		}
		if !f.FileInfo().IsDir() && strings.EqualFold(path.Ext(f.Name), ".kml") {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].Name, candidates[j].Name
		ad, bd := strings.EqualFold(path.Base(a), "doc.kml"), strings.EqualFold(path.Base(b), "doc.kml")
		if ad != bd {
			return ad
		}
		if da, db := strings.Count(a, "/"), strings.Count(b, "/"); da != db {
			return da < db
		}
		return a < b
	})
	return candidates[0]
}

func gxTrackDrafts(root *xmlNode, filename, username string, th Thresholds) []Draft {
	var drafts []Draft
	n := 0

	root.walk(nil, func(node, placemark *xmlNode) {
		if node.XMLName.Local != "Track" {
			return
		}
		n++

		whens := node.childrenText("when")
		coords := node.childrenText("coord")
		if len(whens) != len(coords) {
			log.Printf("Warning: gx:Track has %d <when> and %d <gx:coord> elements, truncating", len(whens), len(coords))
		}

		var points []Trackpoint
		for i := 0; i < min(len(whens), len(coords)); i++ {
			lat, lon, ele, err := parseKMLCoord(coords[i])
			if err != nil {
				continue
			}
			tp := Trackpoint{
				Latitude:   lat,
				Longitude:  lon,
				Elevation:  ele,
				PointIndex: i,
			}
			if t, _, err := parseTimestamp(whens[i]); err == nil {
				tp.PointTime = whens[i]
				tp.Time = t
				tp.HasTime = true
			}
			points = append(points, tp)
		}

		name := fmt.Sprintf("Track %d", n)
		if placemark != nil {
			if s := placemark.childText("name"); s != "" {
				name = s
			}
		}
		drafts = append(drafts, trackDrafts(TypeKMLGxTrack, "kml", filename, name, username, points, th)...)
	})

	return drafts
}

// placemarkDrafts expands the Point and LineString vertices of every
// placemark, timed or untimed, into one draft each.
func placemarkDrafts(root *xmlNode, username string, timed bool) []Draft {
	var drafts []Draft

	root.walk(nil, func(node, _ *xmlNode) {
		if node.XMLName.Local != "Placemark" {
			return
		}

		var pointTime, start, end string
		stamp, span := node.child("TimeStamp"), node.child("TimeSpan")
		if stamp != nil {
			pointTime = stamp.childText("when")
		}
		if span != nil {
			start, end = span.childText("begin"), span.childText("end")
		}
		if (stamp != nil || span != nil) != timed {
			return
		}

		name := node.childText("name")
		seq := 0
		emit := func(typ, coord string) {
			lat, lon, ele, err := parseKMLCoord(coord)
			if err != nil {
				return
			}
			elev := floatOrNil(ele)
			drafts = append(drafts, Draft{
				Type:                   typ,
				StartTime:              start,
				EndTime:                end,
				PointTime:              pointTime,
				Latitude:               lat,
				Longitude:              lon,
				VisitPlaceID:           name,
				ActivityDistanceMeters: elev,
				Username:               username,
				GPXDataSource:          "kml",
				GPXTrackName:           name,
				GPXElevation:           elev,
				GPXPointSequence:       seq,
			})
			seq++
		}

		var geometry func(g *xmlNode)
		geometry = func(g *xmlNode) {
			switch g.XMLName.Local {
			case "Point":
				for _, c := range strings.Fields(g.childText("coordinates")) {
					emit(TypeKMLPoint, c)
				}
			case "LineString":
				for _, c := range strings.Fields(g.childText("coordinates")) {
					emit(TypeKMLLineString, c)
				}
			case "MultiGeometry":
				for i := range g.Children {
					geometry(&g.Children[i])
				}
			}
		}
		for i := range node.Children {
			geometry(&node.Children[i])
		}
	})

	return drafts
}
