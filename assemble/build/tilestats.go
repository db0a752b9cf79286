// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package build

import (
	"encoding/xml"
	"sync"
)

// TileStats accumulates per-tile fragment counts alongside the per-bin
// per-barcode counters assemble/binmeta already tracks, feeding the
// stats XML output (spec.md §6 "Output stats"). Grounded on the
// original's BamTemplateTileStatsAdapter/FragmentMetadataTileStatsAdapter,
// which tallied the same counts per (lane, tile) pair for QC reporting.
type TileStats struct {
	mu    sync.Mutex
	tiles map[tileKey]*tileCounts
}

type tileKey struct {
	Lane, Tile string
}

type tileCounts struct {
	TotalFragments  int64
	UniqueFragments int64
}

// NewTileStats returns an empty TileStats accumulator.
func NewTileStats() *TileStats {
	return &TileStats{tiles: make(map[tileKey]*tileCounts)}
}

// Add records one fragment's outcome for (lane, tile); unique should be
// true iff the bin sorter's duplicate filter kept this fragment as the
// representative of its duplicate group.
func (s *TileStats) Add(lane, tile string, unique bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tileKey{lane, tile}
	c, ok := s.tiles[key]
	if !ok {
		c = &tileCounts{}
		s.tiles[key] = c
	}
	c.TotalFragments++
	if unique {
		c.UniqueFragments++
	}
}

// tileStatsXML and tileStatXML mirror the per-bin-per-barcode stats XML
// shape (spec.md §6 "Output stats") for the per-tile breakdown.
type tileStatsXML struct {
	XMLName xml.Name      `xml:"TileStats"`
	Tiles   []tileStatXML `xml:"Tile"`
}

type tileStatXML struct {
	Lane            string `xml:"lane,attr"`
	Tile            string `xml:"tile,attr"`
	TotalFragments  int64  `xml:"totalFragments,attr"`
	UniqueFragments int64  `xml:"uniqueFragments,attr"`
}

// MarshalXML renders the accumulated counts, sorted by (lane, tile) for
// deterministic output across runs.
func (s *TileStats) MarshalXML() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := tileStatsXML{}
	for key, c := range s.tiles {
		doc.Tiles = append(doc.Tiles, tileStatXML{
			Lane:            key.Lane,
			Tile:            key.Tile,
			TotalFragments:  c.TotalFragments,
			UniqueFragments: c.UniqueFragments,
		})
	}
	sortTileStats(doc.Tiles)
	return xml.MarshalIndent(doc, "", "  ")
}

func sortTileStats(tiles []tileStatXML) {
	for i := 1; i < len(tiles); i++ {
		for j := i; j > 0; j-- {
			a, b := tiles[j-1], tiles[j]
			if a.Lane < b.Lane || (a.Lane == b.Lane && a.Tile <= b.Tile) {
				break
			}
			tiles[j-1], tiles[j] = tiles[j], tiles[j-1]
		}
	}
}
