// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lineindex converts between absolute byte offsets and line/column
// positions within one file's content.
//
// Lines and columns are zero-based. Columns are byte columns within the
// line; multi-byte UTF-8 sequences count per byte, matching how the parser
// reports node offsets.
package lineindex

import (
	"errors"
	"fmt"
	"sort"
)

// ErrOutOfRange is returned when an offset or position lies outside the
// indexed content.
var ErrOutOfRange = errors.New("position out of range")

// pollChunk is how many bytes are scanned between cancellation polls when
// building an index. Bounds the edit latency contributed by index builds on
// very large files.
const pollChunk = 64 * 1024

// Position is a zero-based line/column pair.
type Position struct {
	Line uint32 `json:"line"`
	Col  uint32 `json:"col"`
}

// LineIndex is the immutable newline table for one revision of a file.
type LineIndex struct {
	// lineStarts[i] is the byte offset at which line i begins. Always has
	// at least one element, 0.
	lineStarts []uint32

	// length is the total content length in bytes.
	length uint32
}

// Build scans text and returns its line index. The poll callback is invoked
// once per pollChunk bytes; a non-nil return aborts the build with that
// error. Pass nil to build without poll points.
func Build(text []byte, poll func() error) (*LineIndex, error) {
	starts := []uint32{0}
	next := pollChunk
	for i, b := range text {
		if poll != nil && i >= next {
			if err := poll(); err != nil {
				return nil, err
			}
			next += pollChunk
		}
		if b == '\n' {
			starts = append(starts, uint32(i)+1)
		}
	}
	return &LineIndex{lineStarts: starts, length: uint32(len(text))}, nil
}

// New builds a line index without poll points. Intended for small inputs and
// tests; queries use Build with the generation flag.
func New(text []byte) *LineIndex {
	idx, _ := Build(text, nil)
	return idx
}

// LineCount returns the number of lines. Content without a trailing newline
// still counts its final partial line; empty content has one empty line.
func (ix *LineIndex) LineCount() int {
	return len(ix.lineStarts)
}

// Len returns the indexed content length in bytes.
func (ix *LineIndex) Len() uint32 {
	return ix.length
}

// Position converts a byte offset into a line/column pair. The offset may
// equal the content length (the end-of-file position).
func (ix *LineIndex) Position(offset uint32) (Position, error) {
	if offset > ix.length {
		return Position{}, fmt.Errorf("%w: offset %d > length %d", ErrOutOfRange, offset, ix.length)
	}
	// First line start greater than offset, minus one, is our line.
	line := sort.Search(len(ix.lineStarts), func(i int) bool {
		return ix.lineStarts[i] > offset
	}) - 1
	return Position{
		Line: uint32(line),
		Col:  offset - ix.lineStarts[line],
	}, nil
}

// Offset converts a line/column pair back into a byte offset.
func (ix *LineIndex) Offset(pos Position) (uint32, error) {
	if int(pos.Line) >= len(ix.lineStarts) {
		return 0, fmt.Errorf("%w: line %d of %d", ErrOutOfRange, pos.Line, len(ix.lineStarts))
	}
	offset := ix.lineStarts[pos.Line] + pos.Col
	end := ix.length
	if int(pos.Line)+1 < len(ix.lineStarts) {
		end = ix.lineStarts[pos.Line+1]
	}
	if offset > end {
		return 0, fmt.Errorf("%w: col %d beyond end of line %d", ErrOutOfRange, pos.Col, pos.Line)
	}
	return offset, nil
}

// LineStart returns the byte offset at which the given line begins.
func (ix *LineIndex) LineStart(line uint32) (uint32, error) {
	if int(line) >= len(ix.lineStarts) {
		return 0, fmt.Errorf("%w: line %d of %d", ErrOutOfRange, line, len(ix.lineStarts))
	}
	return ix.lineStarts[line], nil
}
