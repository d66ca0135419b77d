// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package parse extracts module facts from Go source using tree-sitter.
//
// The parser produces the raw facts the query engine memoizes per file:
// package name, top-level symbols, and syntax errors. Extraction polls the
// supplied context at bounded intervals so a pending edit can abort a walk
// over a large tree; the tree-sitter parse itself honors context
// cancellation through ParseCtx.
package parse

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// DefaultMaxFileSize is the largest file the parser accepts, in bytes.
const DefaultMaxFileSize = 10 * 1024 * 1024

// pollEvery is how many visited nodes pass between context polls during
// tree walks.
const pollEvery = 256

// SymbolKind classifies a top-level symbol.
type SymbolKind int

const (
	// KindFunction is a top-level function declaration.
	KindFunction SymbolKind = iota

	// KindMethod is a method declaration.
	KindMethod

	// KindType is a type declaration (struct, interface, alias).
	KindType

	// KindVar is a top-level variable declaration.
	KindVar

	// KindConst is a top-level constant declaration.
	KindConst
)

// String returns the string representation of the kind.
func (k SymbolKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindMethod:
		return "method"
	case KindType:
		return "type"
	case KindVar:
		return "var"
	case KindConst:
		return "const"
	default:
		return "unknown"
	}
}

// Symbol is one top-level declaration.
type Symbol struct {
	Name      string     `json:"name"`
	Kind      SymbolKind `json:"-"`
	KindName  string     `json:"kind"`
	StartByte uint32     `json:"start_byte"`
	EndByte   uint32     `json:"end_byte"`
	Line      uint32     `json:"line"`
}

// SyntaxError is one error region reported by the grammar.
type SyntaxError struct {
	Message   string `json:"message"`
	StartByte uint32 `json:"start_byte"`
	EndByte   uint32 `json:"end_byte"`
	Line      uint32 `json:"line"`
}

// Result holds all facts extracted from one revision of one file.
type Result struct {
	// Path is the file path the result was computed for.
	Path string

	// Package is the declared package name, empty when the package clause
	// is missing or malformed.
	Package string

	// Symbols are the top-level declarations in source order.
	Symbols []Symbol

	// SyntaxErrors are the error regions found in the tree.
	SyntaxErrors []SyntaxError

	// Hash is the SHA-256 of the parsed content, hex encoded.
	Hash string
}

// Parser parses Go source files. Each Parse call creates its own tree-sitter
// parser instance, so a Parser is safe for concurrent use.
type Parser struct {
	maxFileSize int
}

// NewParser returns a parser with the default file size limit.
func NewParser() *Parser {
	return &Parser{maxFileSize: DefaultMaxFileSize}
}

// Parse parses content and extracts package name, symbols, and syntax
// errors.
//
// Description:
//
//	The context is checked before parsing, during extraction (every
//	pollEvery visited nodes), and after. Callers running under the
//	snapshot protocol bind the generation flag to the context, so a
//	pending edit aborts the parse at the next poll.
//
// Inputs:
//   - ctx: Context, typically bound to a cancellation flag.
//   - content: Complete file content. Must be valid UTF-8.
//   - path: File path, used only for the Result and error messages.
//
// Outputs:
//   - *Result: Extracted facts. Nil on error.
//   - error: Context errors, size or encoding violations, parser failures.
//
// Thread Safety: Safe for concurrent use.
func (p *Parser) Parse(ctx context.Context, content []byte, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse %s aborted before start: %w", path, err)
	}
	if len(content) > p.maxFileSize {
		return nil, fmt.Errorf("parse %s: size %d exceeds limit %d", path, len(content), p.maxFileSize)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("parse %s: content is not valid UTF-8", path)
	}

	hash := sha256.Sum256(content)

	// New instance per call for thread safety.
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse %s aborted after tree build: %w", path, err)
	}

	result := &Result{
		Path:         path,
		Hash:         hex.EncodeToString(hash[:]),
		Symbols:      make([]Symbol, 0),
		SyntaxErrors: make([]SyntaxError, 0),
	}

	root := tree.RootNode()
	if root == nil {
		return result, nil
	}

	w := &walker{ctx: ctx, content: content}
	if err := w.extract(root, result); err != nil {
		return nil, fmt.Errorf("parse %s aborted during extraction: %w", path, err)
	}
	return result, nil
}

// walker carries walk state so poll counting spans the whole extraction.
type walker struct {
	ctx     context.Context
	content []byte
	visited int
}

// poll checks the context once per pollEvery visited nodes.
func (w *walker) poll() error {
	w.visited++
	if w.visited%pollEvery == 0 {
		return w.ctx.Err()
	}
	return nil
}

// extract walks the top level of the source file and collects facts.
func (w *walker) extract(root *sitter.Node, result *Result) error {
	if root.HasError() {
		if err := w.collectErrors(root, result); err != nil {
			return err
		}
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		if err := w.poll(); err != nil {
			return err
		}
		node := root.NamedChild(i)
		switch node.Type() {
		case "package_clause":
			if name := node.ChildByFieldName("name"); name != nil {
				result.Package = name.Content(w.content)
			} else if id := firstChildOfType(node, "package_identifier"); id != nil {
				result.Package = id.Content(w.content)
			}
		case "function_declaration":
			w.addNamed(node, KindFunction, result)
		case "method_declaration":
			w.addNamed(node, KindMethod, result)
		case "type_declaration":
			w.addSpecs(node, "type_spec", KindType, result)
		case "var_declaration":
			w.addSpecs(node, "var_spec", KindVar, result)
		case "const_declaration":
			w.addSpecs(node, "const_spec", KindConst, result)
		}
	}
	return nil
}

// addNamed records a declaration whose grammar node has a "name" field.
func (w *walker) addNamed(node *sitter.Node, kind SymbolKind, result *Result) {
	name := node.ChildByFieldName("name")
	if name == nil {
		return
	}
	result.Symbols = append(result.Symbols, Symbol{
		Name:      name.Content(w.content),
		Kind:      kind,
		KindName:  kind.String(),
		StartByte: node.StartByte(),
		EndByte:   node.EndByte(),
		Line:      node.StartPoint().Row,
	})
}

// addSpecs records the spec children of a grouped declaration, covering both
// `type T ...` and `type ( A ...; B ... )` forms.
func (w *walker) addSpecs(node *sitter.Node, specType string, kind SymbolKind, result *Result) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != specType {
			continue
		}
		name := child.ChildByFieldName("name")
		if name == nil {
			continue
		}
		result.Symbols = append(result.Symbols, Symbol{
			Name:      name.Content(w.content),
			Kind:      kind,
			KindName:  kind.String(),
			StartByte: child.StartByte(),
			EndByte:   child.EndByte(),
			Line:      child.StartPoint().Row,
		})
	}
}

// collectErrors walks the full tree and records ERROR and missing nodes.
func (w *walker) collectErrors(node *sitter.Node, result *Result) error {
	if err := w.poll(); err != nil {
		return err
	}

	if node.IsError() {
		result.SyntaxErrors = append(result.SyntaxErrors, SyntaxError{
			Message:   "syntax error",
			StartByte: node.StartByte(),
			EndByte:   node.EndByte(),
			Line:      node.StartPoint().Row,
		})
		return nil
	}
	if node.IsMissing() {
		result.SyntaxErrors = append(result.SyntaxErrors, SyntaxError{
			Message:   fmt.Sprintf("missing %s", node.Type()),
			StartByte: node.StartByte(),
			EndByte:   node.EndByte(),
			Line:      node.StartPoint().Row,
		})
		return nil
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if err := w.collectErrors(node.Child(i), result); err != nil {
			return err
		}
	}
	return nil
}

// firstChildOfType returns the first named child with the given type.
func firstChildOfType(node *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if child := node.NamedChild(i); child.Type() == nodeType {
			return child
		}
	}
	return nil
}
