// Package symbols extracts named declarations from source files. Go files are
// parsed with go/ast; other supported languages use tree-sitter grammars.
package symbols

import (
	"context"
	"sort"
)

// Symbol is one named declaration.
type Symbol struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Extractor returns the symbols declared in a file's content.
type Extractor interface {
	// Extract returns symbols for content. Unsupported languages yield no
	// symbols and no error; syntax errors yield whatever could be recovered.
	Extract(ctx context.Context, path string, content []byte, language string) ([]Symbol, error)

	// Supports reports whether language has a symbol grammar.
	Supports(language string) bool
}

type extractor struct {
	treeSitter map[string]*grammar
}

// NewExtractor creates the default multi-language extractor.
func NewExtractor() Extractor {
	return &extractor{treeSitter: grammars()}
}

func (e *extractor) Supports(language string) bool {
	if language == "go" {
		return true
	}
	_, ok := e.treeSitter[language]
	return ok
}

func (e *extractor) Extract(ctx context.Context, path string, content []byte, language string) ([]Symbol, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		syms []Symbol
		err  error
	)
	if language == "go" {
		syms, err = extractGo(path, content)
	} else if g, ok := e.treeSitter[language]; ok {
		syms, err = g.extract(content)
	} else {
		return nil, nil
	}

	sort.SliceStable(syms, func(i, j int) bool { return syms[i].StartLine < syms[j].StartLine })
	return syms, err
}
