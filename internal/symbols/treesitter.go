package symbols

import (
	"fmt"

	sitter "github.com/tree-sitter/go-tree-sitter"
	c "github.com/tree-sitter/tree-sitter-c/bindings/go"
	java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	php "github.com/tree-sitter/tree-sitter-php/bindings/go"
	python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	ruby "github.com/tree-sitter/tree-sitter-ruby/bindings/go"
	rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// grammar maps declaration node kinds of one language to symbol kinds.
type grammar struct {
	language *sitter.Language
	kinds    map[string]string
}

func grammars() map[string]*grammar {
	ts := sitter.NewLanguage(typescript.LanguageTypescript())
	tsx := sitter.NewLanguage(typescript.LanguageTSX())
	cLang := sitter.NewLanguage(c.Language())

	tsKinds := map[string]string{
		"function_declaration":           "function",
		"generator_function_declaration": "function",
		"class_declaration":              "class",
		"abstract_class_declaration":     "class",
		"interface_declaration":          "interface",
		"type_alias_declaration":         "type",
		"enum_declaration":               "enum",
		"method_definition":              "method",
	}
	cKinds := map[string]string{
		"function_definition": "function",
		"struct_specifier":    "struct",
		"enum_specifier":      "enum",
		"union_specifier":     "union",
		"type_definition":     "type",
	}

	return map[string]*grammar{
		"typescript": {language: ts, kinds: tsKinds},
		"javascript": {language: ts, kinds: tsKinds},
		"tsx":        {language: tsx, kinds: tsKinds},
		"c":          {language: cLang, kinds: cKinds},
		"cpp":        {language: cLang, kinds: cKinds},
		"python": {
			language: sitter.NewLanguage(python.Language()),
			kinds: map[string]string{
				"function_definition": "function",
				"class_definition":    "class",
			},
		},
		"rust": {
			language: sitter.NewLanguage(rust.Language()),
			kinds: map[string]string{
				"function_item":    "function",
				"struct_item":      "struct",
				"enum_item":        "enum",
				"trait_item":       "trait",
				"type_item":        "type",
				"const_item":       "constant",
				"static_item":      "variable",
				"mod_item":         "module",
				"macro_definition": "macro",
			},
		},
		"java": {
			language: sitter.NewLanguage(java.Language()),
			kinds: map[string]string{
				"class_declaration":       "class",
				"interface_declaration":   "interface",
				"enum_declaration":        "enum",
				"record_declaration":      "class",
				"method_declaration":      "method",
				"constructor_declaration": "constructor",
			},
		},
		"ruby": {
			language: sitter.NewLanguage(ruby.Language()),
			kinds: map[string]string{
				"method":           "method",
				"singleton_method": "method",
				"class":            "class",
				"module":           "module",
			},
		},
		"php": {
			language: sitter.NewLanguage(php.LanguagePHP()),
			kinds: map[string]string{
				"function_definition":   "function",
				"method_declaration":    "method",
				"class_declaration":     "class",
				"interface_declaration": "interface",
				"trait_declaration":     "trait",
				"enum_declaration":      "enum",
			},
		},
	}
}

func (g *grammar) extract(content []byte) ([]Symbol, error) {
	parser := sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(g.language); err != nil {
		return nil, fmt.Errorf("failed to set parser language: %w", err)
	}

	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse source")
	}
	defer tree.Close()

	var syms []Symbol
	walkTree(tree.RootNode(), func(n *sitter.Node) {
		kind, ok := g.kinds[n.Kind()]
		if !ok {
			return
		}
		name := declarationName(n, content)
		if name == "" {
			return
		}
		syms = append(syms, Symbol{
			Name:      name,
			Kind:      kind,
			StartLine: int(n.StartPosition().Row) + 1,
			EndLine:   int(n.EndPosition().Row) + 1,
		})
	})
	return syms, nil
}

// declarationName resolves the declared identifier. C-family declarations keep
// the name inside nested declarators rather than a "name" field.
func declarationName(n *sitter.Node, source []byte) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return nodeText(name, source)
	}

	decl := n.ChildByFieldName("declarator")
	for depth := 0; decl != nil && depth < 8; depth++ {
		switch decl.Kind() {
		case "identifier", "type_identifier", "field_identifier":
			return nodeText(decl, source)
		}
		decl = decl.ChildByFieldName("declarator")
	}
	return ""
}

func nodeText(n *sitter.Node, source []byte) string {
	return string(source[n.StartByte():n.EndByte()])
}

// walkTree visits every node depth-first.
func walkTree(node *sitter.Node, visit func(*sitter.Node)) {
	if node == nil {
		return
	}
	visit(node)
	for i := uint(0); i < node.ChildCount(); i++ {
		walkTree(node.Child(i), visit)
	}
}
