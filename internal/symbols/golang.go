package symbols

import (
	"go/ast"
	"go/parser"
	"go/token"
)

// extractGo walks top-level declarations. Partial ASTs returned alongside a
// syntax error are still used.
func extractGo(path string, content []byte) ([]Symbol, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.SkipObjectResolution)
	if file == nil {
		return nil, err
	}

	var syms []Symbol
	add := func(name, kind string, from, to token.Pos) {
		if name == "" || name == "_" {
			return
		}
		syms = append(syms, Symbol{
			Name:      name,
			Kind:      kind,
			StartLine: fset.Position(from).Line,
			EndLine:   fset.Position(to).Line,
		})
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			kind := "function"
			if d.Recv != nil {
				kind = "method"
			}
			add(d.Name.Name, kind, d.Pos(), d.End())
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					kind := "type"
					switch s.Type.(type) {
					case *ast.StructType:
						kind = "struct"
					case *ast.InterfaceType:
						kind = "interface"
					}
					add(s.Name.Name, kind, s.Pos(), s.End())
				case *ast.ValueSpec:
					kind := "variable"
					if d.Tok == token.CONST {
						kind = "constant"
					}
					for _, n := range s.Names {
						add(n.Name, kind, s.Pos(), s.End())
					}
				}
			}
		}
	}
	return syms, err
}
