package symbols

import (
	"context"
	"fmt"
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/python"
)

type extractFunc func(file string, root *sitter.Node, content []byte) []Symbol

type language struct {
	lang    *sitter.Language
	extract extractFunc
}

var languages = map[string]language{
	".py": {lang: python.GetLanguage(), extract: extractPython},
	".go": {lang: golang.GetLanguage(), extract: extractGo},
}

// Supported reports whether a file has an indexable extension.
func Supported(file string) bool {
	_, ok := languages[path.Ext(file)]
	return ok
}

// parserSet lazily creates one tree-sitter parser per extension. It is not
// safe for concurrent use.
type parserSet struct {
	parsers map[string]*sitter.Parser
}

func newParserSet() *parserSet {
	return &parserSet{parsers: make(map[string]*sitter.Parser)}
}

func (ps *parserSet) parse(ctx context.Context, file string, content []byte) ([]Symbol, error) {
	ext := path.Ext(file)
	l, ok := languages[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}
	p, ok := ps.parsers[ext]
	if !ok {
		p = sitter.NewParser()
		p.SetLanguage(l.lang)
		ps.parsers[ext] = p
	}

	tree, err := p.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	defer tree.Close()

	return l.extract(file, tree.RootNode(), content), nil
}

func (ps *parserSet) close() {
	for _, p := range ps.parsers {
		p.Close()
	}
}

// ParseFile extracts the symbols of a single file.
func ParseFile(ctx context.Context, file string, content []byte) ([]Symbol, error) {
	ps := newParserSet()
	defer ps.close()
	return ps.parse(ctx, file, content)
}

func lines(n *sitter.Node) (int, int) {
	return int(n.StartPoint().Row) + 1, int(n.EndPoint().Row) + 1
}

func fieldText(n *sitter.Node, field string, content []byte) string {
	child := n.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return child.Content(content)
}

func extractPython(file string, root *sitter.Node, content []byte) []Symbol {
	var out []Symbol

	var visit func(n *sitter.Node, parent string)
	visit = func(n *sitter.Node, parent string) {
		switch n.Type() {
		case "function_definition":
			if name := fieldText(n, "name", content); name != "" {
				kind := KindFunction
				if parent != "" {
					kind = KindMethod
				}
				params := fieldText(n, "parameters", content)
				if params == "" {
					params = "()"
				}
				sig := "def " + name + params
				if ret := fieldText(n, "return_type", content); ret != "" {
					sig += " -> " + ret
				}
				start, end := lines(n)
				out = append(out, Symbol{
					Name: name, Kind: kind, File: file,
					StartLine: start, EndLine: end,
					Signature: sig, Parent: parent,
				})
			}
		case "class_definition":
			if name := fieldText(n, "name", content); name != "" {
				start, end := lines(n)
				out = append(out, Symbol{Name: name, Kind: KindClass, File: file, StartLine: start, EndLine: end})
				for i := 0; i < int(n.NamedChildCount()); i++ {
					visit(n.NamedChild(i), name)
				}
				return
			}
		case "import_statement", "import_from_statement":
			start, end := lines(n)
			out = append(out, Symbol{Name: n.Content(content), Kind: KindImport, File: file, StartLine: start, EndLine: end})
		}

		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i), parent)
		}
	}

	visit(root, "")
	return out
}

func extractGo(file string, root *sitter.Node, content []byte) []Symbol {
	var out []Symbol

	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		start, end := lines(n)

		switch n.Type() {
		case "function_declaration":
			name := fieldText(n, "name", content)
			out = append(out, Symbol{
				Name: name, Kind: KindFunction, File: file,
				StartLine: start, EndLine: end,
				Signature: goSignature("func "+name, n, content),
			})

		case "method_declaration":
			name := fieldText(n, "name", content)
			recv := fieldText(n, "receiver", content)
			out = append(out, Symbol{
				Name: name, Kind: KindMethod, File: file,
				StartLine: start, EndLine: end,
				Signature: goSignature("func "+recv+" "+name, n, content),
				Parent:    receiverType(recv),
			})

		case "type_declaration":
			for j := 0; j < int(n.NamedChildCount()); j++ {
				spec := n.NamedChild(j)
				if spec.Type() != "type_spec" && spec.Type() != "type_alias" {
					continue
				}
				name := fieldText(spec, "name", content)
				if name == "" {
					continue
				}
				sig := "type " + name
				if typ := spec.ChildByFieldName("type"); typ != nil {
					switch typ.Type() {
					case "struct_type":
						sig += " struct"
					case "interface_type":
						sig += " interface"
					default:
						sig += " " + typ.Content(content)
					}
				}
				s, e := lines(spec)
				out = append(out, Symbol{Name: name, Kind: KindClass, File: file, StartLine: s, EndLine: e, Signature: sig})
			}

		case "import_declaration":
			collectGoImports(n, file, content, &out)
		}
	}
	return out
}

func goSignature(prefix string, n *sitter.Node, content []byte) string {
	sig := prefix + fieldText(n, "parameters", content)
	if res := fieldText(n, "result", content); res != "" {
		sig += " " + res
	}
	return sig
}

func collectGoImports(n *sitter.Node, file string, content []byte, out *[]Symbol) {
	if n.Type() == "import_spec" {
		start, end := lines(n)
		name := strings.Trim(fieldText(n, "path", content), "\"`")
		*out = append(*out, Symbol{Name: name, Kind: KindImport, File: file, StartLine: start, EndLine: end})
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		collectGoImports(n.NamedChild(i), file, content, out)
	}
}

// receiverType reduces "(s *Server[T])" to "Server".
func receiverType(recv string) string {
	recv = strings.Trim(recv, "()")
	fields := strings.Fields(recv)
	if len(fields) == 0 {
		return ""
	}
	typ := strings.TrimLeft(fields[len(fields)-1], "*")
	if i := strings.Index(typ, "["); i >= 0 {
		typ = typ[:i]
	}
	return typ
}
