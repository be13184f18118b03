package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	sqlKeyword    = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with)\b`)
	markerPattern = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type problem struct {
	pos     token.Position
	name    string
	message string
}

func (p problem) String() string {
	return fmt.Sprintf("%s:%d %s (%s)", p.pos.Filename, p.pos.Line, p.message, p.name)
}

type linter struct {
	fset       *token.FileSet
	seen       map[string]problem
	problems   []problem
	statements int
}

func newLinter() *linter {
	return &linter{fset: token.NewFileSet(), seen: make(map[string]problem)}
}

func (l *linter) lintPath(path string) error {
	file, err := parser.ParseFile(l.fset, path, nil, 0)
	if err != nil {
		return err
	}
	l.lintFile(file)
	return nil
}

func (l *linter) lintSource(name, src string) error {
	file, err := parser.ParseFile(l.fset, name, src, 0)
	if err != nil {
		return err
	}
	l.lintFile(file)
	return nil
}

// lintFile inspects package level const and var string literals that look
// like SQL.
func (l *linter) lintFile(file *ast.File) {
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || (gen.Tok != token.CONST && gen.Tok != token.VAR) {
			continue
		}
		for _, spec := range gen.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			for i, value := range vs.Values {
				name := "_"
				if i < len(vs.Names) {
					name = vs.Names[i].Name
				}
				l.lintValue(name, value)
			}
		}
	}
}

func (l *linter) lintValue(name string, value ast.Expr) {
	lit, ok := value.(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return
	}
	raw, err := unquote(lit.Value)
	if err != nil || !sqlKeyword.MatchString(raw) {
		return
	}
	l.statements++
	here := problem{pos: l.fset.Position(lit.Pos()), name: name}

	marker := firstLine(raw)
	if !markerPattern.MatchString(marker) {
		here.message = "missing or invalid --sql <uuid> marker"
		l.problems = append(l.problems, here)
		return
	}
	if prev, dup := l.seen[marker]; dup {
		here.message = fmt.Sprintf("marker already used by %s at %s:%d", prev.name, prev.pos.Filename, prev.pos.Line)
		l.problems = append(l.problems, here)
		return
	}
	l.seen[marker] = here
}

func (l *linter) finish() []problem {
	sort.SliceStable(l.problems, func(i, j int) bool {
		a, b := l.problems[i].pos, l.problems[j].pos
		if a.Filename != b.Filename {
			return a.Filename < b.Filename
		}
		return a.Line < b.Line
	})
	return l.problems
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if strings.HasPrefix(v, "`") {
		return strings.Trim(v, "`"), nil
	}
	return strconv.Unquote(v)
}
