package main

import (
	"strings"
	"testing"
)

func TestLintAcceptsMarkedStatements(t *testing.T) {
	l := newLinter()
	src := "package q\n\nconst QA = `--sql 11111111-2222-4333-8444-555555555555\nselect 1;\n`\n\nconst Label = \"not sql at all\"\n"
	if err := l.lintSource("a.go", src); err != nil {
		t.Fatalf("lintSource: %v", err)
	}
	if got := l.finish(); len(got) != 0 {
		t.Fatalf("problems = %v", got)
	}
	if l.statements != 1 {
		t.Fatalf("statements = %d, want 1", l.statements)
	}
}

func TestLintFlagsMissingMarker(t *testing.T) {
	l := newLinter()
	src := "package q\n\nconst QBad = `\nupdate reaction_jobs set status = 'failed';\n`\n"
	if err := l.lintSource("b.go", src); err != nil {
		t.Fatalf("lintSource: %v", err)
	}
	got := l.finish()
	if len(got) != 1 || got[0].name != "QBad" || !strings.Contains(got[0].message, "missing") {
		t.Fatalf("problems = %v", got)
	}
}

func TestLintFlagsDuplicateMarkersAcrossFiles(t *testing.T) {
	l := newLinter()
	marker := "--sql 11111111-2222-4333-8444-555555555555"
	_ = l.lintSource("a.go", "package q\n\nconst QA = `"+marker+"\nselect 1;\n`\n")
	_ = l.lintSource("b.go", "package q\n\nvar QB = `"+marker+"\ndelete from reaction_jobs;\n`\n")
	got := l.finish()
	if len(got) != 1 || got[0].name != "QB" || !strings.Contains(got[0].message, "QA") {
		t.Fatalf("problems = %v", got)
	}
}
