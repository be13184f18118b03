// Command sqllint checks that every SQL constant carries a unique
// `--sql <uuid>` marker, the key SQLRunner logs statements under.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"internal/sqlinline"}
	}

	l := newLinter()
	for _, target := range targets {
		if err := l.addTarget(target); err != nil {
			fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
			os.Exit(1)
		}
	}

	problems := l.finish()
	if len(problems) == 0 {
		fmt.Printf("sqllint: %d statements ok\n", l.statements)
		return
	}
	fmt.Fprintln(os.Stderr, "sqllint: SQL marker problems")
	for _, p := range problems {
		fmt.Fprintf(os.Stderr, "  %s\n", p)
	}
	os.Exit(1)
}

func (l *linter) addTarget(target string) error {
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if filepath.Ext(target) != ".go" {
			return nil
		}
		return l.lintPath(target)
	}
	return filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != target && (strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_") || d.Name() == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		return l.lintPath(path)
	})
}
