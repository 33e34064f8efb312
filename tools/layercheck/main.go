// Command layercheck enforces the package layering of signalhub.
//
// It scans non-test Go files under pkg/ and reports imports that point up
// the dependency graph: contracts imports nothing internal, collaborators
// never reach the HTTP layer, and SQL drivers are registered only by the
// binary.
//
// Usage:
//
//	go run ./tools/layercheck [-root <project-root>]
package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const modulePath = "github.com/buildcoprojects/signalhub"

// rule forbids packages under dir from importing anything containing one of
// the fragments.
type rule struct {
	dir       string
	forbidden []string
}

var rules = []rule{
	{dir: "pkg/contracts", forbidden: []string{modulePath + "/"}},
	{dir: "pkg/retry", forbidden: []string{modulePath + "/"}},
	{dir: "pkg/wormhole", forbidden: []string{modulePath + "/pkg/pipeline", modulePath + "/pkg/server", modulePath + "/pkg/chat"}},
	{dir: "pkg/pipeline", forbidden: []string{modulePath + "/pkg/server", modulePath + "/pkg/chat"}},
	{dir: "pkg/ledger", forbidden: []string{modulePath + "/pkg/pipeline", modulePath + "/pkg/wormhole", modulePath + "/pkg/server"}},
	{dir: "pkg/artifacts", forbidden: []string{modulePath + "/pkg/ledger", modulePath + "/pkg/pipeline", modulePath + "/pkg/server"}},
	{dir: "pkg", forbidden: []string{modulePath + "/cmd", "github.com/lib/pq", "modernc.org/sqlite"}},
}

// Violation is one forbidden import.
type Violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d imports %q (forbidden under %s)", v.File, v.Line, v.Import, v.Rule)
}

func main() {
	root := flag.String("root", ".", "Project root directory")
	flag.Parse()
	os.Exit(run(*root, os.Stdout, os.Stderr))
}

func run(root string, stdout, stderr io.Writer) int {
	violations, err := Check(root)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, v := range violations {
		fmt.Fprintf(stdout, "LAYER VIOLATION: %s\n", v)
	}
	if len(violations) > 0 {
		fmt.Fprintf(stdout, "\n%d layer violation(s) found\n", len(violations))
		return 1
	}
	fmt.Fprintln(stdout, "layer check passed")
	return 0
}

// Check walks root/pkg and returns every import that breaks a rule.
func Check(root string) ([]Violation, error) {
	pkgDir := filepath.Join(root, "pkg")
	if _, err := os.Stat(pkgDir); err != nil {
		return nil, fmt.Errorf("%s: %w", pkgDir, err)
	}

	var violations []Violation
	fset := token.NewFileSet()
	err := filepath.Walk(pkgDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "testdata" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		f, perr := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if perr != nil {
			return fmt.Errorf("parse %s: %w", rel, perr)
		}
		for _, imp := range f.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)
			for _, r := range rules {
				if !strings.HasPrefix(rel, r.dir+"/") {
					continue
				}
				for _, frag := range r.forbidden {
					if strings.HasPrefix(importPath, frag) {
						violations = append(violations, Violation{
							File:   rel,
							Line:   fset.Position(imp.Pos()).Line,
							Import: importPath,
							Rule:   r.dir,
						})
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk failed: %w", err)
	}
	return violations, nil
}
