// Command bco runs the four-pass peephole optimizer over a single method
// read from a textfmt listing, the way cmd/wazero/wazero.go is a thin
// flag.FlagSet front end over the library packages it wires together.
package main

import (
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"github.com/bytefold/bco/internal/callgraph"
	"github.com/bytefold/bco/internal/config"
	"github.com/bytefold/bco/internal/diag"
	"github.com/bytefold/bco/internal/driver"
	"github.com/bytefold/bco/internal/inliner"
	"github.com/bytefold/bco/internal/ir"
	"github.com/bytefold/bco/internal/textfmt"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bco", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "log before/after textified method")
	allowSkipClassLoading := fs.Bool("allow-skip-class-loading", false, "let pass (C) drop an unused class/MethodType/MethodHandle LDC")
	allowSkipModuleInit := fs.Bool("allow-skip-module-init", false, "let pass (C) drop an unused module-load GETSTATIC")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: bco [flags] <method.bco>")
		return 2
	}

	src, err := ioutil.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "bco: %v\n", err)
		return 1
	}

	reg := callgraph.NewRegistry()
	m, err := textfmt.Parse(string(src), reg)
	if err != nil {
		fmt.Fprintf(stderr, "bco: %v\n", err)
		return 1
	}

	cfg := config.New().
		WithAllowSkipClassLoading(*allowSkipClassLoading).
		WithAllowSkipModuleInitialization(*allowSkipModuleInit)

	log := &diag.Logger{Out: stdout, Enabled: *verbose}
	result := driver.Run(m, cfg, reg, inliner.New(), ir.DefaultOracle(), log)

	if !*verbose {
		fmt.Fprint(stdout, textfmt.Format(m))
	}
	fmt.Fprintf(stderr, "bco: changed=%v iterations=%d\n", result.Changed(), result.Iterations)
	return 0
}
