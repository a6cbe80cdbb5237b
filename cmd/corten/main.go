// Corten CLI - the main entry point for running serialized programs
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tliron/commonlog"

	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"
	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/config"
	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/engine"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	disasm := flag.Bool("d", false, "Disassemble the program instead of running it")
	optimize := flag.Bool("O", false, "Run bytecode optimization passes before execution")
	stats := flag.Bool("stats", false, "Print tier pipeline statistics after execution")
	configDir := flag.String("config", ".", "Directory containing corten.toml")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: corten [options] program.crtn\n\n")
		fmt.Fprintf(os.Stderr, "Runs a serialized bytecode program through the tiered engine.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  corten prog.crtn           # Run a program\n")
		fmt.Fprintf(os.Stderr, "  corten -d prog.crtn        # Show its disassembly\n")
		fmt.Fprintf(os.Stderr, "  corten -O -stats prog.crtn # Optimize, run, report tiers\n")
	}
	flag.Parse()

	if *verbose {
		commonlog.Configure(1, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading program: %v\n", err)
		os.Exit(1)
	}
	program, err := bytecode.Decode(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding program: %v\n", err)
		os.Exit(1)
	}

	if *disasm {
		fmt.Print(program.Disassemble())
		return
	}

	if *optimize {
		optimized := program.Clone()
		bytecode.NewOptimizer().Optimize(optimized)
		optimized.Seal()
		program = optimized
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting engine: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := eng.Execute(ctx, program)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		eng.Close()
		os.Exit(1)
	}
	fmt.Println(eng.Format(result))

	if *stats {
		s := eng.Tiers().PipelineStats()
		fmt.Printf("baseline compiles:   %d\n", s.BaselineCompiles)
		fmt.Printf("optimizing compiles: %d\n", s.OptimizingCompiles)
		fmt.Printf("osr entries:         %d\n", s.OSREntries)
		fmt.Printf("deopts:              %d\n", s.Deopts)
		fmt.Printf("pinned functions:    %d\n", s.PinnedFunctions)
	}
}
