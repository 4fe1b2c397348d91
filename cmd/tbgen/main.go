// =============================================================================
// tbgen - Testbench Generator Entry Point
// =============================================================================
//
// tbgen turns recorded test actions into a SystemVerilog testbench and runs
// it under ncsim, vcs or iverilog.
//
// THE PIPELINE:
//   1. CUE validates tbgen.json and every suite file (crash on schema mismatch)
//   2. Suites are decoded into a circuit and a recorded action list
//   3. OPA checks the action list before anything is generated
//   4. The action list is lowered into <circuit>_tb.sv
//   5. The simulator compiles and executes the testbench
//
// WHEN A SUITE FAILS:
//   Run `tbgen check` first. A policy error means the suite is wrong; a
//   compile error usually means the generated testbench and the device model
//   disagree on ports.
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/tbgen/internal/config"
	"github.com/robert-at-pretension-io/tbgen/internal/pipeline"
	"github.com/robert-at-pretension-io/tbgen/internal/suite"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	cmd := os.Args[1]

	switch cmd {
	case "init":
		runInit()
	case "check", "gen", "run":
		os.Exit(runPipeline(cmd, os.Args[2:]))
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintln(os.Stderr, "unknown command:", cmd)
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: tbgen <command> [options] <suite.yaml|dir>...

Commands:
  init              Create a tbgen.json configuration file
  check             Validate suites and run policy checks
  gen               Write the testbench of every suite
  run               Generate, compile and simulate every suite

Options:
  -c, --config      Specify config file: tbgen run -c tbgen.json suites/
  -v, --verbose     Enable verbose output
  --json            Print the report as JSON instead of text
  -o                Also write the JSON report to a file
  -h, --help        Show this help message

Configuration:
  tbgen looks for configuration in:
    1. ./tbgen.json
    2. ./.tbgen.json
    3. <root>/tbgen.json
    4. ~/.config/tbgen/config.json

  Run 'tbgen init' to create a default configuration file.`)
}

func runInit() {
	configPath := "tbgen.json"

	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file %s already exists. Overwrite? [y/N]: ", configPath)
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println("\nEdit this file to configure:")
	fmt.Println("  - Simulator and timescale")
	fmt.Println("  - Device model sources and libraries")
	fmt.Println("  - Defines, include directories and extra flags")
}

type options struct {
	configPath string
	verbose    bool
	jsonOutput bool
	reportPath string
	root       string
}

func parseArgs(cmd string, args []string) (options, []string, error) {
	var opts options
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "c", "", "config file")
	fs.StringVar(&opts.configPath, "config", "", "config file")
	fs.BoolVar(&opts.verbose, "v", false, "verbose output")
	fs.BoolVar(&opts.verbose, "verbose", false, "verbose output")
	fs.BoolVar(&opts.jsonOutput, "json", false, "JSON report on stdout")
	fs.StringVar(&opts.reportPath, "o", "", "write JSON report to file")
	fs.StringVar(&opts.root, "root", ".", "project root for relative config paths")
	fs.Usage = printUsage
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	if fs.NArg() == 0 {
		return opts, nil, fmt.Errorf("%s needs at least one suite file or directory", cmd)
	}
	return opts, fs.Args(), nil
}

func loadConfig(opts options) (*config.Config, error) {
	if opts.configPath != "" {
		cfg, err := config.LoadFile(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", opts.configPath, err)
		}
		return cfg, nil
	}
	cfg, err := config.Load(opts.root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runPipeline(cmd string, args []string) int {
	opts, paths, err := parseArgs(cmd, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	logger := logrus.StandardLogger()
	if opts.verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else if opts.jsonOutput {
		logger.SetLevel(logrus.WarnLevel)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	files, err := suite.Discover(paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	p := pipeline.New(cfg, opts.root)
	p.Verbose = opts.verbose
	p.JSONOutput = opts.jsonOutput
	p.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var report *pipeline.RunReport
	switch cmd {
	case "check":
		report, err = p.Check(ctx, files)
	case "gen":
		report, err = p.Generate(ctx, files)
	case "run":
		report, err = p.Run(ctx, files)
	}

	if report != nil {
		if opts.jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", encErr)
				return 1
			}
		}
		if opts.reportPath != "" {
			if wErr := report.WriteFile(opts.reportPath); wErr != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", wErr)
				return 1
			}
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
