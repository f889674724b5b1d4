package main

import (
	"fmt"
	"os"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

const (
	exitOK                 = 0
	exitInternalFailure    = 1
	exitValidationFailed   = 2
	exitBackendUnavailable = 4
	exitNotFound           = 5
	exitInvalidInput       = 6
)

func main() {
	os.Exit(run(os.Args))
}

func run(arguments []string) int {
	if len(arguments) < 2 {
		fmt.Println("nodevision", version)
		return exitOK
	}
	if arguments[1] == "--explain" {
		return writeExplain("NodeVision drives the project session engine from the command line: validate and fingerprint project files, inspect recovery candidates, check the workspace, and watch a project with live preview and autosave.")
	}

	switch arguments[1] {
	case "validate":
		return runValidate(arguments[2:])
	case "fingerprint":
		return runFingerprint(arguments[2:])
	case "backend":
		return runBackend(arguments[2:])
	case "recover":
		return runRecover(arguments[2:])
	case "watch":
		return runWatch(arguments[2:])
	case "doctor":
		return runDoctor(arguments[2:])
	case "version", "--version", "-v":
		if hasExplainFlag(arguments[2:]) {
			return writeExplain("Print the CLI version.")
		}
		fmt.Println("nodevision", version)
		return exitOK
	default:
		printUsage()
		return exitInvalidInput
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  nodevision validate <project.nveproj> [--schema <schema.json>] [--export <issues.json>] [--json] [--explain]")
	fmt.Println("  nodevision fingerprint <project.nveproj> [--digest] [--json] [--explain]")
	fmt.Println("  nodevision backend [--config <config.yaml>] [--catalog] [--json] [--explain]")
	fmt.Println("  nodevision recover [--config <config.yaml>] [--slot <slot>] [--restore-to <path>] [--discard] [--timeout <duration>] [--json] [--explain]")
	fmt.Println("  nodevision watch <project.nveproj> [--config <config.yaml>] [--slot <slot>] [--metrics-addr <host:port>] [--explain]")
	fmt.Println("  nodevision doctor [--config <config.yaml>] [--offline] [--json] [--explain]")
	fmt.Println("  nodevision version")
}
