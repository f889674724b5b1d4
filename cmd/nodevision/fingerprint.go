package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/fingerprint"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/projectfile"
)

type fingerprintOutput struct {
	OK          bool   `json:"ok"`
	Path        string `json:"path,omitempty"`
	Digest      string `json:"digest,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	errorInfo
}

func runFingerprint(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Print the canonical fingerprint of a project file. Key order, float noise and autosave metadata do not change it.")
	}
	arguments = reorderInterspersedFlags(arguments, nil)
	flagSet := flag.NewFlagSet("fingerprint", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var digestOnly bool
	var jsonOutput bool
	var helpFlag bool

	flagSet.BoolVar(&digestOnly, "digest", false, "print only the sha256 digest")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeFingerprintOutput(jsonOutput, fingerprintOutput{errorInfo: errorInfo{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printFingerprintUsage()
		return exitOK
	}
	if len(flagSet.Args()) != 1 {
		return writeFingerprintOutput(jsonOutput, fingerprintOutput{errorInfo: errorInfo{Error: "expected exactly one project path"}}, exitInvalidInput)
	}
	path := flagSet.Arg(0)

	// Fingerprints are defined for any decodable document, valid or not.
	loaded, err := projectfile.Load(path, nil)
	if err != nil {
		return writeFingerprintOutput(jsonOutput, fingerprintOutput{Path: path, errorInfo: errorInfoFor(err)}, exitCodeForError(err, exitValidationFailed))
	}
	output := fingerprintOutput{OK: true, Path: path, Digest: fingerprint.Digest(loaded)}
	if !digestOnly {
		output.Fingerprint = fingerprint.Fingerprint(loaded)
	}
	return writeFingerprintOutput(jsonOutput, output, exitOK)
}

func writeFingerprintOutput(jsonOutput bool, output fingerprintOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if !output.OK {
		fmt.Printf("fingerprint error: %s\n", output.Error)
		return exitCode
	}
	fmt.Println(output.Digest)
	if output.Fingerprint != "" {
		fmt.Println(output.Fingerprint)
	}
	return exitCode
}

func printFingerprintUsage() {
	fmt.Println("Usage:")
	fmt.Println("  nodevision fingerprint <project.nveproj> [--digest] [--json] [--explain]")
}
