package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/backend"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/doctor"
)

type doctorOutput struct {
	OK     bool           `json:"ok"`
	Result *doctor.Result `json:"result,omitempty"`
	errorInfo
}

func runDoctor(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Check the local workspace: storage directory, project schema, pending autosave, bench log and backend reachability.")
	}
	flagSet := flag.NewFlagSet("doctor", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var configPath string
	var offline bool
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&configPath, "config", "", "path to config.yaml")
	flagSet.BoolVar(&offline, "offline", false, "skip the backend health check")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeDoctorOutput(jsonOutput, doctorOutput{errorInfo: errorInfo{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printDoctorUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeDoctorOutput(jsonOutput, doctorOutput{errorInfo: errorInfo{Error: "unexpected positional arguments"}}, exitInvalidInput)
	}

	env, err := loadEnvironment(configPath, os.Stderr)
	if err != nil {
		return writeDoctorOutput(jsonOutput, doctorOutput{errorInfo: errorInfoFor(err)}, exitCodeForError(err, exitInvalidInput))
	}
	opts := doctor.Options{Settings: env.settings, ProducerVersion: version}
	if !offline {
		client, err := backend.New(backend.Options{
			BaseURL: env.settings.BackendURL,
			Timeout: env.settings.BackendTimeout,
			Logger:  env.logger,
		})
		if err != nil {
			return writeDoctorOutput(jsonOutput, doctorOutput{errorInfo: errorInfoFor(err)}, exitCodeForError(err, exitInvalidInput))
		}
		opts.Backend = client
	}

	result := doctor.Run(context.Background(), opts)
	output := doctorOutput{OK: !result.Failed(), Result: &result}
	if result.Failed() {
		output.errorInfo = errorInfo{Error: result.Summary, ErrorCode: "doctor_failed", ErrorCategory: "internal_failure"}
		return writeDoctorOutput(jsonOutput, output, exitInternalFailure)
	}
	return writeDoctorOutput(jsonOutput, output, exitOK)
}

func writeDoctorOutput(jsonOutput bool, output doctorOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Result != nil {
		for _, check := range output.Result.Checks {
			fmt.Printf("[%s] %-12s %s\n", check.Status, check.Name, check.Message)
		}
		fmt.Println(output.Result.Summary)
		for _, fix := range output.Result.FixCommands {
			fmt.Printf("  fix: %s\n", fix)
		}
		return exitCode
	}
	if output.Error != "" {
		fmt.Printf("doctor error: %s\n", output.Error)
	}
	return exitCode
}

func printDoctorUsage() {
	fmt.Println("Usage:")
	fmt.Println("  nodevision doctor [--config <config.yaml>] [--offline] [--json] [--explain]")
}
