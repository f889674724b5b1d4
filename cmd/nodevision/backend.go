package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hajimeno-ipoo/NodeVision-Editor/core/backend"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
)

type backendOutput struct {
	OK      bool                  `json:"ok"`
	URL     string                `json:"url,omitempty"`
	Health  *backend.Health       `json:"health,omitempty"`
	Catalog []project.CatalogItem `json:"catalog,omitempty"`
	errorInfo
}

func runBackend(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Check that the preview backend is reachable and optionally list its node catalog.")
	}
	flagSet := flag.NewFlagSet("backend", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var configPath string
	var baseURL string
	var withCatalog bool
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&configPath, "config", "", "path to config.yaml")
	flagSet.StringVar(&baseURL, "url", "", "backend base url (overrides config and environment)")
	flagSet.BoolVar(&withCatalog, "catalog", false, "also fetch the node catalog")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeBackendOutput(jsonOutput, backendOutput{errorInfo: errorInfo{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printBackendUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeBackendOutput(jsonOutput, backendOutput{errorInfo: errorInfo{Error: "unexpected positional arguments"}}, exitInvalidInput)
	}

	env, err := loadEnvironment(configPath, os.Stderr)
	if err != nil {
		return writeBackendOutput(jsonOutput, backendOutput{errorInfo: errorInfoFor(err)}, exitCodeForError(err, exitInvalidInput))
	}
	if strings.TrimSpace(baseURL) != "" {
		env.settings.BackendURL = baseURL
	}
	client, err := backend.New(backend.Options{
		BaseURL: env.settings.BackendURL,
		Timeout: env.settings.BackendTimeout,
		Gate:    env.gate,
		Logger:  env.logger,
	})
	if err != nil {
		return writeBackendOutput(jsonOutput, backendOutput{URL: env.settings.BackendURL, errorInfo: errorInfoFor(err)}, exitCodeForError(err, exitInvalidInput))
	}

	ctx := context.Background()
	output := backendOutput{URL: client.BaseURL()}
	health, err := client.Health(ctx)
	if err != nil {
		output.errorInfo = errorInfoFor(err)
		return writeBackendOutput(jsonOutput, output, exitCodeForError(err, exitBackendUnavailable))
	}
	output.Health = &health
	if withCatalog {
		catalog, err := client.Catalog(ctx)
		if err != nil {
			output.errorInfo = errorInfoFor(err)
			return writeBackendOutput(jsonOutput, output, exitCodeForError(err, exitBackendUnavailable))
		}
		output.Catalog = catalog
	}
	output.OK = true
	return writeBackendOutput(jsonOutput, output, exitOK)
}

func writeBackendOutput(jsonOutput bool, output backendOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Health != nil {
		fmt.Printf("backend %s: %s (%s %s)\n", output.URL, output.Health.Status, output.Health.Service, output.Health.Version)
	}
	for _, item := range output.Catalog {
		fmt.Printf("  %-24s %-20s %s\n", item.NodeID, item.DisplayName, item.Category)
	}
	if output.Error != "" {
		fmt.Printf("backend error: %s\n", output.Error)
	}
	return exitCode
}

func printBackendUsage() {
	fmt.Println("Usage:")
	fmt.Println("  nodevision backend [--config <config.yaml>] [--url <http://host:port>] [--catalog] [--json] [--explain]")
}
