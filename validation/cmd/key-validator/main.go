package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/openprocure/receiptapi"
	"github.com/cloudx-io/openprocure/validation"
)

// plainTextFormatter prints bare messages, which is what a CLI report wants.
type plainTextFormatter struct{}

func (plainTextFormatter) Format(e *logrus.Entry) ([]byte, error) {
	return []byte(e.Message + "\n"), nil
}

var logger = &logrus.Logger{
	Out:       os.Stdout,
	Formatter: plainTextFormatter{},
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.InfoLevel,
}

func main() {
	var (
		keyResponsePath = flag.String("key-response", "", "Path to GET /v1/receipts/key response JSON (required)")
		trustedKeysPath = flag.String("trusted-keys", "", "Path to trusted keys YAML/JSON file (required)")
		outputFormat    = flag.String("format", "text", "Output format: text or json")
		help            = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help || *keyResponsePath == "" || *trustedKeysPath == "" {
		showUsage()
		if !*help {
			os.Exit(1)
		}
		os.Exit(0)
	}

	keyResponse, err := readKeyResponse(*keyResponsePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading key response: %v\n", err)
		os.Exit(2)
	}

	trusted, err := validation.LoadTrustedKeysFromFile(*trustedKeysPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading trusted keys: %v\n", err)
		os.Exit(2)
	}

	result, err := validation.ValidateKeyResponse(keyResponse, trusted)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		if err := outputJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			os.Exit(2)
		}
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	logger.Info("Receipt Key Validator")
	logger.Info("")
	logger.Info("Checks that the published receipt verification key is one you trust.")
	logger.Info("")
	logger.Info("Usage:")
	logger.Info("  key-validator --key-response <path> --trusted-keys <path> [options]")
	logger.Info("")
	logger.Info("Optional Flags:")
	logger.Info("  --format <text|json>              Output format (default: text)")
	logger.Info("  --help                            Show this help message")
	logger.Info("")
	logger.Info("Exit Codes:")
	logger.Info("  0 - Validation passed")
	logger.Info("  1 - Validation failed")
	logger.Info("  2 - Invalid input or runtime error")
}

func readKeyResponse(path string) (*receiptapi.KeyResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var keyResponse receiptapi.KeyResponse
	if err := json.Unmarshal(data, &keyResponse); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if keyResponse.PublicKey == "" {
		return nil, fmt.Errorf("missing public_key field in key response")
	}

	return &keyResponse, nil
}

func outputText(result *validation.KeyValidationResult) {
	logger.Info("Receipt Key Validator")
	logger.Info("=====================")
	logger.Info("")
	logger.Info("Summary:")
	logger.Infof("  Key ID Match:  %v", result.KeyIDMatch)
	logger.Infof("  Key Trusted:   %v", result.KeyTrusted)
	logger.Info("")
	logger.Info("Details:")
	for _, detail := range result.ValidationDetails {
		logger.Infof("  - %s", detail)
	}
	logger.Info("")
	if result.IsValid() {
		logger.Info("VALIDATION: ✓ PASSED")
	} else {
		logger.Info("VALIDATION: ✗ FAILED")
	}
}

func outputJSON(result *validation.KeyValidationResult) error {
	output := map[string]any{
		"valid":        result.IsValid(),
		"key_id_match": result.KeyIDMatch,
		"key_trusted":  result.KeyTrusted,
		"details":      result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	logger.Info(string(data))
	return nil
}
