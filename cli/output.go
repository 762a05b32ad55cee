package cli

import (
	"encoding/json"
	"fmt"

	"github.com/alpkeskin/gotoon"
)

// outputFormat resolves the shared --json/--toon flags.
func outputFormat() string {
	switch {
	case toonOutput:
		return "toon"
	case jsonOutput:
		return "json"
	default:
		return "text"
	}
}

// encodeOutput encodes data in the specified format (json or toon).
func encodeOutput(data any, format string) (string, error) {
	switch format {
	case "toon":
		return gotoon.Encode(data)
	default: // "json"
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(jsonBytes), nil
	}
}

// printStructured prints data in the selected machine format and reports
// whether it did; text rendering stays with the caller.
func printStructured(data any) (bool, error) {
	format := outputFormat()
	if format == "text" {
		return false, nil
	}
	out, err := encodeOutput(data, format)
	if err != nil {
		return false, fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(out)
	return true, nil
}
