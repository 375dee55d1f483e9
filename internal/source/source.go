// Package source reads the response text for one-shot mode.
package source

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
)

// Kind reports where one-shot input came from. Input read from a pipe
// means stdin is no longer available for interactive review.
type Kind string

const (
	Stdin     Kind = "stdin"
	Clipboard Kind = "clipboard"
)

// Read returns the response text from stdin when piped, otherwise from
// the clipboard. An empty clipboard yields empty text, not an error.
func Read() (string, Kind, error) {
	if Piped() {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", Stdin, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return string(data), Stdin, nil
	}

	text, err := clipboard.ReadAll()
	if err != nil {
		return "", Clipboard, fmt.Errorf("failed to read from clipboard: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", Clipboard, nil
	}
	return text, Clipboard, nil
}

// Piped reports whether stdin carries piped data.
func Piped() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice == 0
}
