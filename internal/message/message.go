// Package message prints user-facing output: status lines, warnings and
// result sections, with quiet and no-color switches.
package message

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

var (
	quiet     bool
	mutex     sync.RWMutex
	outWriter io.Writer = os.Stdout

	infoColor    = color.New(color.FgCyan)
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	sectionColor = color.New(color.FgHiMagenta, color.Bold)
)

// SetQuiet suppresses informational messages; results, warnings and
// errors still print.
func SetQuiet(q bool) {
	mutex.Lock()
	defer mutex.Unlock()
	quiet = q
}

// SetNoColor disables colored output globally.
func SetNoColor(nc bool) {
	mutex.Lock()
	defer mutex.Unlock()
	color.NoColor = nc
}

// SetOutput changes the output writer (useful for testing).
func SetOutput(w io.Writer) {
	mutex.Lock()
	defer mutex.Unlock()
	outWriter = w
}

func isQuiet() bool {
	mutex.RLock()
	defer mutex.RUnlock()
	return quiet
}

func writer() io.Writer {
	mutex.RLock()
	defer mutex.RUnlock()
	return outWriter
}

// Info prints an informational status line.
func Info(format string, args ...any) {
	if isQuiet() {
		return
	}
	infoColor.Fprintf(writer(), "[*] "+format+"\n", args...)
}

// Success prints a completion line.
func Success(format string, args ...any) {
	if isQuiet() {
		return
	}
	successColor.Fprintf(writer(), "[+] "+format+"\n", args...)
}

// Warning prints a warning line. Warnings print even in quiet mode.
func Warning(format string, args ...any) {
	warningColor.Fprintf(writer(), "[!] "+format+"\n", args...)
}

// Error prints an error line to stderr.
func Error(format string, args ...any) {
	errorColor.Fprintf(os.Stderr, "[-] "+format+"\n", args...)
}

// Section prints a section header for result blocks.
func Section(title string) {
	if isQuiet() {
		return
	}
	sectionColor.Fprintf(writer(), "\n== %s ==\n", title)
}

// Plain prints an uncolored result line; results are never suppressed.
func Plain(format string, args ...any) {
	fmt.Fprintf(writer(), format+"\n", args...)
}
