package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrNoDialog is returned when no folder dialog program is installed.
var ErrNoDialog = errors.New("no folder selection dialog available")

// ExecSelector shows the platform's native folder dialog by running a
// helper program: zenity or kdialog on Linux, osascript on macOS and
// PowerShell on Windows.
type ExecSelector struct {
	// Title is shown in the dialog when the helper supports it.
	Title string
	// LookPath finds helper programs, exec.LookPath when nil.
	LookPath func(file string) (string, error)
}

// SelectFolder implements PathSelector.
func (s ExecSelector) SelectFolder(ctx context.Context, initial string) (string, bool, error) {
	name, args, err := s.command(initial)
	if err != nil {
		return "", false, err
	}

	var stdout, stderr bytes.Buffer
	// #nosec G204
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && dismissed(name, exitErr.ExitCode(), stderr.String()) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, strings.TrimSpace(stderr.String()))
	}

	dir := strings.TrimSpace(stdout.String())
	if dir == "" {
		return "", false, nil
	}
	if len(dir) > 1 {
		dir = strings.TrimRight(dir, `/\`)
	}
	return dir, true, nil
}

func (s ExecSelector) title() string {
	if s.Title != "" {
		return s.Title
	}
	return "Select download folder"
}

func (s ExecSelector) command(initial string) (string, []string, error) {
	lookPath := s.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`POSIX path of (choose folder with prompt %q)`, s.title())
		return "osascript", []string{"-e", script}, nil
	case "windows":
		script := fmt.Sprintf(`Add-Type -AssemblyName System.Windows.Forms
$d = New-Object System.Windows.Forms.FolderBrowserDialog
$d.Description = '%s'
$d.SelectedPath = '%s'
if ($d.ShowDialog() -eq [System.Windows.Forms.DialogResult]::OK) { Write-Output $d.SelectedPath }`,
			psQuote(s.title()), psQuote(initial))
		return "powershell", []string{"-NoProfile", "-WindowStyle", "Hidden", "-Command", script}, nil
	}

	if p, err := lookPath("zenity"); err == nil {
		args := []string{"--file-selection", "--directory", "--title=" + s.title()}
		if initial != "" {
			args = append(args, "--filename="+strings.TrimRight(initial, "/")+"/")
		}
		return p, args, nil
	}
	if p, err := lookPath("kdialog"); err == nil {
		return p, []string{"--getexistingdirectory", initial, "--title", s.title()}, nil
	}
	return "", nil, ErrNoDialog
}

// dismissed reports whether a failed helper run means the user closed the
// dialog rather than an actual failure.
func dismissed(name string, code int, stderr string) bool {
	switch filepath.Base(name) {
	case "zenity", "kdialog":
		return code == 1
	case "osascript":
		return strings.Contains(stderr, "-128") || strings.Contains(strings.ToLower(stderr), "user canceled")
	}
	return false
}

func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
