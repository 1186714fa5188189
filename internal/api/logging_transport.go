package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// maxLoggedBody caps how much of a response body ends up in the log file.
const maxLoggedBody = 64 * 1024

var (
	activeLoggingTransports []*LoggingTransport
	transportsMu            sync.Mutex
)

// LoggingTransport wraps an http.RoundTripper and appends every exchange to a file.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	writer    *bufio.Writer
	mu        sync.Mutex
}

// NewLoggingTransport opens logFilePath for appending and registers the
// transport so CloseAllLoggingTransports can flush it on exit.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	safeLogFilePath := filepath.Clean(logFilePath)
	// #nosec G304
	f, err := os.OpenFile(safeLogFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open HTTP log file %s: %w", safeLogFilePath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	lt := &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}

	transportsMu.Lock()
	activeLoggingTransports = append(activeLoggingTransports, lt)
	count := len(activeLoggingTransports)
	transportsMu.Unlock()
	log.Debugf("[LogTransport] Registered transport for %s. Total active: %d", safeLogFilePath, count)

	return lt, nil
}

// RoundTrip executes a single HTTP transaction, logging details. The file
// lock is only held while writing, never across the network call.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	startTime := time.Now()

	if reqDump, err := httputil.DumpRequestOut(req, false); err != nil {
		log.WithError(err).Warn("[LogTransport] Failed to dump request")
	} else {
		t.mu.Lock()
		t.writeLog(fmt.Sprintf("--- Request (%s) ---\n%s", startTime.Format(time.RFC3339), string(reqDump)))
		t.mu.Unlock()
	}

	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(startTime)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.writeLog(fmt.Sprintf("--- Response Error (%s, Duration: %v) ---\n%s", time.Now().Format(time.RFC3339), duration, err.Error()))
	} else {
		contentType := resp.Header.Get("Content-Type")
		header, _ := httputil.DumpResponse(resp, false)
		if isTextual(contentType) {
			bodyBytes, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			if readErr != nil {
				t.writeLog(fmt.Sprintf("--- Response (%v) ---\n%s\n(Body read failed: %v)", duration, string(header), readErr))
			} else {
				logged := bodyBytes
				if len(logged) > maxLoggedBody {
					logged = logged[:maxLoggedBody]
				}
				t.writeLog(fmt.Sprintf("--- Response (%v) ---\n%s\n--- Body (%s) ---\n%s", duration, string(header), contentType, string(logged)))
			}
		} else {
			t.writeLog(fmt.Sprintf("--- Response (%v, Type: %s) ---\n%s\n(Body not logged)", duration, contentType, string(header)))
		}
	}

	if errFlush := t.writer.Flush(); errFlush != nil {
		log.WithError(errFlush).Error("[LogTransport] Failed to flush log writer")
	}
	return resp, err
}

func isTextual(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json") ||
		strings.HasPrefix(contentType, "text/")
}

// writeLog must be called with t.mu held.
func (t *LoggingTransport) writeLog(entry string) {
	if _, err := t.writer.WriteString(entry + "\n\n"); err != nil {
		log.WithError(err).Error("[LogTransport] Failed to write HTTP log entry")
	}
}

// Close flushes and closes the underlying log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFlush := t.writer.Flush()
	errClose := t.logFile.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush HTTP log buffer: %w", errFlush)
	}
	return errClose
}

// CloseAllLoggingTransports closes every transport created so far.
func CloseAllLoggingTransports() {
	transportsMu.Lock()
	defer transportsMu.Unlock()

	for _, t := range activeLoggingTransports {
		if err := t.Close(); err != nil {
			log.WithError(err).Warnf("[LogTransport] Error closing transport for %s", t.logFile.Name())
		}
	}
	activeLoggingTransports = nil
}
