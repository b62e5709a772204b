// Package testutil holds helpers shared by servotrace package tests.
package testutil

import (
	"encoding/csv"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/servotrace/internal/monitoring"
)

// LocalRequest creates a test request that appears to come from localhost,
// which the /debug/ routes require.
func LocalRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// Quiet captures package log output for the duration of the test.
func Quiet(t testing.TB) *monitoring.Recorder {
	t.Helper()
	rec, restore := monitoring.Capture()
	t.Cleanup(restore)
	return rec
}

// ReadCSV reads every record of a CSV file.
func ReadCSV(t testing.TB, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}
