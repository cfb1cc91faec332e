package cmd

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"assetdl/config"
)

// Integration tests for the asset commands
// These tests require a real S3 connection and are skipped by default
// To run these tests, set the environment variable S3_INTEGRATION_TEST=true
// and TEST_ASSET_ID to an asset present in the bucket

func setupIntegration(t *testing.T) string {
	t.Helper()
	if os.Getenv("S3_INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test; set S3_INTEGRATION_TEST=true to run")
	}

	t.Setenv("BUCKET_NAME", os.Getenv("TEST_BUCKET_NAME"))
	t.Setenv("REGION", os.Getenv("TEST_REGION"))
	t.Setenv("API_URL", os.Getenv("TEST_API_URL"))
	t.Setenv("ACCESS_KEY", os.Getenv("TEST_ACCESS_KEY"))
	t.Setenv("SECRET_KEY", os.Getenv("TEST_SECRET_KEY"))

	loaded, err := config.Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	cfg = loaded
	return os.Getenv("TEST_ASSET_ID")
}

func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := fn()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String(), err
}

func TestInfoCommand(t *testing.T) {
	assetID := setupIntegration(t)

	output, err := captureOutput(t, func() error {
		rootCmd.SetArgs([]string{"info", assetID})
		return rootCmd.Execute()
	})
	if err != nil {
		t.Fatalf("Info command failed: %v", err)
	}

	for _, want := range []string{os.Getenv("TEST_BUCKET_NAME"), "region", "object_count", "total_size"} {
		if !strings.Contains(output, want) {
			t.Errorf("Output doesn't contain %q: %s", want, output)
		}
	}
}

func TestFilesCommand(t *testing.T) {
	assetID := setupIntegration(t)

	output, err := captureOutput(t, func() error {
		rootCmd.SetArgs([]string{"files", assetID})
		return rootCmd.Execute()
	})
	if err != nil {
		t.Fatalf("Files command failed: %v", err)
	}

	for _, want := range []string{assetID, "total_files", "local_path"} {
		if !strings.Contains(output, want) {
			t.Errorf("Output doesn't contain %q: %s", want, output)
		}
	}
}
