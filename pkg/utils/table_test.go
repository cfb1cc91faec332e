package utils

import (
	"strings"
	"testing"

	"assetdl/internal/models"
)

func TestRenderStatusTable(t *testing.T) {
	items := []models.TransferItem{
		{RelativePath: "a.txt", Status: models.StatusCompleted, Progress: 100, Size: 2048},
		{RelativePath: "logs/err.bin", Status: models.StatusFailed, Progress: 40, Size: 10, Error: "access denied"},
	}

	out := RenderStatusTable(items)
	for _, want := range []string{"a.txt", "Completed", "2.0 KiB", "logs/err.bin", "Failed", "access denied", "2 files", "1 ok / 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
