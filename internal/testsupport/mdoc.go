package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"tomoprep/internal/config"
)

// WriteMdoc drops a minimal acquisition metadata file for the named position
// into the configured mdoc directory and returns its path. The name should
// include the movie extension, e.g. "Position_1.mrc".
func WriteMdoc(t testing.TB, cfg *config.Config, name string) string {
	t.Helper()

	body := fmt.Sprintf(`PixelSpacing = %g
Voltage = %g
ImageFile = %s

[ZValue = 0]
TiltAngle = 0.0
`, cfg.Microscope.PixelSize, cfg.Microscope.Voltage, name)

	path := filepath.Join(cfg.Paths.MdocDir, name+".mdoc")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir mdoc dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write mdoc %s: %v", name, err)
	}
	return path
}
