package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"tomoprep/internal/logging"
)

// ErrDiscovery indicates the raw-data root is unreadable. Fatal to the run;
// individual malformed entries are skipped instead.
var ErrDiscovery = errors.New("discovery error")

// Position is a tilt series found under the mdoc directory.
type Position struct {
	Name     string
	MdocPath string
	WorkDir  string
}

// Scanner enumerates positions from the acquisition software's mdoc output.
type Scanner struct {
	mdocDir  string
	workRoot string
	fileType string
	logger   *slog.Logger
}

// NewScanner builds a scanner over mdocDir that assigns working directories
// under workRoot. fileType is the movie extension embedded in mdoc names
// (e.g. "mrc", "eer") and is stripped from position prefixes.
func NewScanner(mdocDir, workRoot, fileType string, logger *slog.Logger) *Scanner {
	return &Scanner{
		mdocDir:  mdocDir,
		workRoot: workRoot,
		fileType: strings.TrimPrefix(fileType, "."),
		logger:   logging.WithComponent(logger, "discovery"),
	}
}

// Scan returns every position currently present. Scanning is idempotent: the
// same directory contents always yield the same positions, so re-running
// after a crash is safe. Override mdocs and entries with no derivable name
// are skipped with a warning.
func (s *Scanner) Scan(ctx context.Context) ([]Position, error) {
	entries, err := os.ReadDir(s.mdocDir)
	if err != nil {
		return nil, fmt.Errorf("%w: read mdoc directory %s: %w", ErrDiscovery, s.mdocDir, err)
	}

	var positions []Position
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".mdoc") || strings.Contains(name, "_override") {
			continue
		}
		prefix := s.positionPrefix(name)
		if prefix == "" {
			s.logger.Warn("skipping mdoc with no derivable position name",
				logging.String("file", name),
			)
			continue
		}
		positions = append(positions, Position{
			Name:     prefix,
			MdocPath: filepath.Join(s.mdocDir, name),
			WorkDir:  filepath.Join(s.workRoot, prefix),
		})
	}
	return positions, nil
}

// positionPrefix strips the .mdoc suffix and the trailing movie extension,
// matching the naming scheme the acquisition software uses
// (Position_1_3.mrc.mdoc -> Position_1_3).
func (s *Scanner) positionPrefix(fileName string) string {
	prefix := strings.TrimSuffix(fileName, ".mdoc")
	if s.fileType != "" {
		prefix = strings.TrimSuffix(prefix, "."+s.fileType)
	}
	return strings.TrimSpace(prefix)
}
