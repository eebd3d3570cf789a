package source

import (
	"os"
	"path/filepath"
	"strings"
)

// testDataEnvVar is spec §6's "NES_TESTDATA_DIR (or equivalent)".
const testDataEnvVar = "NES_TESTDATA_DIR"

// ResolveTestDataPath rewrites a path starting with "TESTDATA/" to be
// rooted at testDataEnvVar's value, leaving every other path
// untouched. config.Config.BuildSource calls this (through
// ResolveSourcePath) once for the configured source file path.
func ResolveTestDataPath(path string) string {
	const prefix = "TESTDATA/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	root := os.Getenv(testDataEnvVar)
	if root == "" {
		return path
	}
	return filepath.Join(root, strings.TrimPrefix(path, prefix))
}
