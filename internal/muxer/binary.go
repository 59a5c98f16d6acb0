package muxer

import (
	"fmt"
	"os"
	"os/exec"
)

// BinaryEnvVar overrides ffmpeg discovery when set.
const BinaryEnvVar = "FETCHARR_FFMPEG"

// FindBinary resolves the ffmpeg executable to supervise.
// Search order:
//  1. The configured path, when non-empty
//  2. The FETCHARR_FFMPEG environment variable
//  3. "ffmpeg" on PATH
func FindBinary(configured string) (string, error) {
	if configured != "" {
		if isExecutable(configured) {
			return configured, nil
		}
		return "", fmt.Errorf("muxer binary %s is not executable", configured)
	}

	if envPath := os.Getenv(BinaryEnvVar); envPath != "" {
		if isExecutable(envPath) {
			return envPath, nil
		}
		return "", fmt.Errorf("%s points at %s which is not executable", BinaryEnvVar, envPath)
	}

	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found on PATH: %w", err)
	}
	return path, nil
}

// isExecutable reports whether path is a regular file with an executable bit.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
