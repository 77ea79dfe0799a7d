package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// CalculateFileSHA256 streams a file through SHA-256 and returns the hex digest.
func CalculateFileSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("%w: open '%s' for hashing: %w", ErrFilesystem, filePath, err)
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("%w: hash '%s': %w", ErrFilesystem, filePath, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CalculateStringSHA256 returns the hex SHA-256 digest of content. Used to
// derive stable fallback file names from URLs.
func CalculateStringSHA256(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
