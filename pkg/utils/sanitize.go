package utils

import "regexp"

// Characters invalid in Windows/Unix filenames
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)

// ReplaceInvalidFilenameChars swaps characters that cannot appear in a file
// name for underscores and leaves everything else, including length, untouched.
func ReplaceInvalidFilenameChars(name string) string {
	return invalidFilenameChars.ReplaceAllString(name, "_")
}
