package storage

import (
	"regexp"
	"strconv"
	"strings"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,255}$`)

// IsValidGroupName reports whether name can be used as a group name
func IsValidGroupName(name string) bool {
	return namePattern.MatchString(name)
}

// IsValidHandle reports whether handle (without "@") is a well-formed user handle
func IsValidHandle(handle string) bool {
	return namePattern.MatchString(handle)
}

// SanitizeHandle trims whitespace and leading "@" characters.
func SanitizeHandle(handle string) string {
	return strings.TrimLeft(strings.TrimSpace(handle), "@")
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
