package keynum

import (
	"fmt"
	"strings"
)

const (
	pathSeparator  = "/"
	minorSeparator = "-"
)

// Key is the structured key written to the store. The major path has two
// components (parent and child), the minor path one.
type Key struct {
	Major []string
	Minor []string
}

// String renders the key as a store path, e.g. "/k0a1b2c3d/7f/-/04".
// A key without minor components renders only the major path.
func (k Key) String() string {
	var sb strings.Builder
	for _, c := range k.Major {
		sb.WriteString(pathSeparator)
		sb.WriteString(c)
	}
	if len(k.Minor) == 0 {
		return sb.String()
	}
	sb.WriteString(pathSeparator)
	sb.WriteString(minorSeparator)
	for _, c := range k.Minor {
		sb.WriteString(pathSeparator)
		sb.WriteString(c)
	}
	return sb.String()
}

// Prefix returns the path prefix shared by all keys with the same major
// path. Scanning for it returns every minor key of the major key.
func (k Key) Prefix() string {
	return Key{Major: k.Major}.String() + pathSeparator + minorSeparator + pathSeparator
}

// ParseKey splits a store path into its major and minor components.
// It returns false if the path is not in the format produced by Key.String.
func ParseKey(s string) (Key, bool) {
	if !strings.HasPrefix(s, pathSeparator) {
		return Key{}, false
	}
	parts := strings.Split(s[1:], pathSeparator)

	var key Key
	minor := false
	for _, part := range parts {
		switch {
		case part == "":
			return Key{}, false
		case part == minorSeparator && !minor:
			minor = true
		case minor:
			key.Minor = append(key.Minor, part)
		default:
			key.Major = append(key.Major, part)
		}
	}
	if len(key.Major) == 0 || (minor && len(key.Minor) == 0) {
		return Key{}, false
	}
	return key, true
}

func formatParent(parent uint64) string {
	return fmt.Sprintf("k%08x", parent)
}

func formatByte(b uint64) string {
	return fmt.Sprintf("%02x", b)
}
