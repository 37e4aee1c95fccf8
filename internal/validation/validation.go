package validation

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidAddr = errors.New("invalid listen address")
	ErrOutOfRange  = errors.New("value out of range")
	ErrInvalidName = errors.New("invalid name")
	ErrInvalidPath = errors.New("invalid file path")
)

func ValidateAddr(addr string) error {
	if addr == "" {
		return ErrInvalidAddr
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	return nil
}

func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}

// ValidateEntryName rejects names that would collide with the store's key
// grammar: empty strings and strings containing the ":" separator. Applies
// to session and file names supplied by clients.
func ValidateEntryName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.Contains(name, ":") {
		return fmt.Errorf("%w: %q contains ':'", ErrInvalidName, name)
	}
	return nil
}

// ValidateStorePath normalizes a bolt file path; the parent need not exist,
// bolt creates the file on open.
func ValidateStorePath(p string) (string, error) {
	if p == "" {
		return "", ErrInvalidPath
	}
	return filepath.Clean(p), nil
}
