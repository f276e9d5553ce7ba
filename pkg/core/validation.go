package core

import (
	"strings"
	"time"
)

const maxNameLength = 255

// ValidateAppID validates an application identifier
func ValidateAppID(appID string) error {
	if appID == "" {
		return ErrInvalidIdentity
	}
	if len(appID) > maxNameLength {
		return &Error{Code: CodeInvalidIdentity, Message: "application id too long (max 255 characters)"}
	}
	return nil
}

// ValidateServiceName validates a bus service name.
// Names are dot separated tokens such as "com.example.app".
func ValidateServiceName(name string) error {
	if name == "" {
		return &Error{Code: CodeInvalidServiceName, Message: "service name cannot be empty"}
	}
	if len(name) > maxNameLength {
		return &Error{Code: CodeInvalidServiceName, Message: "service name too long (max 255 characters)"}
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return &Error{Code: CodeInvalidServiceName, Message: "service name has an empty segment: " + name}
	}
	for _, r := range name {
		if !isNameRune(r) {
			return &Error{Code: CodeInvalidServiceName, Message: "service name contains invalid character: " + name}
		}
	}
	return nil
}

// ValidateMethodPath validates a method path such as "/registerApplication"
func ValidateMethodPath(path string) error {
	if !strings.HasPrefix(path, "/") || len(path) < 2 {
		return &Error{Code: CodeInvalidMethod, Message: "method path must start with '/' and name a method: " + path}
	}
	for _, seg := range strings.Split(path[1:], "/") {
		if seg == "" {
			return &Error{Code: CodeInvalidMethod, Message: "method path has an empty segment: " + path}
		}
		for _, r := range seg {
			if r == '.' || !isNameRune(r) {
				return &Error{Code: CodeInvalidMethod, Message: "method path contains invalid character: " + path}
			}
		}
	}
	return nil
}

// ValidateTimeout validates a timeout duration
func ValidateTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return &Error{Code: "INVALID_TIMEOUT", Message: "timeout must be positive"}
	}
	if timeout > 5*time.Minute {
		return &Error{Code: "INVALID_TIMEOUT", Message: "timeout too large (max 5 minutes)"}
	}
	return nil
}

func isNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '-', r == '_':
		return true
	}
	return false
}
