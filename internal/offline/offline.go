// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNonLocalhost is returned when offline mode rejects a remote host.
	ErrNonLocalhost = errors.New("offline mode: only localhost is allowed")

	// ErrCloudBlocked is returned when a cloud generator is selected offline.
	ErrCloudBlocked = errors.New("offline mode: cloud generator backends are disabled")

	// ErrInvalidURLScheme is returned for anything but http and https.
	ErrInvalidURLScheme = errors.New("URL scheme must be http or https")

	// ErrInvalidURL is returned when a URL cannot be parsed or has no host.
	ErrInvalidURL = errors.New("invalid URL")
)

// =============================================================================
// MODE
// =============================================================================

var offlineMode atomic.Bool

// SetOfflineMode enables or disables offline mode for the process.
func SetOfflineMode(enabled bool) {
	offlineMode.Store(enabled)
}

// IsOfflineMode reports whether offline mode is active.
func IsOfflineMode() bool {
	return offlineMode.Load()
}

// =============================================================================
// HOST CHECKS
// =============================================================================

// IsLocalhost reports whether host (optionally with a port) names the
// loopback interface. Every 127.0.0.0/8 address and every spelling of ::1
// counts; "0.0.0.0" and the empty host do not.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// CheckURL validates a generator endpoint. The scheme is always checked;
// localOnly additionally requires a loopback host.
func CheckURL(rawURL string, localOnly bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w, got %q", ErrInvalidURLScheme, parsed.Scheme)
	}
	if localOnly && !IsLocalhost(parsed.Hostname()) {
		return fmt.Errorf("%w: %s", ErrNonLocalhost, parsed.Hostname())
	}
	return nil
}

// ValidateURL is CheckURL under the current mode.
func ValidateURL(rawURL string) error {
	return CheckURL(rawURL, IsOfflineMode())
}

// CheckListenAddr validates a server listen address. With localOnly, the
// host must be loopback; ":8787" listens on every interface and is refused.
func CheckListenAddr(addr string, localOnly bool) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if localOnly && !IsLocalhost(host) {
		if host == "" {
			host = "all interfaces"
		}
		return fmt.Errorf("%w: listen on %s", ErrNonLocalhost, host)
	}
	return nil
}

// ValidateListenAddr is CheckListenAddr under the current mode.
func ValidateListenAddr(addr string) error {
	return CheckListenAddr(addr, IsOfflineMode())
}

// CheckCloudAllowed returns ErrCloudBlocked in offline mode.
func CheckCloudAllowed() error {
	if IsOfflineMode() {
		return ErrCloudBlocked
	}
	return nil
}

// =============================================================================
// STATUS
// =============================================================================

// StatusBadge returns "[OFFLINE]" when offline, empty otherwise.
func StatusBadge() string {
	if IsOfflineMode() {
		return "[OFFLINE]"
	}
	return ""
}

// Describe returns a one-line summary of the active mode.
func Describe() string {
	if IsOfflineMode() {
		return "offline: generator and listener restricted to localhost"
	}
	return "online"
}
