// Package gstdriver drives real GStreamer pipelines through go-gst.
//
// The real driver needs cgo; builds without cgo get a stub whose Init
// fails with ErrCGORequired.
package gstdriver

import "strings"

// ErrorCategory represents the classification of GStreamer errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryNetwork indicates network-related failures (connection, timeout, DNS)
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryCodec indicates codec/caps failures (negotiation, decode, format)
	ErrCategoryCodec
	// ErrCategoryAuth indicates authentication/authorization failures
	ErrCategoryAuth
	// ErrCategoryResource indicates missing devices, files or plugins
	ErrCategoryResource
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	case ErrCategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

var (
	authKeywords = []string{
		"unauthorized",
		"401",
		"403",
		"forbidden",
		"authentication",
		"credentials",
		"password",
	}

	codecKeywords = []string{
		"codec",
		"decode",
		"encode",
		"format",
		"negotiat",
		"caps",
		"h264",
		"h265",
		"jpeg",
		"no decoder",
	}

	resourceKeywords = []string{
		"missing plugin",
		"no such element",
		"could not open",
		"no such file",
		"device",
		"busy",
		"permission denied",
	}

	networkKeywords = []string{
		"connection",
		"timeout",
		"timed out",
		"unreachable",
		"network",
		"dns",
		"resolve",
		"socket",
		"tcp",
		"udp",
		"rtsp",
		"could not connect",
		"failed to connect",
	}
)

// Classify categorizes a bus error from its message and debug string
//
// Checked in order of specificity: auth, codec, resource, network.
// go-gst's GError does not expose the error domain, so classification is
// keyword based.
func Classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case strings.TrimSpace(combined) == "":
		return ErrCategoryUnknown
	case containsAny(combined, authKeywords):
		return ErrCategoryAuth
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, resourceKeywords):
		return ErrCategoryResource
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
