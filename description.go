package vcam

import (
	"fmt"
	"strings"
)

// OutputPortName is the name of the appsink the bridge pulls images from
const OutputPortName = "vcamsink"

// DefaultDescription returns the built-in live test-pattern pipeline for cfg
func DefaultDescription(cfg PipelineConfig) string {
	return fmt.Sprintf(
		"videotestsrc is-live=true pattern=smpte ! video/x-raw,format=NV12,width=%d,height=%d,framerate=%d/%d ! appsink name=%s",
		cfg.Width, cfg.Height, cfg.FPSNumerator, cfg.FPSDenominator, OutputPortName,
	)
}

// ResolveDescription returns the description the bridge actually builds.
//
// An empty description yields DefaultDescription. A description that names
// no appsink (generation stage only) gets a minimal sink stage appended; a
// description that already has an appsink is used verbatim and must name it
// OutputPortName.
func ResolveDescription(cfg PipelineConfig) string {
	desc := strings.TrimSpace(cfg.Description)
	if desc == "" {
		return DefaultDescription(cfg)
	}
	if !strings.Contains(strings.ToLower(desc), "appsink") {
		desc += " ! appsink name=" + OutputPortName
	}
	return desc
}
