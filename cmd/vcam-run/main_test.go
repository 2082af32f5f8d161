package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/config"
)

func TestApplyPipelineOverride(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantOK     bool
		wantDesc   string
		wantWidth  uint32
		wantHeight uint32
	}{
		{
			name:     "prefixed",
			raw:      "pipeline=videotestsrc ! appsink name=vcamsink",
			wantOK:   true,
			wantDesc: "videotestsrc ! appsink name=vcamsink",
		},
		{
			name:       "raw text with caps",
			raw:        "videotestsrc ! video/x-raw,width=640,height=480 ! appsink",
			wantOK:     true,
			wantDesc:   "videotestsrc ! video/x-raw,width=640,height=480 ! appsink",
			wantWidth:  640,
			wantHeight: 480,
		},
		{name: "single element", raw: "videotestsrc"},
		{name: "flag-like value", raw: "--install"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			before := cfg.Camera

			ok := applyPipelineOverride(cfg, tt.raw)
			assert.Equal(t, tt.wantOK, ok)

			if !tt.wantOK {
				assert.Equal(t, before, cfg.Camera, "rejected override changed the camera config")
				assert.NoError(t, config.Validate(cfg))
				return
			}

			assert.Equal(t, tt.wantDesc, cfg.Camera.Description)
			wantWidth, wantHeight := before.Width, before.Height
			if tt.wantWidth != 0 {
				wantWidth, wantHeight = tt.wantWidth, tt.wantHeight
			}
			assert.Equal(t, wantWidth, cfg.Camera.Width)
			assert.Equal(t, wantHeight, cfg.Camera.Height)
		})
	}
}
