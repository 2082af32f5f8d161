package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vcam "github.com/e7canasta/orion-care-sensor/modules/virtual-camera"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DriverGStreamer, cfg.Driver)
	assert.Equal(t, uint32(1280), cfg.Camera.Width)
	assert.Equal(t, uint32(960), cfg.Camera.Height)
	assert.Equal(t, uint32(30), cfg.Camera.FPSNumerator)
	assert.Equal(t, uint32(1), cfg.Camera.FPSDenominator)
	assert.Empty(t, cfg.Camera.Description)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "vcam/events/vcam", cfg.MQTT.Topic)
	assert.NoError(t, Validate(cfg))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vcam.yaml")
	data := `
name: lab-cam
driver: Synthetic
camera:
  pipeline: "videotestsrc pattern=ball"
  width: 640
  height: 480
  fps_numerator: 15
capture:
  output_dir: /tmp/frames
  format: jpg
mqtt:
  broker: localhost:1883
  qos: 1
monitor:
  addr: ":8089"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "lab-cam", cfg.Name)
	assert.Equal(t, DriverSynthetic, cfg.Driver)
	assert.Equal(t, vcam.PipelineConfig{
		Description:    "videotestsrc pattern=ball",
		Width:          640,
		Height:         480,
		FPSNumerator:   15,
		FPSDenominator: 1,
	}, cfg.Camera)
	assert.Equal(t, "jpeg", cfg.Capture.Format)
	assert.Equal(t, "lab-cam", cfg.MQTT.ClientID)
	assert.Equal(t, "vcam/events/lab-cam", cfg.MQTT.Topic)
	assert.Equal(t, "/ws", cfg.Monitor.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "camera: ["},
		{"unknown driver", "driver: v4l2"},
		{"odd width", "camera: {width: 641}"},
		{"log level", "log: {level: verbose}"},
		{"capture format", "capture: {format: bmp}"},
		{"jpeg quality", "capture: {quality: 101}"},
		{"qos", "mqtt: {qos: 3}"},
		{"monitor path", "monitor: {path: ws}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestResolveDescriptionOverride(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"   ", ""},
		{"pipeline=videotestsrc ! appsink name=vcamsink", "videotestsrc ! appsink name=vcamsink"},
		{"PIPELINE=  videotestsrc", "videotestsrc"},
		{`"pipeline=videotestsrc ! queue"`, "videotestsrc ! queue"},
		{`pipeline="videotestsrc ! queue"`, "videotestsrc ! queue"},
		{"  videotestsrc ! videoconvert  ", "videotestsrc ! videoconvert"},
		{"videotestsrc", ""},
		{"--install", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveDescriptionOverride(tt.input))
		})
	}
}

func TestInferFromDescription(t *testing.T) {
	base := vcam.PipelineConfig{Width: 1280, Height: 960, FPSNumerator: 30, FPSDenominator: 1}

	tests := []struct {
		name string
		desc string
		want vcam.PipelineConfig
	}{
		{
			name: "no tokens",
			desc: "videotestsrc ! appsink",
			want: base,
		},
		{
			name: "full caps",
			desc: "videotestsrc ! video/x-raw,width=640,height=480,framerate=30000/1001",
			want: vcam.PipelineConfig{Width: 640, Height: 480, FPSNumerator: 30000, FPSDenominator: 1001},
		},
		{
			name: "framerate without denominator",
			desc: "framerate=25",
			want: vcam.PipelineConfig{Width: 1280, Height: 960, FPSNumerator: 25, FPSDenominator: 1},
		},
		{
			name: "zero values ignored",
			desc: "width=0,height=0,framerate=0/1",
			want: base,
		},
		{
			name: "malformed framerate ignored",
			desc: "framerate=30/",
			want: base,
		},
		{
			name: "non numeric ignored",
			desc: "width=abc",
			want: base,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InferFromDescription(tt.desc, base)
			got.Description = ""
			assert.Equal(t, tt.want, got)
		})
	}
}
