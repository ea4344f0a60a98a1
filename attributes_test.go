package scenetwin_test

import (
	"math"
	"strings"
	"testing"

	"github.com/go-digitaltwin/scenetwin"
)

func TestColorValidate(t *testing.T) {
	nan := float32(math.NaN())
	tests := []struct {
		name    string
		color   scenetwin.Color
		wantErr bool
	}{
		{name: "Zero"},
		{name: "Opaque", color: scenetwin.Color{0.2, 0.4, 1, 1}},
		{name: "Negative", color: scenetwin.Color{-0.1, 0, 0, 1}, wantErr: true},
		{name: "AboveOne", color: scenetwin.Color{0, 0, 1.5, 1}, wantErr: true},
		{name: "NaN", color: scenetwin.Color{0, nan, 0, 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.color.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatSceneScale(t *testing.T) {
	tests := []struct {
		scale float64
		want  string
	}{
		{scale: 0, want: ""},
		{scale: 1, want: ""},
		{scale: 0.5, want: " scale=0.5"},
	}
	for _, tt := range tests {
		snap := scenetwin.SceneSnapshot{Robots: []scenetwin.RobotSnapshot{{
			Name:  "arm",
			Links: []scenetwin.LinkSnapshot{{Name: "base_link", Parent: "world", Attributes: scenetwin.Attributes{Scale: tt.scale}}},
		}}}
		out := scenetwin.FormatScene(snap, "  ")
		if !strings.Contains(out, "base_link <no transform>"+tt.want+"\n") {
			t.Errorf("FormatScene() with scale %v =\n%s\nwant the link line to end with %q", tt.scale, out, tt.want)
		}
	}
}
