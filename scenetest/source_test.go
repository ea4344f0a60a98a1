package scenetest

import "testing"

func TestScriptedSource(t *testing.T) {
	s := NewScriptedSource()
	RunPoseSource(t, s, s)
}
