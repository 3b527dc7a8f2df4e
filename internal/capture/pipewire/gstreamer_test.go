package pipewire

import (
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
)

func TestPipelineStartFailureLeavesItRestartable(t *testing.T) {
	gstInit.Do(func() { gst.Init(nil) })
	if gst.Find("pipewiresrc") == nil {
		t.Skip("pipewiresrc plugin not installed")
	}

	p := NewPipeline(math.MaxUint32-1, nil, zerolog.Nop())
	if err := p.Start(); err == nil {
		p.Stop()
		t.Skip("PipeWire accepted an unknown node")
	}

	if _, ok := p.TryPull(); ok {
		t.Fatalf("failed pipeline returned a frame")
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("stop after failed start: %v", err)
	}

	err := p.Start()
	if err != nil && strings.Contains(err.Error(), "already running") {
		t.Fatalf("failed start left the pipeline marked running")
	}
	if err == nil {
		p.Stop()
	}
}
