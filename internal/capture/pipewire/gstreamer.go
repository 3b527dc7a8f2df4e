package pipewire

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/bryanchriswhite/WindowLapse/internal/frame"
)

var gstInit sync.Once

// PoolSize is the appsink queue depth. Older buffers are dropped.
const PoolSize = 2

// PipelineDescription builds the gst-launch description for a node.
func PipelineDescription(nodeID uint32) string {
	return fmt.Sprintf(
		"pipewiresrc path=%d do-timestamp=true ! "+
			"videoconvert ! "+
			"video/x-raw,format=BGRx ! "+
			"appsink name=sink emit-signals=false sync=false max-buffers=%d drop=true",
		nodeID, PoolSize,
	)
}

// Pipeline pulls BGRx frames out of a PipeWire node. New samples are pushed
// to the deliver callback from a GStreamer streaming thread.
type Pipeline struct {
	nodeID   uint32
	log      zerolog.Logger
	deliver  func(*frame.Frame)
	mu       sync.RWMutex
	pipeline *gst.Pipeline
	appsink  *app.Sink
	running  bool
}

// NewPipeline creates a pipeline for nodeID. deliver may be nil.
func NewPipeline(nodeID uint32, deliver func(*frame.Frame), log zerolog.Logger) *Pipeline {
	return &Pipeline{nodeID: nodeID, deliver: deliver, log: log}
}

// Start builds the pipeline and sets it playing.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pipeline already running")
	}

	gstInit.Do(func() { gst.Init(nil) })

	desc := PipelineDescription(p.nodeID)
	p.log.Debug().Str("pipeline", desc).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		p.release(pipeline)
		return fmt.Errorf("failed to get appsink: %w", err)
	}
	appsink := app.SinkFromElement(sinkElement)

	if p.deliver != nil {
		appsink.SetCallbacks(&app.SinkCallbacks{
			NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
				sample := sink.PullSample()
				if sample == nil {
					return gst.FlowEOS
				}
				if f := sampleFrame(sample); f != nil {
					p.deliver(f)
				}
				return gst.FlowOK
			},
		})
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		p.release(pipeline)
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	p.pipeline = pipeline
	p.appsink = appsink
	p.running = true
	p.log.Info().Uint32("node_id", p.nodeID).Msg("GStreamer pipeline started")
	return nil
}

// release returns a pipeline that never reached playing to NULL so its
// elements and PipeWire stream are freed.
func (p *Pipeline) release(pipeline *gst.Pipeline) {
	if err := pipeline.SetState(gst.StateNull); err != nil {
		p.log.Warn().Err(err).Msg("Failed to release unstarted pipeline")
	}
}

// TryPull pulls one queued sample without blocking for long.
func (p *Pipeline) TryPull() (*frame.Frame, bool) {
	p.mu.RLock()
	appsink := p.appsink
	running := p.running
	p.mu.RUnlock()

	if !running || appsink == nil {
		return nil, false
	}
	sample := appsink.TryPullSample(time.Millisecond)
	if sample == nil {
		return nil, false
	}
	f := sampleFrame(sample)
	return f, f != nil
}

// Stop tears the pipeline down. Safe to call repeatedly.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false
	p.appsink = nil
	if p.pipeline != nil {
		if err := p.pipeline.SetState(gst.StateNull); err != nil {
			p.log.Warn().Err(err).Msg("Failed to set pipeline to NULL")
		}
		p.pipeline = nil
	}
	p.log.Info().Msg("GStreamer pipeline stopped")
	return nil
}

// sampleFrame copies a BGRx sample into a frame.
func sampleFrame(sample *gst.Sample) *frame.Frame {
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil
	}
	caps := sample.GetCaps()
	if caps == nil {
		return nil
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return nil
	}
	width, _ := structure.GetValue("width")
	height, _ := structure.GetValue("height")
	w, ok := width.(int)
	if !ok || w <= 0 {
		return nil
	}
	h, ok := height.(int)
	if !ok || h <= 0 {
		return nil
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil
	}
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	stride := w * frame.BytesPerPixel
	if len(data) < stride*h {
		return nil
	}
	return frame.FromBGRX(data, w, h, stride)
}
