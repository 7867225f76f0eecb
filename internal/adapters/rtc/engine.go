package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/one2many/internal/core"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

type EngineOptions struct {
	ICEServers  []string
	UDPPortMin  uint16
	UDPPortMax  uint16
	PLIInterval time.Duration
}

var (
	videoCodec = webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
		RTCPFeedback: []webrtc.RTCPFeedback{
			{Type: "goog-remb"},
			{Type: "ccm", Parameter: "fir"},
			{Type: "nack"},
			{Type: "nack", Parameter: "pli"},
		},
	}
	audioCodec = webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
)

// Engine hosts the media plane in process on top of pion. Every endpoint
// is a PeerConnection; pipelines only group endpoints for release.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{RTPCodecCapability: videoCodec, PayloadType: 96}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register video codec: %w", err)
	}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{RTPCodecCapability: audioCodec, PayloadType: 111}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register audio codec: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	// Periodic keyframe requests so viewers joining mid-stream get a picture.
	var pliOpts []intervalpli.GeneratorOption
	if opts.PLIInterval > 0 {
		pliOpts = append(pliOpts, intervalpli.GeneratorInterval(opts.PLIInterval))
	}
	pliFactory, err := intervalpli.NewReceiverInterceptor(pliOpts...)
	if err != nil {
		return nil, fmt.Errorf("create PLI interceptor: %w", err)
	}
	interceptorRegistry.Add(pliFactory)

	settingEngine := webrtc.SettingEngine{LoggerFactory: zerologFactory{}}
	if opts.UDPPortMin > 0 && opts.UDPPortMax >= opts.UDPPortMin {
		if err := settingEngine.SetEphemeralUDPPortRange(opts.UDPPortMin, opts.UDPPortMax); err != nil {
			return nil, fmt.Errorf("set UDP port range: %w", err)
		}
	}

	cfg := webrtc.Configuration{}
	if len(opts.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(settingEngine),
		),
		config: cfg,
	}, nil
}

// Dial adapts NewEngine to a Gateway Dialer.
func Dial(opts EngineOptions) Dialer {
	return func(context.Context) (core.Engine, error) {
		return NewEngine(opts)
	}
}

func (e *Engine) CreatePipeline(ctx context.Context) (core.Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newPipeline(uuid.NewString(), e), nil
}
