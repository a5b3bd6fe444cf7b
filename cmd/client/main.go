package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rtcclient/internal/core/domain"
	"rtcclient/internal/core/services"
	"rtcclient/internal/infrastructure/monitoring"
	signalclient "rtcclient/internal/infrastructure/signal"
	engine "rtcclient/internal/infrastructure/webrtc"
	"rtcclient/pkg/config"
	"rtcclient/pkg/logger"

	"github.com/google/uuid"
	pionwebrtc "github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// transportInfo is the server's answer to a createTransport request.
type transportInfo struct {
	ID             string                   `json:"id"`
	IceParameters  *domain.IceParameters    `json:"iceParameters"`
	IceCandidates  []*domain.IceCandidate   `json:"iceCandidates"`
	DtlsParameters *domain.DtlsParameters   `json:"dtlsParameters"`
	SctpParameters *domain.SctpParameters   `json:"sctpParameters,omitempty"`
}

// newConsumerInfo is the server's push announcing a remote stream to consume.
type newConsumerInfo struct {
	ID            string                `json:"id"`
	ProducerID    string                `json:"producerId"`
	Kind          domain.MediaKind      `json:"kind"`
	RtpParameters *domain.RtpParameters `json:"rtpParameters"`
	StreamID      string                `json:"streamId,omitempty"`
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	if err := run(cfg, zapLogger); err != nil {
		zapLogger.Sugar().Fatalw("client failed", "error", err)
	}
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zapLogger.Sugar()
	ctxLog := logger.NewContextLogger(zapLogger)
	ctx = logger.WithSessionID(ctx, uuid.NewString())

	collector := monitoring.NewPrometheusCollector()
	poller := monitoring.NewStatsPoller(collector, cfg.Monitoring.StatsInterval, log)
	health := monitoring.NewHealthChecker()

	if cfg.Monitoring.PrometheusEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			status := health.CheckAll(r.Context())
			if status.Status != "healthy" {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			json.NewEncoder(w).Encode(status)
		})
		server := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
			Handler: mux,
		}
		go func() {
			log.Infow("monitoring endpoint listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("monitoring endpoint failed", "error", err)
			}
		}()
		defer server.Close()
	}

	var limiter *rate.Limiter
	if cfg.Signal.Reconnect.Enabled {
		limiter = rate.NewLimiter(
			rate.Limit(cfg.Signal.Reconnect.RatePerMinute/60.0),
			cfg.Signal.Reconnect.Burst,
		)
	}
	client, err := signalclient.NewClient(signalclient.Options{
		URL:               cfg.Signal.URL,
		RequestTimeout:    cfg.Signal.RequestTimeout,
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		ReconnectLimiter:  limiter,
		ReconnectAttempts: cfg.Signal.Reconnect.MaxAttempts,
		ReconnectDelay:    cfg.Signal.Reconnect.InitialDelay,
		ReconnectMaxDelay: cfg.Signal.Reconnect.MaxDelay,
		Logger:            log,
	})
	if err != nil {
		return fmt.Errorf("building signaling client: %w", err)
	}
	if err := client.Dial(ctx); err != nil {
		return fmt.Errorf("dialing signaling server: %w", err)
	}
	defer client.Close()

	factory := engine.NewAdapterFactory(engineConfig(cfg))
	device, err := services.NewDevice(factory, log)
	if err != nil {
		return fmt.Errorf("building device: %w", err)
	}

	routerCaps := &domain.RtpCapabilities{}
	if err := request(ctx, client, "getRouterRtpCapabilities", nil, routerCaps); err != nil {
		return err
	}
	if err := device.Load(ctx, routerCaps); err != nil {
		return fmt.Errorf("loading device: %w", err)
	}

	sendTransport, err := createSendTransport(ctx, client, device, log)
	if err != nil {
		return err
	}
	defer sendTransport.Close()

	recvTransport, err := createRecvTransport(ctx, client, device, log)
	if err != nil {
		return err
	}
	defer recvTransport.Close()

	poller.Register(sendTransport)
	poller.Register(recvTransport)
	go poller.Run(ctx)

	health.AddSignalCheck(client, 10*time.Second, time.Second)
	health.AddTransportCheck(sendTransport, 10*time.Second, time.Second)
	health.AddTransportCheck(recvTransport, 10*time.Second, time.Second)
	health.StartBackgroundChecks(ctx)

	if err := produceTestMedia(ctx, cfg, client, device, sendTransport, collector, log); err != nil {
		return err
	}

	client.OnNotification(func(method string, payload json.RawMessage) {
		switch method {
		case "newConsumer":
			info := &newConsumerInfo{}
			if err := json.Unmarshal(payload, info); err != nil {
				log.Warnw("malformed newConsumer payload", "error", err)
				return
			}
			consumer, err := recvTransport.Consume(ctx, services.ConsumeOptions{
				ID:            info.ID,
				ProducerID:    info.ProducerID,
				Kind:          info.Kind,
				RtpParameters: info.RtpParameters,
				StreamID:      info.StreamID,
			})
			if err != nil {
				log.Warnw("consume failed", "consumer_id", info.ID, "error", err)
				return
			}
			collector.RecordStreamConsumed()
			streamCtx := logger.WithStreamID(ctx, consumer.ID())
			ctxLog.LogInfo(streamCtx, "consuming remote stream",
				zap.String("kind", string(consumer.Kind())))
		default:
			log.Debugw("unhandled notification", "method", method)
		}
	})

	ctxLog.LogInfo(ctx, "client running", zap.String("signal_url", cfg.Signal.URL))
	<-ctx.Done()
	ctxLog.LogInfo(ctx, "shutting down")
	return nil
}

func engineConfig(cfg *config.Config) engine.Config {
	var out engine.Config
	for _, server := range cfg.WebRTC.ICEServers {
		out.ICEServers = append(out.ICEServers, pionwebrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}
	out.PortRange.Min = cfg.WebRTC.PortRange.Min
	out.PortRange.Max = cfg.WebRTC.PortRange.Max
	return out
}

// request performs a signaling round trip and decodes the answer into out.
func request(ctx context.Context, client *signalclient.Client, method string, payload, out interface{}) error {
	raw, err := client.Request(ctx, method, payload)
	if err != nil {
		return fmt.Errorf("%s request: %w", method, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s answer: %w", method, err)
	}
	return nil
}

func createSendTransport(ctx context.Context, client *signalclient.Client, device *services.Device, log *zap.SugaredLogger) (*services.SendTransport, error) {
	info := &transportInfo{}
	payload := map[string]interface{}{
		"direction":        "send",
		"sctpCapabilities": device.SctpCapabilities(),
	}
	if err := request(ctx, client, "createTransport", payload, info); err != nil {
		return nil, err
	}

	transport, err := device.CreateSendTransport(transportOptions(info))
	if err != nil {
		return nil, fmt.Errorf("creating send transport: %w", err)
	}
	wireTransport(ctx, client, transport.Transport, log)
	return transport, nil
}

func createRecvTransport(ctx context.Context, client *signalclient.Client, device *services.Device, log *zap.SugaredLogger) (*services.RecvTransport, error) {
	info := &transportInfo{}
	payload := map[string]interface{}{
		"direction":        "recv",
		"sctpCapabilities": device.SctpCapabilities(),
	}
	if err := request(ctx, client, "createTransport", payload, info); err != nil {
		return nil, err
	}

	transport, err := device.CreateRecvTransport(transportOptions(info))
	if err != nil {
		return nil, fmt.Errorf("creating recv transport: %w", err)
	}
	wireTransport(ctx, client, transport.Transport, log)
	return transport, nil
}

func transportOptions(info *transportInfo) services.TransportOptions {
	return services.TransportOptions{
		ID:             info.ID,
		IceParameters:  info.IceParameters,
		IceCandidates:  info.IceCandidates,
		DtlsParameters: info.DtlsParameters,
		SctpParameters: info.SctpParameters,
	}
}

func wireTransport(ctx context.Context, client *signalclient.Client, transport *services.Transport, log *zap.SugaredLogger) {
	transport.HandleConnect(func(ctx context.Context, dtlsParameters *domain.DtlsParameters) error {
		return request(ctx, client, "connectTransport", map[string]interface{}{
			"transportId":    transport.ID(),
			"dtlsParameters": dtlsParameters,
		}, nil)
	})
	transport.HandleConnectionStateChange(func(state domain.ConnectionState) {
		log.Infow("transport connection state",
			"transport_id", transport.ID(), "state", state)
	})
	transport.HandleIceGatheringStateChange(func(state domain.IceGatheringState) {
		log.Debugw("transport gathering state",
			"transport_id", transport.ID(), "state", state)
	})
}

// produceTestMedia sends synthetic audio and video streams, announcing each
// to the server once the engine reports its negotiated parameters.
func produceTestMedia(ctx context.Context, cfg *config.Config, client *signalclient.Client, device *services.Device, transport *services.SendTransport, collector *monitoring.PrometheusCollector, log *zap.SugaredLogger) error {
	if cfg.Media.Video && device.CanProduce(domain.MediaKindVideo) {
		source, err := engine.NewVideoTestSource("video-0")
		if err != nil {
			return fmt.Errorf("building video source: %w", err)
		}
		producer, err := transport.Produce(ctx, services.ProduceOptions{
			Source: source,
			Encodings: []*domain.RtpEncodingParameters{
				{MaxBitrate: cfg.Media.VideoMaxBitrate},
			},
		})
		if err != nil {
			return fmt.Errorf("producing video: %w", err)
		}
		if err := announceProducer(ctx, client, transport, producer); err != nil {
			return err
		}
		collector.RecordStreamProduced()
		log.Infow("producing video", "producer_id", producer.ID())
	}

	if cfg.Media.Audio && device.CanProduce(domain.MediaKindAudio) {
		source, err := engine.NewAudioTestSource("audio-0")
		if err != nil {
			return fmt.Errorf("building audio source: %w", err)
		}
		producer, err := transport.Produce(ctx, services.ProduceOptions{Source: source})
		if err != nil {
			return fmt.Errorf("producing audio: %w", err)
		}
		if err := announceProducer(ctx, client, transport, producer); err != nil {
			return err
		}
		collector.RecordStreamProduced()
		log.Infow("producing audio", "producer_id", producer.ID())
	}

	return nil
}

func announceProducer(ctx context.Context, client *signalclient.Client, transport *services.SendTransport, producer *services.Producer) error {
	return request(ctx, client, "produce", map[string]interface{}{
		"transportId":   transport.ID(),
		"producerId":    producer.ID(),
		"kind":          producer.Kind(),
		"rtpParameters": producer.RtpParameters(),
	}, nil)
}
