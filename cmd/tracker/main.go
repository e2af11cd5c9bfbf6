package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/askwhyharsh/geotrack/internal/config"
	"github.com/askwhyharsh/geotrack/internal/fix"
	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/internal/geocode"
	"github.com/askwhyharsh/geotrack/internal/observability"
	"github.com/askwhyharsh/geotrack/internal/publish"
	"github.com/askwhyharsh/geotrack/internal/ratelimit"
	"github.com/askwhyharsh/geotrack/internal/render"
	"github.com/askwhyharsh/geotrack/internal/routing"
	"github.com/askwhyharsh/geotrack/internal/storage"
	"github.com/askwhyharsh/geotrack/internal/throttle"
	"github.com/askwhyharsh/geotrack/internal/tracking"
	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

const defaultFixPoll = time.Second

type flags struct {
	orderID  int64
	userID   int64
	userType string
	dest     string
	profile  string
	viewID   string
	nmeaFile string
}

func parseFlags() flags {
	var f flags
	flag.Int64Var(&f.orderID, "order", 0, "order id to publish positions for (0 publishes the user key only)")
	flag.Int64Var(&f.userID, "user", 0, "user id of the device owner")
	flag.StringVar(&f.userType, "user-type", "rider", "user type of the device owner")
	flag.StringVar(&f.dest, "dest", "", "destination as lat,lng")
	flag.StringVar(&f.profile, "profile", "", "route profile: driving, cycling or walking")
	flag.StringVar(&f.viewID, "view", "", "id of a remote map display reachable over MQTT")
	flag.StringVar(&f.nmeaFile, "nmea-file", "", "replay NMEA sentences from a file instead of the serial port")
	flag.Parse()
	return f
}

func main() {
	opts := parseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.Server.Env, cfg.Monitoring.LogLevel)
	if err := run(opts, cfg, log); err != nil {
		log.Error("tracker stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(opts flags, cfg *config.Config, log logger.Logger) error {
	if opts.profile == "" {
		opts.profile = cfg.Route.Profile
	}
	profile, err := routing.ParseProfile(opts.profile)
	if err != nil {
		return err
	}
	dest, err := parseDestination(opts.dest)
	if err != nil {
		return err
	}

	gps, err := openGPS(opts.nmeaFile, cfg.Tracking)
	if err != nil {
		return fmt.Errorf("failed to open gps input: %w", err)
	}
	defer gps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		return err
	}
	if cfg.Monitoring.EnableMetrics {
		go serveMetrics(cfg.Server.Port, metrics, log)
	}

	redisClient := connectRedis(cfg, log)
	defer redisClient.Close()

	var mqttClient mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg.MQTT)
		if err != nil {
			log.Warn("MQTT unavailable, positions go to Redis only", "broker", cfg.MQTT.Broker, "error", err)
			mqttClient = nil
		} else {
			defer mqttClient.Disconnect(250)
			log.Info("Connected to MQTT broker", "broker", cfg.MQTT.Broker)
		}
	}

	publisher := newPublisher(opts, cfg, redisClient, mqttClient, log)

	routingClient := routing.NewClient(cfg.Routing.BaseURL, cfg.Routing.Timeout)
	backend, err := newBackend(opts.viewID, cfg.MQTT.TopicPrefix, mqttClient, routingClient, log)
	if err != nil {
		return err
	}

	resolver := geocode.NewResolver(log, metrics, geocode.NewCache(
		geocode.NewNominatimProvider(cfg.Geocoder.BaseURL, cfg.Geocoder.UserAgent, cfg.Geocoder.Timeout,
			geocode.WithLimiter(ratelimit.NewLimiter(redisClient, cfg.RateLimit, cfg.Geocoder.RequestsPerS))),
		redisClient, cfg.Geocoder.CacheTTL, log))

	pollInterval := cfg.Tracking.PollInterval
	if pollInterval == 0 {
		pollInterval = defaultFixPoll
	}

	sessionOpts := []tracking.Option{
		tracking.WithProfile(profile),
		tracking.WithUpdateThrottle(throttle.NewUpdateThrottle(cfg.Tracking.TimeThreshold, cfg.Tracking.DistanceMeters)),
		tracking.WithRouteThrottle(throttle.RouteThrottle{
			TimeThreshold:     cfg.Route.TimeThreshold,
			DistanceThreshold: cfg.Route.DistanceMeters,
			FirstDebounce:     cfg.Route.FirstDebounce,
			RedrawDebounce:    cfg.Route.RedrawDebounce,
		}),
		tracking.WithPollInterval(pollInterval),
		tracking.WithPositionSink(publisher),
		tracking.WithMetrics(metrics),
		tracking.WithCallbacks(tracking.Callbacks{
			OnAddress: func(addr *geocode.AddressDetails) {
				log.Info("address", "summary", addr.Summary(), "pincode", addr.Pincode)
			},
			OnError: func(err error) {
				if errors.Is(err, apperrors.ErrLocationTimeout) {
					log.Debug("waiting for gps fix")
					return
				}
				log.Warn("tracking error", "error", err)
			},
		}),
	}
	if dest != nil {
		sessionOpts = append(sessionOpts, tracking.WithDestination(*dest))
	}

	session, err := tracking.New(tracking.Deps{
		Backend:  backend,
		Fixes:    fix.NewNMEAProvider(gps, log),
		Geocoder: resolver,
		Logger:   log,
	}, sessionOpts...)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	pubCtx, stopPublisher := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		publisher.Run(pubCtx)
	}()

	session.Start(ctx)
	if h, ok := backend.(*render.Headless); ok {
		h.Ready()
	}
	log.Info("tracker started", "order_id", opts.orderID, "profile", profile, "topic", publisher.Topic())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Shutting down tracker...")
	case <-publisher.Completed():
		log.Info("order completed")
	}

	session.Dispose()
	stopPublisher()
	wg.Wait()

	log.Info("tracker stopped")
	return nil
}

// gpsInput is a serial port or a replayed log file.
type gpsInput interface {
	io.Reader
	io.Closer
}

func openGPS(file string, cfg config.TrackingConfig) (gpsInput, error) {
	if file != "" {
		return os.Open(file)
	}
	return serial.Open(serial.OpenOptions{
		PortName:              cfg.SerialPort,
		BaudRate:              cfg.SerialBaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	})
}

func parseDestination(raw string) (*geo.Coordinate, error) {
	if raw == "" {
		return nil, nil
	}
	latRaw, lngRaw, ok := strings.Cut(raw, ",")
	if !ok {
		return nil, fmt.Errorf("destination must be lat,lng: %q", raw)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latRaw), 64)
	if err != nil {
		return nil, apperrors.ErrInvalidLatitude
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngRaw), 64)
	if err != nil {
		return nil, apperrors.ErrInvalidLongitude
	}
	if _, err := fix.Normalize(lat, lng, 0, 0); err != nil {
		return nil, err
	}
	return &geo.Coordinate{Latitude: lat, Longitude: lng}, nil
}

func newPublisher(opts flags, cfg *config.Config, redisClient storage.RedisClient, mqttClient mqtt.Client, log logger.Logger) *publish.Publisher {
	pubOpts := publish.Options{
		HeartbeatInterval: cfg.Publish.HeartbeatInterval,
		HistoryInterval:   cfg.Publish.HistoryInterval,
		HistoryMinMeters:  cfg.Publish.HistoryMinMeters,
		StatusPoll:        cfg.Publish.StatusPoll,
		TopicPrefix:       cfg.MQTT.TopicPrefix,
	}
	options := []publish.Option{publish.WithStatusChecker(publish.NewRedisStatusChecker(redisClient))}
	if mqttClient != nil {
		options = append(options, publish.WithMQTT(mqttClient))
	}
	if cfg.Postgres.Enabled {
		pg, err := storage.NewPostgresClient(cfg.Postgres.DSN)
		if err != nil {
			log.Warn("Postgres unavailable, history disabled", "error", err)
		} else {
			options = append(options, publish.WithHistory(pg))
		}
	}

	store := publish.NewLocationStore(redisClient, cfg.Publish.LocationTTL, 0)
	return publish.NewPublisher(publish.Target{
		UserID:   opts.userID,
		UserType: opts.userType,
		OrderID:  opts.orderID,
	}, store, redisClient, pubOpts, log, options...)
}

// newBackend drives a remote display when one is named, and otherwise runs
// headless with routes computed locally.
func newBackend(viewID, prefix string, client mqtt.Client, routes render.RouteSource, log logger.Logger) (render.Backend, error) {
	if viewID == "" {
		return render.NewHeadless(routes, log), nil
	}
	if client == nil {
		return nil, errors.New("a map display needs MQTT enabled")
	}
	handle := render.NewMQTTViewHandle(client, prefix, viewID)
	surface := render.NewNativeSurface(handle, log.With("view_id", viewID))
	if err := handle.Attach(surface, log); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", handle.EventTopic(), err)
	}
	return surface, nil
}

func connectMQTT(cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return client, nil
}

func connectRedis(cfg *config.Config, log logger.Logger) storage.RedisClient {
	if !cfg.Redis.Enabled {
		return storage.NewMemoryClient()
	}
	client, err := storage.NewRedisClient(cfg)
	if err != nil {
		log.Warn("Failed to connect to Redis, using in-memory store", "address", cfg.RedisAddr(), "error", err)
		return storage.NewMemoryClient()
	}
	return client
}

func serveMetrics(port string, metrics *observability.Collector, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(":"+port, mux); err != nil && err != http.ErrServerClosed {
		log.Warn("metrics endpoint stopped", "error", err)
	}
}
