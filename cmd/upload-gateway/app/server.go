package app

import (
	"fmt"
	"net"
	"sync"
	"time"

	"bytetrade.io/web3os/upload-gateway/pkg/app/middleware"
	"bytetrade.io/web3os/upload-gateway/pkg/constants"
	"bytetrade.io/web3os/upload-gateway/pkg/upload/fileutils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	jsoniter "github.com/json-iterator/go"
	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"
)

const shutdownTimeout = 10 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Server struct {
	app *fiber.App

	config     Config
	controller *appController
	store      *fileutils.Store
	metrics    *metrics

	mu      sync.Mutex
	sweeper *cron.Cron
}

type route struct {
	method  string
	path    string
	handler fiber.Handler
}

// NewServer checks the configuration and the upload directory and registers
// all routes. Nothing is listening until ServerRun.
func NewServer(config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := fileutils.NewStore(config.UploadDir)
	if err != nil {
		return nil, err
	}
	if err := store.CheckWritable(); err != nil {
		return nil, fmt.Errorf("upload directory is not writable: %w", err)
	}

	s := &Server{
		config:  config,
		store:   store,
		metrics: newMetrics(),
	}
	s.controller = newController(s)

	s.app = fiber.New(fiber.Config{
		AppName:               "upload-gateway",
		BodyLimit:             config.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})
	s.app.Use(recover.New())
	s.app.Use(middleware.RequestLogger())
	// middleware to allow all clients to communicate using http and allow cors
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD",
		AllowHeaders: "Origin, Content-Type, Accept, Content-Length, Content-Disposition",
	}))

	for _, r := range s.routes() {
		s.app.Add(r.method, r.path, r.handler)
	}

	klog.Infof("upload dir:%s, body limit:%d", store.Dir(), config.BodyLimit)
	return s, nil
}

// routes is the complete route table of the gateway.
func (s *Server) routes() []route {
	return []route{
		{fiber.MethodPost, constants.UploadRoute, s.controller.UploadForm},
		{fiber.MethodGet, constants.DownloadRoute + "/:" + filenameParam, s.controller.DownloadFile},
		{fiber.MethodHead, constants.DownloadRoute + "/:" + filenameParam, s.controller.DownloadFile},
		{fiber.MethodGet, constants.HealthRoute, s.controller.Healthz},
		{fiber.MethodGet, constants.MetricsRoute, s.metrics.handler()},
	}
}

// ServerRun listens on the configured address and serves until Shutdown is called.
func (s *Server) ServerRun() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve starts the temp file sweeper and serves requests from ln.
func (s *Server) Serve(ln net.Listener) error {
	sweeper, err := s.store.StartSweeper(s.config.SweepSchedule, s.config.TempFileMaxAge)
	if err != nil {
		ln.Close()
		return err
	}
	s.mu.Lock()
	s.sweeper = sweeper
	s.mu.Unlock()

	klog.Infof("upload server listening on %s", ln.Addr())
	return s.app.Listener(ln)
}

func (s *Server) Shutdown() error {
	s.mu.Lock()
	sweeper := s.sweeper
	s.mu.Unlock()

	if sweeper != nil {
		<-sweeper.Stop().Done()
	}
	return s.app.ShutdownWithTimeout(shutdownTimeout)
}
