package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring Server instance
type config struct {
	httpServer    *http.Server
	handlers      map[string]http.Handler
	streams       map[string]http.Handler
	frameTimeout  time.Duration
	afterShutdown []func()
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	Host         string        `env:"HOST" envDefault:"0.0.0.0"`
	Port         uint16        `env:"PORT" envDefault:"9000"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	FrameTimeout time.Duration `env:"WS_FRAME_TIMEOUT" envDefault:"10s"`
}

// WithEnvConfig enables processing exported EnvConfig struct to acts as a source of config parameters for http.Server
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		c.httpServer.Addr = cfg.Host + ":" + strconv.FormatUint(uint64(cfg.Port), 10)
		if cfg.ReadTimeout > 0 {
			c.httpServer.ReadTimeout = cfg.ReadTimeout
		}
		if cfg.FrameTimeout > 0 {
			c.frameTimeout = cfg.FrameTimeout
		}
	})
}

// ReadTimeout sets read timeout for http.Server
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpServer.ReadTimeout = d
	})
}

// FrameTimeout bounds the handling of a single websocket frame
func FrameTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.frameTimeout = d
	})
}

// RegisterAfterShutdown registers a function to call after http.Server shutdown
// f will not be called in separated goroutine
func RegisterAfterShutdown(f func()) Option {
	return optionFunc(func(c *config) {
		c.afterShutdown = append(c.afterShutdown, f)
	})
}

// registerHandlers builds a mux.Router with POST routes for the json API handlers and
// GET routes for streams, the router acts as a http.Handler for http.Server in config struct
func registerHandlers() Option {
	return optionFunc(func(c *config) {
		router := mux.NewRouter()
		for pattern, h := range c.handlers {
			router.Handle(pattern, h)
		}
		for pattern, h := range c.streams {
			router.Handle(pattern, h).Methods(http.MethodGet)
		}
		router.NotFoundHandler = http.HandlerFunc(http.NotFound)
		c.httpServer.Handler = router
	})
}

// applyEnforcePostJson wraps each handler in handlers map with enforcePostJson middleware
func applyEnforcePostJson() Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = enforcePostJson(h)
		}
	})
}

// applyAuthenticate wraps each handler in handlers map with authenticate middleware
func applyAuthenticate(auth Authenticator, logger *zap.SugaredLogger) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = authenticate(h, auth, logger)
		}
	})
}

// applyLog wraps each http.Handler in handlers and streams maps with log middleware
func applyLog(logger *zap.Logger) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = log(h, logger)
		}
		for pattern, h := range c.streams {
			c.streams[pattern] = log(h, logger)
		}
	})
}

// TimeoutHandler wraps each handler in handlers map in http.TimeoutHandler with provided duration and message
// streams are never wrapped, a hijacked connection outlives any timeout
func TimeoutHandler(d time.Duration, msg string) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = http.TimeoutHandler(h, d, msg)
		}
	})
}
