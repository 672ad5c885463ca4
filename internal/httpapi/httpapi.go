// Package httpapi exposes the remuxer over HTTP.
//
// POST /remux streams an FLV request body back as one fragmented MP4
// response. POST /streams/:name stores the remuxed stream as an
// initialization segment plus numbered media segments, which are then served
// from GET /streams/:name/:file.
package httpapi

import (
	"io"
	"net/http"
	"path"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/cleoag/remux"
	"github.com/cleoag/remux/internal/fragment"
	"github.com/cleoag/remux/internal/metrics"
	"github.com/cleoag/remux/internal/playlist"
	"github.com/cleoag/remux/internal/storage"
	"github.com/cleoag/remux/internal/streamctx"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Options holds the dependencies of a Server
type Options struct {
	// Store receives streams posted to /streams. Storage routes are disabled when nil.
	Store storage.Storage
	// Metrics records request and remux metrics; optional
	Metrics *metrics.Metrics
	// Gatherer is exposed on /metrics. Defaults to the prometheus default gatherer.
	Gatherer prometheus.Gatherer
	Log      logrus.FieldLogger
	// MaxBodySize limits the size of an uploaded FLV stream; zero means no limit
	MaxBodySize int64
	// Configure is applied to every remuxer before it starts
	Configure func(*remux.Remuxer)
}

// Server wraps the HTTP router with its dependencies
type Server struct {
	router *gin.Engine
	opts   Options
	log    logrus.FieldLogger
}

// New creates a new HTTP server
func New(opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	s := &Server{opts: opts, log: opts.Log}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	router := gin.New()
	router.Use(gin.Recovery(), s.observe)

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	router.POST("/remux", s.handleRemux)

	if s.opts.Store != nil {
		streams := router.Group("/streams")
		{
			streams.POST("/:name", s.handleStore)
			streams.GET("/:name", s.handleList)
			streams.GET("/:name/:file", s.handleFile)
		}
	}

	s.router = router
}

// Handler returns the router for use with an http.Server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// observe logs and records every request
func (s *Server) observe(c *gin.Context) {
	start := time.Now()
	c.Next()
	elapsed := time.Since(start)
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	status := c.Writer.Status()
	s.opts.Metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(status), elapsed.Seconds())
	entry := s.log.WithFields(logrus.Fields{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  status,
		"bytes":   c.Writer.Size(),
		"elapsed": elapsed,
		"client":  c.ClientIP(),
	})
	if status >= http.StatusInternalServerError {
		entry.Warn("request failed")
	} else {
		entry.Debug("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) newRemuxer(id string, out remux.Output) *remux.Remuxer {
	rm := remux.New(out)
	rm.ID = id
	rm.Log = s.log
	rm.Metrics = s.opts.Metrics
	if s.opts.Configure != nil {
		s.opts.Configure(rm)
	}
	return rm
}

func (s *Server) body(c *gin.Context) io.Reader {
	if s.opts.MaxBodySize <= 0 {
		return c.Request.Body
	}
	return http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxBodySize)
}

// handleRemux answers with the fragmented MP4 rendition of the posted FLV
// stream. Once the initialization segment is written the status is fixed, so
// later failures only end the response early.
func (s *Server) handleRemux(c *gin.Context) {
	id := c.DefaultQuery("id", c.ClientIP())
	out := &responseOutput{w: c.Writer}
	rm := s.newRemuxer(id, out)
	err := remux.RemuxStream(c.Request.Context(), rm, s.body(c))
	if out.started {
		if err != nil {
			s.log.WithField("stream", id).WithError(err).Warn("remux response truncated")
		}
		return
	}
	if err == nil {
		err = errNotConfigured
	}
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (s *Server) handleStore(c *gin.Context) {
	name := c.Param("name")
	if !validName.MatchString(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream name"})
		return
	}
	// a stream replaces everything stored under its name
	if err := s.removeStream(name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := &remux.StorageOutput{Store: s.opts.Store, Dir: name}
	rm := s.newRemuxer(name, out)
	err := remux.RemuxStream(c.Request.Context(), rm, s.body(c))
	if err == nil && !rm.HeaderSent() {
		err = errNotConfigured
	}
	if err != nil {
		if rerr := s.removeStream(name); rerr != nil {
			s.log.WithField("stream", name).WithError(rerr).Warn("partial stream not removed")
		}
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"stream":   name,
		"segments": rm.Segments(),
		"dropped":  rm.Dropped(),
		"init":     path.Join("/streams", name, fragment.InitName),
		"playlist": path.Join("/streams", name, playlist.Name),
	})
}

// removeStream deletes the files stored for a stream
func (s *Server) removeStream(name string) error {
	files, err := s.opts.Store.List(name)
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := s.opts.Store.Delete(path.Join(name, file)); err != nil {
			return errors.Wrapf(err, "remove %s", file)
		}
	}
	return nil
}

func (s *Server) handleList(c *gin.Context) {
	name := c.Param("name")
	if !validName.MatchString(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream name"})
		return
	}
	files, err := s.opts.Store.List(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(files) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stream": name,
		"files":  files,
		"total":  len(files),
	})
}

func (s *Server) handleFile(c *gin.Context) {
	name, file := c.Param("name"), c.Param("file")
	if !validName.MatchString(name) || !validName.MatchString(file) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path"})
		return
	}
	key := path.Join(name, file)
	ok, err := s.opts.Store.Exists(key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	rs, err := s.opts.Store.ReadSeeker(key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cl, ok := rs.(io.Closer); ok {
		defer cl.Close()
	}
	c.Header("Content-Type", storage.ContentType(file))
	c.Header("Cache-Control", storage.CacheControl(file))
	http.ServeContent(c.Writer, c.Request, file, time.Time{}, rs)
}

var errNotConfigured = errors.New("stream ended before it was configured")

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case streamctx.IsConfigFault(err), errors.Is(err, errNotConfigured):
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

// responseOutput streams the remuxed file to an HTTP response
type responseOutput struct {
	w           gin.ResponseWriter
	contentType string
	started     bool
}

func (o *responseOutput) SetContentType(contentType string) {
	o.contentType = contentType
}

func (o *responseOutput) WriteInit(init []byte) error {
	o.w.Header().Set("Content-Type", o.contentType)
	o.w.Header().Set("Cache-Control", "no-cache")
	o.w.WriteHeader(http.StatusOK)
	o.started = true
	if _, err := o.w.Write(init); err != nil {
		return err
	}
	o.w.Flush()
	return nil
}

func (o *responseOutput) WriteSegment(seg remux.Segment) error {
	return remux.WriterOutput{W: o.w}.WriteSegment(seg)
}
