package ingress

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/sourcestats/collector/internal/models"
	"github.com/sourcestats/collector/internal/parser"
	"github.com/sourcestats/collector/internal/store"
)

const maxDatagram = 4096

var (
	datagramsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_ingress_datagrams_total",
		Help: "Raw datagrams read off the socket.",
	})
	datagramsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_ingress_dropped_total",
		Help: "Datagrams dropped before processing, by reason.",
	}, []string{"reason"})
	parseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_ingress_parse_failures_total",
		Help: "Datagrams that passed auth but did not parse.",
	})
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "collector_ingress_queue_depth",
		Help: "Buffered datagrams per worker partition.",
	}, []string{"partition"})
	authCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_ingress_auth_cache_size",
		Help: "Authenticated sources currently cached.",
	})
)

// EventSink consumes parsed events. Satisfied by the processor.
type EventSink interface {
	Process(ctx context.Context, ev *models.GameEvent) error
}

// Options tunes the ingress listener.
type Options struct {
	// Addr is the UDP listen address, e.g. ":27500".
	Addr string

	// Workers is the number of partition workers. Datagrams from one
	// source always land on the same worker, preserving per-source order.
	Workers int

	// QueueSize is the per-worker channel capacity.
	QueueSize int

	// SkipAuth auto-registers unknown sources instead of requiring a
	// pre-registered server row. Development only.
	SkipAuth bool

	// ShutdownGrace bounds the drain of queued datagrams on Stop.
	ShutdownGrace time.Duration
}

type datagram struct {
	payload []byte
	source  *net.UDPAddr
}

// Ingress reads Source-engine remote log datagrams off a UDP socket,
// authenticates the sending server, and feeds parsed events to the sink.
type Ingress struct {
	store  store.Store
	parser *parser.Parser
	sink   EventSink
	opts   Options
	logger *zap.SugaredLogger

	conn          *net.UDPConn
	queues        []chan datagram
	wg            sync.WaitGroup
	cancelWorkers context.CancelFunc

	// authCache maps "ip:port" to the authenticated server. A nil sentinel
	// is never stored; unknown sources are re-checked every datagram.
	mu        sync.RWMutex
	authCache map[string]*models.Server
}

func New(st store.Store, p *parser.Parser, sink EventSink, opts Options, logger *zap.Logger) *Ingress {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 4096
	}
	return &Ingress{
		store:     st,
		parser:    p,
		sink:      sink,
		opts:      opts,
		logger:    logger.Sugar(),
		authCache: make(map[string]*models.Server),
	}
}

// Run listens until ctx is canceled, then drains and returns.
func (in *Ingress) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", in.opts.Addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", in.opts.Addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", in.opts.Addr, err)
	}
	in.conn = conn
	in.logger.Infow("ingress listening", "addr", conn.LocalAddr().String(), "workers", in.opts.Workers)

	in.startWorkers(ctx)

	go func() {
		<-ctx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			in.logger.Errorw("udp read failed", "error", err)
			continue
		}
		datagramsReceived.Inc()

		payload := make([]byte, n)
		copy(payload, buf[:n])
		idx := in.partition(src)
		select {
		case in.queues[idx] <- datagram{payload: payload, source: src}:
			queueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(in.queues[idx])))
		default:
			datagramsDropped.WithLabelValues("queue_full").Inc()
		}
	}

	return in.drain()
}

// startWorkers spawns the partition workers on a context detached from the
// run context: cancelation stops the read loop only, so the queued backlog
// drains with a live context and its store writes still land. drain cancels
// the workers once the grace period runs out.
func (in *Ingress) startWorkers(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	in.cancelWorkers = cancel
	in.queues = make([]chan datagram, in.opts.Workers)
	for i := range in.queues {
		in.queues[i] = make(chan datagram, in.opts.QueueSize)
		in.wg.Add(1)
		go in.worker(workerCtx, i)
	}
}

// partition keys on the full source endpoint so two servers behind one NAT
// ip do not interleave.
func (in *Ingress) partition(src *net.UDPAddr) int {
	h := fnv.New32a()
	h.Write([]byte(src.IP.String()))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.Itoa(src.Port)))
	return int(h.Sum32()) % len(in.queues)
}

func (in *Ingress) worker(ctx context.Context, idx int) {
	defer in.wg.Done()
	for dg := range in.queues[idx] {
		in.handle(ctx, dg)
		queueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(in.queues[idx])))
	}
}

func (in *Ingress) handle(ctx context.Context, dg datagram) {
	srv, firstLine := in.authenticate(ctx, dg.source)
	if srv == nil {
		datagramsDropped.WithLabelValues("unauthenticated").Inc()
		return
	}
	// The datagram that established authentication is dropped: the server
	// may have been mid-stream and partial context produces bogus events.
	if firstLine {
		datagramsDropped.WithLabelValues("auth_first_line").Inc()
		return
	}

	res := in.parser.Parse(dg.payload, srv.ID, srv.Game)
	if !res.OK() {
		parseFailures.Inc()
		in.logger.Debugw("unparseable line",
			"source", dg.source.String(),
			"reason", res.Reason,
		)
		return
	}

	if err := in.sink.Process(ctx, res.Event); err != nil {
		in.logger.Errorw("event processing failed",
			"type", res.Event.Type,
			"server_id", srv.ID,
			"error", err,
		)
	}
}

// authenticate resolves the source endpoint to a server. The second return
// is true when this datagram is the one that established authentication.
func (in *Ingress) authenticate(ctx context.Context, src *net.UDPAddr) (*models.Server, bool) {
	key := src.IP.String() + ":" + strconv.Itoa(src.Port)

	in.mu.RLock()
	srv, ok := in.authCache[key]
	in.mu.RUnlock()
	if ok {
		return srv, false
	}

	var err error
	if in.opts.SkipAuth {
		srv, err = in.store.AutoRegisterDevServer(ctx, src.IP.String(), src.Port)
		if err != nil {
			in.logger.Errorw("dev auto-register failed", "source", key, "error", err)
			return nil, false
		}
		// Dev servers are trusted immediately; no first-line drop.
		in.cache(key, srv)
		return srv, false
	}

	srv, err = in.store.GetServerByAddress(ctx, src.IP.String(), src.Port)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			in.logger.Warnw("datagram from unregistered server", "source", key)
		} else {
			in.logger.Errorw("server lookup failed", "source", key, "error", err)
		}
		return nil, false
	}
	in.cache(key, srv)
	return srv, true
}

func (in *Ingress) cache(key string, srv *models.Server) {
	in.mu.Lock()
	in.authCache[key] = srv
	authCacheSize.Set(float64(len(in.authCache)))
	in.mu.Unlock()
	in.logger.Infow("server authenticated", "source", key, "server_id", srv.ID, "game", srv.Game)
}

// ClearAuthCache drops every cached source. The next datagram from each
// server re-authenticates.
func (in *Ingress) ClearAuthCache() {
	in.mu.Lock()
	in.authCache = make(map[string]*models.Server)
	authCacheSize.Set(0)
	in.mu.Unlock()
}

// drain closes the worker queues and waits for the backlog, bounded by the
// shutdown grace.
func (in *Ingress) drain() error {
	for _, q := range in.queues {
		close(q)
	}
	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()

	grace := in.opts.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	select {
	case <-done:
		in.logger.Infow("ingress drained")
	case <-time.After(grace):
		in.logger.Warnw("ingress drain timed out", "grace", grace)
	}
	in.cancelWorkers()
	in.ClearAuthCache()
	return in.conn.Close()
}
