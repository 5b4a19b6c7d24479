package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/sambacha/web3-proxy/internal/config"
	wire "github.com/sambacha/web3-proxy/internal/rpc"
	"github.com/sambacha/web3-proxy/internal/router"
	"github.com/sambacha/web3-proxy/internal/subscription"
)

// server is SPEC_FULL.md's HTTP/WS front door: gorilla/mux routes POST
// JSON-RPC over HTTP and upgrades /ws via gorilla/websocket, rs/cors
// wraps both, and /metrics serves the Prometheus registry on its own
// listener, matching proxyd's go.mod stack named in SPEC_FULL.md §6.
type server struct {
	cfg     config.ServerSpec
	router  *router.Router
	subSrv  *gethrpc.Server
	metrics http.Handler

	httpSrv    *http.Server
	metricsSrv *http.Server
	upgrader   websocket.Upgrader
}

func newServer(cfg config.ServerSpec, r *router.Router, engine *subscription.Engine, metrics interface{ Handler() http.Handler }) (*server, error) {
	subSrv := gethrpc.NewServer()
	if err := subSrv.RegisterName("eth", engine); err != nil {
		return nil, err
	}

	s := &server{
		cfg:      cfg,
		router:   r,
		subSrv:   subSrv,
		metrics:  metrics.Handler(),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	m := mux.NewRouter()
	m.HandleFunc("/", s.handleHTTP).Methods(http.MethodPost)
	m.HandleFunc("/ws", s.handleWS)

	corsOpts := cors.Options{AllowedOrigins: cfg.CORSAllowedOrigins, AllowedMethods: []string{http.MethodPost}}
	if len(corsOpts.AllowedOrigins) == 0 {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	handler := cors.New(corsOpts).Handler(m)

	s.httpSrv = &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	if cfg.MetricsListenAddr != "" {
		mm := mux.NewRouter()
		mm.Handle("/metrics", s.metrics)
		s.metricsSrv = &http.Server{Addr: cfg.MetricsListenAddr, Handler: mm}
	}
	return s, nil
}

// Serve blocks, running the HTTP and metrics listeners until ctx is done.
func (s *server) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.Shutdown(context.Background())
	}()

	if s.metricsSrv != nil {
		go func() {
			if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", "err", err)
			}
		}()
	}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("http server stopped", "err", err)
	}
}

// Shutdown gracefully stops both listeners.
func (s *server) Shutdown(ctx context.Context) {
	s.httpSrv.Shutdown(ctx)
	if s.metricsSrv != nil {
		s.metricsSrv.Shutdown(ctx)
	}
	s.subSrv.Stop()
}

func (s *server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var batch []*wire.Request
	dec := json.NewDecoder(r.Body)
	raw := json.RawMessage{}
	if err := dec.Decode(&raw); err != nil {
		writeHTTPError(w, wire.ErrBadRequest)
		return
	}

	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &batch); err != nil {
			writeHTTPError(w, wire.ErrBadRequest)
			return
		}
		resps := s.router.DispatchBatch(r.Context(), batch)
		writeJSON(w, resps)
		return
	}

	var req wire.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		writeHTTPError(w, wire.ErrBadRequest)
		return
	}
	writeJSON(w, s.router.Dispatch(r.Context(), &req))
}

func writeHTTPError(w http.ResponseWriter, err error) {
	resp := &wire.Response{JSONRPC: "2.0", Error: wire.ToWireError(err)}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// handleWS upgrades the connection and runs a read loop bridging three
// concerns over the single socket: plain JSON-RPC dispatch (via Router,
// identical to the HTTP path), and eth_subscribe/eth_unsubscribe
// lifecycle management bridged onto a private in-process *rpc.Server
// wired with the subscription Engine (gethrpc.DialInProc), since
// rpc.Notifier only activates on a real rpc.Server-managed connection —
// bridging keeps that machinery intact without forcing every other
// method through reflection-based dispatch too.
func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sess := newWSSession(r.Context(), conn, s.router, s.subSrv)
	defer sess.close()
	sess.run()
}

type wsSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	conn     *websocket.Conn
	router   *router.Router
	inproc   *gethrpc.Client
	writeMu  sync.Mutex

	subsMu sync.Mutex
	subs   map[string]*gethrpc.ClientSubscription
}

func newWSSession(ctx context.Context, conn *websocket.Conn, r *router.Router, subSrv *gethrpc.Server) *wsSession {
	ctx, cancel := context.WithCancel(ctx)
	return &wsSession{
		ctx:    ctx,
		cancel: cancel,
		conn:   conn,
		router: r,
		inproc: gethrpc.DialInProc(subSrv),
		subs:   map[string]*gethrpc.ClientSubscription{},
	}
}

func (sess *wsSession) close() {
	sess.cancel()
	sess.subsMu.Lock()
	for _, sub := range sess.subs {
		sub.Unsubscribe()
	}
	sess.subsMu.Unlock()
	sess.inproc.Close()
}

func (sess *wsSession) run() {
	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		var req wire.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			sess.writeJSON(&wire.Response{JSONRPC: "2.0", Error: wire.ToWireError(wire.ErrBadRequest)})
			continue
		}
		go sess.handle(&req)
	}
}

func (sess *wsSession) handle(req *wire.Request) {
	switch req.Method {
	case "eth_subscribe":
		sess.handleSubscribe(req)
	case "eth_unsubscribe":
		sess.handleUnsubscribe(req)
	default:
		sess.writeJSON(sess.router.Dispatch(sess.ctx, req))
	}
}

func (sess *wsSession) handleSubscribe(req *wire.Request) {
	var params []any
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil || len(params) == 0 {
			sess.writeJSON(wire.NewErrorResponse(req.ID, wire.CodeBadParams, "invalid subscribe params", nil))
			return
		}
	}

	ch := make(chan json.RawMessage, 16)
	sub, err := sess.inproc.Subscribe(sess.ctx, "eth", ch, params...)
	if err != nil {
		sess.writeJSON(wire.NewErrorResponse(req.ID, wire.CodeInternal, err.Error(), nil))
		return
	}

	subID := newSubID()
	sess.subsMu.Lock()
	sess.subs[subID] = sub
	sess.subsMu.Unlock()

	resp, err := wire.NewResult(req.ID, subID)
	if err != nil {
		sess.writeJSON(wire.NewErrorResponse(req.ID, wire.CodeInternal, err.Error(), nil))
		return
	}
	sess.writeJSON(resp)

	go sess.pump(subID, ch, sub)
}

func (sess *wsSession) pump(subID string, ch chan json.RawMessage, sub *gethrpc.ClientSubscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return
			}
			var result any = v
			notif := wire.NewNotification(subID, result)
			sess.writeJSON(notif)
		case <-sub.Err():
			return
		case <-sess.ctx.Done():
			return
		}
	}
}

func (sess *wsSession) handleUnsubscribe(req *wire.Request) {
	var params []string
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil || len(params) != 1 {
			sess.writeJSON(wire.NewErrorResponse(req.ID, wire.CodeBadParams, "invalid unsubscribe params", nil))
			return
		}
	}

	sess.subsMu.Lock()
	sub, ok := sess.subs[params[0]]
	delete(sess.subs, params[0])
	sess.subsMu.Unlock()

	if ok {
		sub.Unsubscribe()
	}
	resp, _ := wire.NewResult(req.ID, ok)
	sess.writeJSON(resp)
}

func (sess *wsSession) writeJSON(v any) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	_ = sess.conn.WriteJSON(v)
}

func newSubID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return "0x" + hex.EncodeToString(b[:])
}
