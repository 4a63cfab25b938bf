package download

import (
	"context"
	"net"
	"net/http"
	"net/rpc"
	"strconv"
	"time"

	"github.com/cenkalti/piecemeal/internal/logger"
	"github.com/powerman/rpc-codec/jsonrpc2"
)

type rpcServer struct {
	rpcServer  *rpc.Server
	httpServer http.Server
	listener   net.Listener
	log        logger.Logger
}

func newRPCServer(d *Download) *rpcServer {
	h := &rpcHandler{download: d}
	srv := rpc.NewServer()
	_ = srv.RegisterName("Download", h)

	mux := http.NewServeMux()
	mux.Handle("/", jsonrpc2.HTTPHandler(srv))

	return &rpcServer{
		rpcServer: srv,
		httpServer: http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logger.New("rpc server"),
	}
}

func (s *rpcServer) Start(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.log.Infoln("RPC server is listening on", listener.Addr().String())

	go func() {
		err := s.httpServer.Serve(listener)
		if err == http.ErrServerClosed {
			return
		}
		s.log.Errorln("RPC server stopped:", err)
	}()

	return nil
}

// Addr returns the address that the server listens on.
func (s *rpcServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *rpcServer) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// RPCAddr returns the address of the RPC server, or an empty string if it is not enabled.
func (d *Download) RPCAddr() string {
	if d.rpc == nil || d.rpc.listener == nil {
		return ""
	}
	return d.rpc.Addr().String()
}
