package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultReadTimeout     = 60 * time.Second
	DefaultWriteTimeout    = DefaultReadTimeout
	DefaultShutdownTimeout = 30 * time.Second

	gracefulEnvKey     = "AUDIOHUB_GRACEFUL"
	gracefulEnvValue   = gracefulEnvKey + "=1"
	gracefulListenerFD = 3
)

// GraceServer wraps http.Server with signal driven shutdown. SIGINT and SIGTERM
// drain in-flight requests; SIGUSR2 hands the listener to a fresh process first.
type GraceServer struct {
	*http.Server

	logger          *zap.Logger
	listener        net.Listener
	inherited       bool
	shutdownTimeout time.Duration
	signals         chan os.Signal
	done            chan struct{}
}

// NewGraceServer creates a server for handler on addr.
func NewGraceServer(addr string, handler http.Handler, logger *zap.Logger) *GraceServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraceServer{
		Server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      DefaultWriteTimeout,
		},
		logger:          logger.Named("server"),
		inherited:       os.Getenv(gracefulEnvKey) != "",
		shutdownTimeout: DefaultShutdownTimeout,
		signals:         make(chan os.Signal, 1),
		done:            make(chan struct{}),
	}
}

// Run serves until a shutdown signal arrives or ctx is cancelled, then waits
// for the drain to finish.
func (srv *GraceServer) Run(ctx context.Context) error {
	ln, err := srv.listen()
	if err != nil {
		return err
	}
	srv.listener = ln

	signal.Notify(srv.signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR2)
	defer signal.Stop(srv.signals)
	go srv.handleSignals(ctx)

	srv.logger.Info("listening", zap.String("addr", ln.Addr().String()), zap.Bool("inherited", srv.inherited))
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-srv.done
	return nil
}

func (srv *GraceServer) listen() (net.Listener, error) {
	if srv.inherited {
		ln, err := net.FileListener(os.NewFile(gracefulListenerFD, "listener"))
		if err != nil {
			return nil, fmt.Errorf("inherit listener: %w", err)
		}
		return ln, nil
	}
	addr := srv.Addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

func (srv *GraceServer) handleSignals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			srv.logger.Info("context cancelled, shutting down")
			srv.shutdown()
			return
		case sig := <-srv.signals:
			switch sig {
			case syscall.SIGUSR2:
				pid, err := srv.forkChild()
				if err != nil {
					srv.logger.Error("restart failed, continue serving", zap.Error(err))
					continue
				}
				srv.logger.Info("restarted", zap.Int("pid", pid))
				srv.shutdown()
				return
			default:
				srv.logger.Info("signal received, shutting down", zap.String("signal", sig.String()))
				srv.shutdown()
				return
			}
		}
	}
}

func (srv *GraceServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), srv.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		srv.logger.Error("shutdown", zap.Error(err))
	}
	close(srv.done)
}

// forkChild starts a copy of this binary that inherits the listening socket.
func (srv *GraceServer) forkChild() (int, error) {
	tcpLn, ok := srv.listener.(*net.TCPListener)
	if !ok {
		return 0, fmt.Errorf("listener is %T, not *net.TCPListener", srv.listener)
	}
	file, err := tcpLn.File()
	if err != nil {
		return 0, fmt.Errorf("listener file: %w", err)
	}
	defer file.Close()

	env := make([]string, 0, len(os.Environ())+1)
	for _, e := range os.Environ() {
		if e != gracefulEnvValue {
			env = append(env, e)
		}
	}
	env = append(env, gracefulEnvValue)

	pid, err := syscall.ForkExec(os.Args[0], os.Args, &syscall.ProcAttr{
		Env:   env,
		Files: []uintptr{os.Stdin.Fd(), os.Stdout.Fd(), os.Stderr.Fd(), file.Fd()},
	})
	if err != nil {
		return 0, fmt.Errorf("fork: %w", err)
	}
	return pid, nil
}
