package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/backkem/zssp/pkg/config"
	"github.com/backkem/zssp/pkg/metrics"
	"github.com/backkem/zssp/pkg/node"
	"github.com/backkem/zssp/pkg/session"
)

type runOptions struct {
	configPath  string
	listen      string
	metricsAddr string
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a node from a configuration file",
		Long: "Run a node from a YAML or TOML configuration file. Sessions are opened to " +
			"every peer marked connect. Lines read from stdin are sent to every established session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (.yaml, .yml or .toml)")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "UDP listen address (overrides the file)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides the file)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runNode(ctx context.Context, cmd *cobra.Command, opts runOptions) (err error) {
	f, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.listen != "" {
		f.Listen = opts.listen
	}
	if opts.metricsAddr != "" {
		f.MetricsAddr = opts.metricsAddr
	}
	level := f.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	lf, err := loggerFactory(level)
	if err != nil {
		return err
	}
	log := lf.NewLogger("zssp-cli")

	app, err := f.Application()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg, "")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	zcfg := f.ZSSPConfig()
	zcfg.Metrics = collector
	zcfg.OnRatchet = func(s *session.Session, generation uint64) {
		_, fp, _ := s.KeyInfo()
		log.Infof("session %s ratcheted to generation %d (fingerprint %x)", s, generation, fp)
	}
	zcfg.OnSessionClosed = func(s *session.Session, reason error) {
		log.Infof("session %s closed: %v", s, reason)
	}

	n, err := node.New(node.Config{
		Application:   app,
		Context:       zcfg,
		ListenAddr:    f.Listen,
		LoggerFactory: lf,
		OnMessage: func(s *session.Session, data []byte) {
			fmt.Fprintf(out, "%v: %s\n", peerName(s), data)
		},
		OnNewSession: func(s *session.Session, appData any) {
			log.Infof("accepted session from %v at %v", appData, s.Path())
		},
	})
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return multierr.Append(err, n.Stop())
	}
	defer func() { err = multierr.Append(err, n.Stop()) }()

	if f.MetricsAddr != "" {
		srv := serveMetrics(f.MetricsAddr, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err = multierr.Append(err, srv.Shutdown(shutdownCtx))
		}()
	}

	for _, p := range f.Peers {
		if !p.Connect {
			continue
		}
		addr, err := p.ResolveAddress()
		if err != nil {
			return fmt.Errorf("peer %q: %w", p.Name, err)
		}
		remote, err := p.Identity()
		if err != nil {
			return fmt.Errorf("peer %q: %w", p.Name, err)
		}
		if _, err := n.Connect(addr, *remote); err != nil {
			return fmt.Errorf("connect to %q: %w", p.Name, err)
		}
		log.Infof("connecting to %s at %s", p.Name, addr)
	}

	lines := make(chan string)
	go readLines(os.Stdin, lines)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			broadcast(n, []byte(line), log)
		}
	}
}

func serveMetrics(addr string, g prometheus.Gatherer, log logging.LeveledLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
	log.Infof("serving metrics on http://%s/metrics", addr)
	return srv
}

func broadcast(n *node.Node, data []byte, log logging.LeveledLogger) {
	for _, s := range n.Context().Sessions() {
		if !s.Established() {
			continue
		}
		if err := n.Send(s, data); err != nil {
			log.Warnf("send to %v: %v", peerName(s), err)
		}
	}
}

func readLines(f *os.File, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out <- sc.Text()
	}
}

func peerName(s *session.Session) any {
	if name := s.AppData(); name != nil {
		return name
	}
	return s.Path()
}
