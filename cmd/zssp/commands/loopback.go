package commands

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/backkem/zssp/pkg/config"
	"github.com/backkem/zssp/pkg/crypto"
	"github.com/backkem/zssp/pkg/node"
	"github.com/backkem/zssp/pkg/session"
	"github.com/backkem/zssp/pkg/transport"
	"github.com/backkem/zssp/pkg/zssp"
)

type loopbackOptions struct {
	messages       int
	size           int
	loss           float64
	rekeyAfterUses uint64
	seed           int64
	timeout        time.Duration
	echo           bool
}

func loopbackCmd() *cobra.Command {
	opts := loopbackOptions{messages: 20, size: 64, rekeyAfterUses: 16, timeout: 30 * time.Second}
	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Run two nodes over an in-memory lossy link",
		Long: "Run alice and bob over an in-memory datagram link. Alice opens a session, " +
			"both sides exchange messages, and every ratchet is reported with its key fingerprint.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoopback(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVarP(&opts.messages, "messages", "n", opts.messages, "messages each side sends")
	cmd.Flags().IntVar(&opts.size, "size", opts.size, "message size in bytes")
	cmd.Flags().Float64Var(&opts.loss, "loss", 0, "datagram drop probability (0-1)")
	cmd.Flags().Uint64Var(&opts.rekeyAfterUses, "rekey-after-uses", opts.rekeyAfterUses, "ratchet after this many packets")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "loss generator seed (0 = time based)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", opts.timeout, "give up after this long")
	cmd.Flags().BoolVar(&opts.echo, "echo", false, "only alice sends; bob echoes every message back")
	return cmd
}

// loopbackPeer is one side of the loopback run.
type loopbackPeer struct {
	name string
	app  *config.StaticApplication
	node *node.Node

	mu       sync.Mutex
	session  *session.Session
	received int
	bytes    int
}

func (p *loopbackPeer) current() (*session.Session, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.received
}

// delivered returns the application bytes received so far.
func (p *loopbackPeer) delivered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytes
}

func runLoopback(out io.Writer, opts loopbackOptions) (err error) {
	if opts.loss < 0 || opts.loss >= 1 {
		return fmt.Errorf("loss %v out of range [0, 1)", opts.loss)
	}
	lf, err := loggerFactory(logLevel)
	if err != nil {
		return err
	}

	pcfg := transport.DefaultPipeConfig()
	pcfg.Seed = opts.seed
	pipe := transport.NewPipeWithConfig(pcfg)
	// The nodes close the endpoints; this only stops the delivery goroutine.
	defer pipe.Close()
	pipe.SetCondition(transport.NetworkCondition{DropRate: opts.loss})

	peers := [2]*loopbackPeer{{name: "alice"}, {name: "bob"}}
	for _, p := range peers {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		p.app = config.NewStaticApplication(kp)
	}
	for i, p := range peers {
		other := peers[1-i]
		p.app.AddPeer(&zssp.RemoteIdentity{PublicKey: other.app.LocalIdentity().PublicKey(), AppData: other.name})
	}

	var outMu sync.Mutex
	printf := func(format string, args ...any) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	for i, p := range peers {
		p := p
		zcfg := zssp.DefaultConfig()
		zcfg.Params.RekeyAfterUses = opts.rekeyAfterUses
		zcfg.OnRatchet = func(s *session.Session, generation uint64) {
			_, fp, _ := s.KeyInfo()
			printf("%s: ratchet to generation %d, fingerprint %x\n", p.name, generation, fp)
		}
		zcfg.OnSessionEstablished = func(s *session.Session) {
			p.mu.Lock()
			p.session = s
			p.mu.Unlock()
			printf("%s: session %s established with %v\n", p.name, s, s.AppData())
		}
		n, nerr := node.New(node.Config{
			Application:   p.app,
			Context:       zcfg,
			Conn:          pipe.Conn(i),
			LoggerFactory: lf,
			OnMessage: func(s *session.Session, data []byte) {
				p.mu.Lock()
				p.received++
				p.bytes += len(data)
				p.mu.Unlock()
				if opts.echo && p.name == "bob" {
					if err := p.node.Send(s, data); err != nil {
						printf("%s: echo: %v\n", p.name, err)
					}
				}
			},
		})
		if nerr != nil {
			return nerr
		}
		p.node = n
		if serr := n.Start(); serr != nil {
			return multierr.Append(serr, n.Stop())
		}
		defer func() { err = multierr.Append(err, n.Stop()) }()
	}

	alice, bob := peers[0], peers[1]
	if _, err := alice.node.Connect(pipe.Conn(0).PeerAddr(), zssp.RemoteIdentity{
		PublicKey: bob.app.LocalIdentity().PublicKey(),
		AppData:   bob.name,
	}); err != nil {
		return err
	}

	deadline := time.Now().Add(opts.timeout)
	wait := func(what string, cond func() bool) error {
		for !cond() {
			if time.Now().After(deadline) {
				return fmt.Errorf("timed out waiting for %s", what)
			}
			time.Sleep(5 * time.Millisecond)
		}
		return nil
	}
	established := func() bool {
		a, _ := alice.current()
		b, _ := bob.current()
		return a != nil && b != nil
	}
	if err := wait("handshake", established); err != nil {
		return err
	}

	// Messages are sent at a steady pace; lost ones are not retransmitted,
	// so under loss the received count is reported rather than awaited.
	senders := peers[:]
	if opts.echo {
		senders = peers[:1]
	}
	start := time.Now()
	msg := make([]byte, opts.size)
	for i := 0; i < opts.messages; i++ {
		for _, p := range senders {
			s, _ := p.current()
			if err := p.node.Send(s, msg); err != nil {
				return fmt.Errorf("%s: send %d: %w", p.name, i, err)
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	if opts.loss == 0 {
		if err := wait("delivery", func() bool {
			_, a := alice.current()
			_, b := bob.current()
			return a == opts.messages && b == opts.messages
		}); err != nil {
			return err
		}
	} else {
		time.Sleep(100 * time.Millisecond)
	}
	elapsed := time.Since(start)

	for _, p := range peers {
		s, received := p.current()
		gen, fp, _ := s.KeyInfo()
		st := s.Stats()
		printf("%s: received %d/%d messages, generation %d, fingerprint %x, %d ratchets\n",
			p.name, received, opts.messages, gen, fp, st.Ratchets)
	}
	delivered := alice.delivered() + bob.delivered()
	printf("throughput: %d bytes in %s, %.0f bytes/s\n", delivered, elapsed.Round(time.Millisecond), float64(delivered)/elapsed.Seconds())
	stats := pipe.Stats()
	printf("link: %d datagrams sent, %d dropped, %d duplicated\n", stats.Sent, stats.Dropped, stats.Duplicated)
	return nil
}
