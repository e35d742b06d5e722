package transport

import (
	"bytes"
	"net"
	"testing"
	"time"
)

// readWithin reads one datagram from c or fails after d.
func readWithin(t *testing.T, c net.PacketConn, d time.Duration) ([]byte, net.Addr, error) {
	t.Helper()
	buf := make([]byte, MaxDatagramSize)
	_ = c.SetReadDeadline(time.Now().Add(d))
	n, addr, err := c.ReadFrom(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

func TestPipe_AutoProcess(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	want := []byte("auto-delivered datagram")
	if _, err := p.Conn(0).WriteTo(want, p.Conn(0).PeerAddr()); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	got, addr, err := readWithin(t, p.Conn(1), time.Second)
	if err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadFrom() = %q, want %q", got, want)
	}
	if addr.String() != "pipe:0" {
		t.Errorf("source = %v, want pipe:0", addr)
	}
}

func TestPipe_ManualProcess(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{})
	defer p.Close()

	if _, err := p.Conn(1).WriteTo([]byte("one"), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Conn(1).WriteTo([]byte("two"), nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := readWithin(t, p.Conn(0), 20*time.Millisecond); err == nil {
		t.Fatal("datagram delivered without Process()")
	}

	if n := p.Process(); n != 2 {
		t.Errorf("Process() = %d, want 2", n)
	}
	for _, want := range []string{"one", "two"} {
		got, _, err := readWithin(t, p.Conn(0), time.Second)
		if err != nil {
			t.Fatalf("ReadFrom() error = %v", err)
		}
		if string(got) != want {
			t.Errorf("ReadFrom() = %q, want %q", got, want)
		}
	}
}

func TestPipe_DropRate(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{Seed: 42})
	defer p.Close()
	p.SetCondition(NetworkCondition{DropRate: 1.0})

	data := []byte("dropped")
	n, err := p.Conn(0).WriteTo(data, nil)
	if err != nil || n != len(data) {
		t.Fatalf("WriteTo() = %d, %v; want silent drop", n, err)
	}
	if p.Process() != 0 {
		t.Error("dropped datagram was queued")
	}
	if st := p.Stats(); st.Sent != 1 || st.Dropped != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestPipe_StatisticalDropRate(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{Seed: 7})
	defer p.Close()
	p.SetCondition(NetworkCondition{DropRate: 0.25})

	const total = 2000
	for i := 0; i < total; i++ {
		if _, err := p.Conn(0).WriteTo([]byte{byte(i)}, nil); err != nil {
			t.Fatal(err)
		}
	}
	st := p.Stats()
	rate := float64(st.Dropped) / total
	if rate < 0.20 || rate > 0.30 {
		t.Errorf("drop rate = %.3f, want about 0.25", rate)
	}
}

func TestPipe_Duplicate(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{Seed: 1})
	defer p.Close()
	p.SetCondition(NetworkCondition{DuplicateRate: 1.0})

	if _, err := p.Conn(0).WriteTo([]byte("twice"), nil); err != nil {
		t.Fatal(err)
	}
	if n := p.Process(); n != 2 {
		t.Errorf("Process() = %d, want 2 copies", n)
	}
}

func TestPipe_Delay(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	delay := 30 * time.Millisecond
	p.SetCondition(NetworkCondition{DelayMin: delay, DelayMax: delay})
	if got := p.Condition(); got.DelayMin != delay {
		t.Errorf("Condition() = %+v", got)
	}

	start := time.Now()
	if _, err := p.Conn(0).WriteTo([]byte("late"), nil); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < delay {
		t.Errorf("WriteTo returned after %v, want at least %v", elapsed, delay)
	}
}

func TestPipe_Close(t *testing.T) {
	p := NewPipe()
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	p.SetAutoProcess(true)
	if p.Tick() != 0 {
		t.Error("closed pipe delivered a datagram")
	}
}

func TestPipeAddr(t *testing.T) {
	a := PipeAddr{ID: 1}
	if a.Network() != "pipe" || a.String() != "pipe:1" {
		t.Errorf("PipeAddr = %s/%s", a.Network(), a.String())
	}
	p := NewPipeWithConfig(PipeConfig{})
	defer p.Close()
	if p.Conn(0).LocalAddr() != (PipeAddr{ID: 0}) || p.Conn(0).PeerAddr() != (PipeAddr{ID: 1}) {
		t.Error("endpoint 0 addresses wrong")
	}
}

func TestUDPOverPipe(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	received := make(chan *Datagram, 1)
	u0, err := NewUDP(UDPConfig{Conn: p.Conn(0), Handler: func(*Datagram) {}})
	if err != nil {
		t.Fatal(err)
	}
	u1, err := NewUDP(UDPConfig{Conn: p.Conn(1), Handler: func(d *Datagram) { received <- d }})
	if err != nil {
		t.Fatal(err)
	}
	if err := u1.Start(); err != nil {
		t.Fatal(err)
	}
	defer u1.Stop()

	if err := u0.Send([]byte("over the pipe"), p.Conn(0).PeerAddr()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case d := <-received:
		if string(d.Data) != "over the pipe" || d.Addr != (PipeAddr{ID: 0}) {
			t.Errorf("received %q from %v", d.Data, d.Addr)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for datagram")
	}
}
