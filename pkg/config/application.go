package config

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/backkem/zssp/pkg/crypto"
	"github.com/backkem/zssp/pkg/zssp"
)

// StaticApplication is a zssp.Application that accepts sessions from a
// fixed set of peers. The static blob is the uncompressed public key.
type StaticApplication struct {
	identity *crypto.KeyPair

	mu    sync.RWMutex
	peers map[string]*zssp.RemoteIdentity
	allow bool
}

var _ zssp.Application = (*StaticApplication)(nil)

// NewStaticApplication creates an application for identity that admits
// incoming sessions.
func NewStaticApplication(identity *crypto.KeyPair) *StaticApplication {
	return &StaticApplication{
		identity: identity,
		peers:    make(map[string]*zssp.RemoteIdentity),
		allow:    true,
	}
}

// Application builds a StaticApplication from the file's identity and peers.
func (f *File) Application() (*StaticApplication, error) {
	kp, err := f.Identity()
	if err != nil {
		return nil, err
	}
	app := NewStaticApplication(kp)
	for _, p := range f.Peers {
		remote, err := p.Identity()
		if err != nil {
			return nil, fmt.Errorf("peer %q: %w", p.Name, err)
		}
		app.AddPeer(remote)
	}
	return app, nil
}

// AddPeer trusts remote. A later call for the same key replaces it.
func (a *StaticApplication) AddPeer(remote *zssp.RemoteIdentity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peers[hex.EncodeToString(remote.PublicKey.Bytes())] = remote
}

// RemovePeer stops trusting pub. Established sessions are not affected.
func (a *StaticApplication) RemovePeer(pub *crypto.PublicKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.peers, hex.EncodeToString(pub.Bytes()))
}

// SetAllowIncoming toggles admission of new incoming sessions.
func (a *StaticApplication) SetAllowIncoming(allow bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allow = allow
}

func (a *StaticApplication) LocalIdentity() *crypto.KeyPair { return a.identity }
func (a *StaticApplication) LocalStaticBlob() []byte        { return a.identity.PublicKeyBytes() }

func (a *StaticApplication) AllowIncomingSession() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.allow
}

func (a *StaticApplication) ResolveIdentity(blob []byte) (*zssp.RemoteIdentity, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	remote, ok := a.peers[hex.EncodeToString(blob)]
	return remote, ok
}
