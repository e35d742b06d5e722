package config

import (
	"testing"

	"github.com/backkem/zssp/pkg/crypto"
	"github.com/backkem/zssp/pkg/zssp"
)

func TestStaticApplication(t *testing.T) {
	k := newTestKeys(t)
	f := &File{
		PrivateKey: k.private,
		Peers:      []Peer{{Name: "bob", PublicKey: k.public}},
	}
	app, err := f.Application()
	if err != nil {
		t.Fatalf("Application() error = %v", err)
	}
	if !app.LocalIdentity().PublicKey().Equal(k.local.PublicKey()) {
		t.Error("LocalIdentity() is not the configured key")
	}
	if string(app.LocalStaticBlob()) != string(k.local.PublicKeyBytes()) {
		t.Error("LocalStaticBlob() is not the public key")
	}

	remote, ok := app.ResolveIdentity(k.peer.PublicKeyBytes())
	if !ok || remote.AppData != "bob" {
		t.Errorf("ResolveIdentity(bob) = %+v, %v", remote, ok)
	}
	stranger, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := app.ResolveIdentity(stranger.PublicKeyBytes()); ok {
		t.Error("ResolveIdentity() accepted an unknown key")
	}
	if _, ok := app.ResolveIdentity([]byte("garbage")); ok {
		t.Error("ResolveIdentity() accepted garbage")
	}

	app.AddPeer(&zssp.RemoteIdentity{PublicKey: stranger.PublicKey()})
	if _, ok := app.ResolveIdentity(stranger.PublicKeyBytes()); !ok {
		t.Error("AddPeer() did not take effect")
	}
	app.RemovePeer(k.peer.PublicKey())
	if _, ok := app.ResolveIdentity(k.peer.PublicKeyBytes()); ok {
		t.Error("RemovePeer() did not take effect")
	}

	if !app.AllowIncomingSession() {
		t.Error("incoming sessions disallowed by default")
	}
	app.SetAllowIncoming(false)
	if app.AllowIncomingSession() {
		t.Error("SetAllowIncoming(false) did not take effect")
	}
}

func TestFile_ApplicationWithoutKey(t *testing.T) {
	if _, err := (&File{}).Application(); err != ErrNoIdentity {
		t.Errorf("Application() error = %v, want ErrNoIdentity", err)
	}
}
