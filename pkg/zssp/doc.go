// Package zssp is the entry point of the secure session protocol engine.
//
// A Context owns a table of sessions and dispatches every incoming datagram
// to the right one. It performs no I/O and runs no timers: the embedding
// program supplies a send callback and the current time on every call, and
// calls Service at the interval it returns.
//
// Basic usage:
//
//	ctx, err := zssp.NewContext(app, zssp.Config{LoggerFactory: lf})
//	if err != nil {
//		return err
//	}
//
//	// Outgoing session.
//	s, err := ctx.Open(send, peerAddr, zssp.RemoteIdentity{PublicKey: peer}, now)
//
//	// Every received datagram.
//	res, err := ctx.Receive(send, fromAddr, datagram, now)
//	if err == nil && res.Kind == zssp.ResultOkData {
//		handle(res.Session, res.Data)
//	}
//
//	// Periodically.
//	wait := ctx.Service(send, now)
//
// Sessions carry their own Send method for application data once
// established.
package zssp
