// Package memd implements the memcached binary protocol as spoken by
// Couchbase data nodes.
//
// # Packets
//
// Packet is a plain container for one frame. Constructors build the
// requests this module needs:
//
//	req := memd.NewStore(memd.OpSet, "key", value, flags, expiry, 0, vbucket)
//	err := memd.WritePacket(w, req)
//
// ReadPacket decodes one frame:
//
//	resp, err := memd.ReadPacket(r)
//	if err != nil {
//	    if memd.ShouldCloseConnection(err) {
//	        conn.Close()
//	    }
//	    return err
//	}
//
// # Connections
//
// Conn multiplexes requests over a single socket and matches responses by
// opaque. Exchange is the synchronous form:
//
//	c := memd.NewConn(netConn, logger)
//	if err := memd.Authenticate(ctx, c, user, pass); err != nil {
//	    return err
//	}
//	resp, err := c.Exchange(ctx, memd.NewGet("key", vb), nil)
//
// # Error Handling
//
// Every error of this package declares whether the connection survives it,
// see ShouldCloseConnection.
package memd
