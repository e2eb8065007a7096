// Package peer ties the transport and file packages into the two roles of
// a filepeer exchange.
//
// A Server opens the server directory, binds the first free port of the
// shared range and serves one command per connection:
//
//	opts := peer.NewServerOptions()
//	opts.RootDir = "/srv/files"
//	server, err := peer.NewServer(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err) // errors.Is(err, transport.ErrNoPortAvailable)
//	}
//	defer server.Stop()
//
// A Client finds the server by scanning the same range on every address
// of its host, then performs one request per connection:
//
//	client, err := peer.NewClient(peer.NewClientOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := client.StoreFile(ctx, "report.pdf", "", nil); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := client.RetrieveFile(ctx, "report.pdf", "downloads", nil); err != nil {
//	    log.Fatal(err) // errors.Is(err, transport.ErrNotFound) when absent
//	}
//
// Failures the server reports come back as the transport package's
// outcome errors (ErrNotFound, ErrForbidden, ErrBadRequest, ErrRemoteIO,
// ErrNoSpace). When no listener answers anywhere in the range the error
// wraps transport.ErrUnreachable.
package peer
