// Package gridd exposes the Go APIs behind the single-binary scheduling hub
// for a browser-automation grid. The server accepts session requests over
// HTTP, queues them, and places each one on a worker node with a free slot
// whose capabilities match. The package also makes it easy to embed the grid
// in tests or larger programs.
//
// # Running a server
//
// The server listens on the network specified by `Config.ListenProto`
// (default `tcp`) and address `Config.Listen` (default ":4444").
//
//	cfg := gridd.Config{
//	    Listen: ":4444",
//	}
//	srv, err := gridd.NewServer(cfg)
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("gridd: %v", err)
//	    }
//	}()
//	defer func() {
//	    if err := srv.Shutdown(context.Background()); err != nil {
//	        log.Printf("gridd shutdown: %v", err)
//	    }
//	}()
//
// # Nodes and slots
//
// Worker nodes register through POST /v1/node, advertising one slot per
// concurrent session they can run, each with a fixed capability stereotype.
// The grid probes every node's /status endpoint on a fixed interval and
// stops handing sessions to nodes that fail the probe. A node can be taken
// out of rotation with POST /v1/node/{id}/drain; its running sessions finish
// undisturbed.
//
// # Session requests
//
// Clients request sessions through POST /v1/session with one or more
// capability alternatives in preference order. The call blocks until a slot
// is found or `Config.SessionRequestTimeout` passes. Requests the fleet can
// never serve are rejected immediately when
// `Config.RejectUnsupportedCaps` is set.
//
// # Embedding
//
// Tests and embedded deployments can swap collaborators through options:
// WithLogger injects the structured logger, WithClock a deterministic time
// source, and WithNodeFactory replaces the HTTP node transport with an
// in-process one.
//
//	srv, err := gridd.NewServer(cfg,
//	    gridd.WithLogger(logger),
//	    gridd.WithNodeFactory(localNodes),
//	)
//
// Metrics are exported in Prometheus format when `Config.MetricsListen` is
// set; `Config.PprofListen` enables the standard pprof handlers the same
// way.
package gridd
