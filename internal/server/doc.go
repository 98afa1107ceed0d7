// Package server is the minimal request collaborator that feeds the pool.
//
// Every accepted TCP connection becomes one opaque job handed to an
// Executor (a *worker.Pool). The job reads a single buffer from the
// connection, matches it against two literal request lines, and writes a
// fixed response:
//
//	GET / HTTP/1.1        -> 200 OK, hello.html
//	GET /sleep HTTP/1.1   -> 200 OK, hello.html after SlowDelay
//	anything else         -> 404 NOT FOUND, 404.html
//
// Responses carry only a status line and Content-Length. There is no
// further request parsing.
//
// # Basic Usage
//
//	pool, _ := worker.NewPool(4)
//	defer pool.Close()
//
//	srv, err := server.New(server.DefaultConfig(), pool)
//	if err != nil {
//	    return err
//	}
//	return srv.ListenAndServe(ctx)
//
// Serve returns when ctx is done; connections already handed to the pool
// keep running until the pool is closed.
//
// Views are embedded; set Config.ViewsDir to serve hello.html and 404.html
// from a directory instead. Config.MaxConns caps open connections with
// netutil.LimitListener.
package server
