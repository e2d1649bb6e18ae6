// Package health checks the dependencies of the findings service and
// reports the result over HTTP and the gRPC health protocol.
//
// # Check Functions
//
//   - NetworkCheck, AddressCheck: TCP connectivity (etcd endpoints)
//   - FileCheck, WritableDirCheck: the media root receiving uploads
//   - RedisCheck: a PING round trip to the queue / store backend
//   - Combine: aggregate statuses, worst state wins
//
// # Usage Example
//
//	checker := health.NewChecker(3 * time.Second)
//	checker.Register("media", func(context.Context) health.Status {
//	    return health.WritableDirCheck(cfg.Storage.MediaRoot)
//	})
//	checker.Register("redis", func(ctx context.Context) health.Status {
//	    return health.RedisCheck(ctx, rdb, 250*time.Millisecond)
//	})
//
//	mux.Handle("GET /healthz", checker)
//
//	srv, err := health.NewServer(":9090", checker, 10*time.Second, logger)
//	if err != nil {
//	    return err
//	}
//	go srv.Serve(ctx)
//
// Degraded dependencies still answer 200 and SERVING; only an unhealthy
// result flips the endpoints to 503 and NOT_SERVING.
package health
