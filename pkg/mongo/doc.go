// Package mongo provides the MongoDB backend for session storage.
//
// New connects with retries driven by Config and Healthcheck wraps a ping for
// readiness checks. Store implements kv.Store with one document per key:
//
//	{_id: key, value: <binary>, version: <int64>, expires_at: <date|null>}
//
// Conditional writes are FindOneAndUpdate calls filtered on the version field,
// which MongoDB applies atomically per document. Expired documents are
// filtered out by every query; EnsureIndexes adds a TTL index so the server
// eventually deletes them.
//
// # Usage
//
//	client, err := mongo.New(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Disconnect(context.Background())
//
//	store := mongo.NewStore(client.Database(cfg.Database), cfg.Collection)
//	if err := store.EnsureIndexes(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Error Handling
//
// Timeouts, network errors and errors labelled RetryableWriteError or
// TransientTransactionError are joined with kv.ErrTransient.
package mongo
