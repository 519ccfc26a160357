// Package dataproxy is a client for reporting data to InLong DataProxy.
//
// Messages are buffered per (group id, stream id), packed into batches,
// optionally compressed, and delivered to a DataProxy endpoint chosen from
// a pool kept fresh by the InLong manager (or a static list). Delivery is
// asynchronous: Send returns once the message is buffered and the outcome
// is reported later through the message's callback.
//
// # Basic Usage
//
//	cfg := dataproxy.DefaultConfig()
//	cfg.GroupIDs = []string{"test_group"}
//	cfg.ManagerURL = "http://127.0.0.1:8083/inlong/manager/openapi/dataproxy/getIpList"
//
//	client, err := dataproxy.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close(5 * time.Second)
//
//	err = client.Send(ctx, "test_group", "test_stream", []byte("hello"),
//	    dataproxy.CallbackFunc(func(r dataproxy.Result) {
//	        if r.Err != nil {
//	            log.Printf("delivery failed: %v", r.Err)
//	        }
//	    }))
//
// # Configuration
//
// Start from [DefaultConfig] or load the native SDK's JSON document with
// [LoadConfig]; TOML and YAML files with the same keys are accepted too.
// Exactly one endpoint source is used, in this order: HTTP report mode
// (EnableHTTPReport), ProxyAddrs, ProxyListFile, ManagerURL.
//
// # Callbacks
//
// Every message sent with a callback gets exactly one [Result]. Callbacks
// run on dedicated goroutines, never on the goroutine calling Send, and a
// slow callback does not delay delivery of other batches.
//
// # Shutdown
//
// [Client.Close] stops accepting messages, flushes what is buffered and
// waits for in-flight batches up to its timeout. Batches still pending at
// the deadline fail with [ErrShutdownTimeout].
//
// # C-style API
//
// [API] wraps a client behind the native SDK's integer-returning calls
// (InitAPI, Send, CloseAPI) for embedding through cgo or other bindings.
package dataproxy
