// Package requestlog records the requests a stub server received so tests
// can inspect them through the admin API.
//
// It is distinct from operational logging, which uses log/slog.
//
//	store := requestlog.NewMemoryStore(1000)
//	store.Log(&requestlog.Entry{Method: "GET", Path: "/hello"})
//	recent := store.List(&requestlog.Filter{Method: "GET", Limit: 10})
package requestlog
