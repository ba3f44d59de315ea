// Package stubtest runs a stub server inside Go tests.
//
// New starts the server on free loopback ports through a lifecycle.Facade,
// wires a stub client to it and registers cleanup with the test:
//
//	func TestCheckout(t *testing.T) {
//	    srv := stubtest.New(t, stubtest.WithEcho())
//
//	    resp := srv.Post("/orders", `{"sku":"A-1"}`)
//	    stubtest.AssertStatus(t, resp, http.StatusOK)
//	    stubtest.AssertJSONPath(t, resp, "$.body", `{"sku":"A-1"}`)
//
//	    srv.AssertCalledTimes(t, "POST", "/orders", 1)
//	}
//
// Response assertions use JSONPath expressions for structured bodies.
// Request assertions read the server's request log; a trailing "*" in a
// path matches by prefix. WaitForRequest blocks until a request made from
// another goroutine shows up.
package stubtest
