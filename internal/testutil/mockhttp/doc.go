// Package mockhttp builds httptest servers that stand in for the remote
// authority and document server in tests.
//
// # Basic Usage
//
//	b := mockhttp.New()
//	capture := b.Capture()
//	server, client := b.
//		Route(http.MethodPost, "/checklocation", mockhttp.Respond(200, `{"Error":null,"device_id":"dev-9"}`)).
//		Build()
//	defer server.Close()
//
// # Request Capture
//
// Capture records every request before handlers run. CountPath and
// WaitForPath let tests assert on calls made from background goroutines,
// such as the detached tamper report:
//
//	if !capture.WaitForPath("/checkfailed", 1, time.Second) {
//		t.Fatal("report not sent")
//	}
//
// # Slow Endpoints
//
// Hang blocks a path until the request context ends or the release
// channel closes, for exercising client timeouts.
package mockhttp
