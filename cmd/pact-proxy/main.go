// pact-proxy is a record-and-replay HTTP proxy that writes Pact contracts.
//
// Usage:
//
//	# Serve on a random port in 10000-10999, pacts in ./pacts
//	pact-proxy
//
//	# Fixed port and pact folder
//	pact-proxy --port 10080 --pact-files-folder ./contracts
//
// A request to http://127.0.0.1:{port}/https/example.com/widgets?id=7 is
// answered from the recorded pact when present, and otherwise forwarded to
// https://example.com/widgets?id=7 and recorded.
package main

func main() {
	Execute()
}
