// Package main is the entry point for usagegate, the API usage reporting
// service: it aggregates gateway access logs into per-client usage reports
// behind a verified-identity gate.
package main

func main() {
	Execute()
}
