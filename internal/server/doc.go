// Package server is the HTTP surface of shardstream.
//
// Routes:
//
//	GET  /                     redirect to the configured home page
//	GET  /dl/{id}?code=CODE    stream an object, honoring Range
//	HEAD /dl/{id}?code=CODE    headers only
//	GET  /stream/{id}?code=    HTML player for the object
//	GET  /healthz              liveness
//
// Ids may contain slashes. Requests to /dl and /stream are checked in
// order: a missing code is 401, an unknown id 404 (502 when the catalog
// fails), a wrong code 403 and a bad Range 400 or 416. Once the headers
// are sent the body is streamed by a stream.Assembler; a failure after
// that point ends the response early and is only logged.
package server
