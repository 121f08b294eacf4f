// Package site manages the registered pelican sites of a pelicide service.
//
// Each site pairs a resolved project with a worker process and a scratch
// directory holding the built output. The Registry creates sites, routes
// commands to them by id and tears them all down at shutdown.
package site
