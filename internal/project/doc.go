// Package project resolves a project locator into the interpreter and
// pelican configuration used to run a site worker.
//
// A project may carry a pelicide.toml (or pelicide.yaml) file naming its
// interpreter and configuration. Without one, a virtualenv in .venv or venv
// is preferred, then the default interpreter.
package project
