// Package extension hosts an optional Lua extension in a restricted
// interpreter.
//
// The extension lives in a directory with an init.lua entry script. The
// script sees a reduced standard library and three capability globals:
//
//	keyspace.open(name)   namespace handle with set/get/delete/exists
//	keyspace.null         None inside lists, tuples and dicts
//	log.info(...)         structured logging, also debug/warn/error
//	config                read-only static settings
//
// The script provides on_load() and call_command(name, args), either as
// fields of the table it returns or as globals. A missing root, or a script
// that fails to load, leaves the sandbox unavailable and every hook a no-op.
package extension
