// Package sandboxruntime runs untrusted programs under hard ceilings on
// CPU, memory, disk and network use.
//
// Guest code never touches host files or sockets directly. Every
// operation goes through a mediated call that is admitted by the
// resource nanny first, then recorded in a handle table, and only then
// performed on the operating system.
//
// # Architecture Overview
//
//	sandboxruntime/      Sandbox: wires and tears down everything below
//	├── nanny/           Resource ledger, admission and throttling
//	├── resource/        Handle table with single-winner close
//	├── worker/          Goroutines metered against "events"
//	├── comm/            Datagrams, connections and the event dispatcher
//	├── file/            Flat per-sandbox file store
//	├── timer/           Timers, sleep and guest threads
//	├── misc/            Randomness, runtime, log, exit, resource report
//	├── guest/           WebAssembly verifier and host module
//	├── config/          Restrictions loading (text, YAML, TOML)
//	├── clock/           Real and fake time
//	├── errors/          Structured errors and fatal faults
//	└── cmd/sandbox/     Command line front end
//
// # Quick Start
//
//	cfg, err := config.Load("restrictions.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sb, err := sandboxruntime.New(ctx, cfg.Definitions, sandboxruntime.Options{Dir: "guest"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sb.Close(ctx)
//
//	if err := sb.RunModule(ctx, wasmBytes, "run"); err != nil {
//	    log.Fatal(err)
//	}
package sandboxruntime
