// Package scanning provides the concurrent TCP connect-scan engine for stridescan.
//
// # Overview
//
// A scan covers the full TCP port space [0, 65535] of a single target address.
// The port space is split into N disjoint arithmetic sequences, one per worker:
// worker i owns ports {i, i+N, i+2N, ...}. Every port therefore belongs to
// exactly one residue class modulo N and is probed by exactly one worker.
//
// # Main Components
//
//   - Partition: builds the N Assignments (start offset, stride) for a worker count
//   - Assignment.Ports: iterates one worker's ports without overflowing uint16
//   - Scanner.Scan: spawns one goroutine per Assignment, fans the open ports in
//     over a single channel, and returns them sorted ascending
//   - SaveResults / LoadResults: XML or JSON persistence of a Result
//   - PrintResults: text, table and JSON rendering of a Result
//
// # Usage
//
//	scanner := scanning.New(
//		scanning.WithProgress(func(uint16) { fmt.Print(".") }),
//	)
//	result, err := scanner.Scan(ctx, netip.MustParseAddr("192.168.1.10"), 4)
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, line := range result.Lines() {
//		fmt.Println(line)
//	}
//
// # Termination
//
// Each worker exits once its next candidate port would exceed 65535. The
// results channel is closed by a dedicated goroutine after every worker has
// returned, which ends the collector loop. A connect attempt that never
// completes stalls only the worker that issued it; there is no per-probe
// timeout beyond what the Dialer and the context impose.
package scanning
