// Package governor watches the host's own heap and throttles every terminal
// when it runs low on memory.
//
// A [Governor] samples heap utilization on a fixed interval. When utilization
// crosses the high watermark it pauses every live process (pause reason
// governor), asks the runtime to return memory to the OS and publishes a
// single host-throttled event. It releases once utilization falls below the
// low watermark or after MaxEngaged, whichever comes first.
//
// The governor runs on the host's event loop through a loop.Clock and is not
// safe for concurrent use.
package governor
