// Package planner turns a machine profile and content metrics into a chunk
// plan and a worker allocation. Every heuristic here is a deterministic pure
// function of its inputs so planning decisions can be tested without
// touching real hardware.
package planner
