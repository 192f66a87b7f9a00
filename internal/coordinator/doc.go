// Package coordinator orchestrates one export session end to end: profile
// the machine, plan chunks and workers, fan jobs out to the supervised pool
// (or run the whole plan on a single worker), combine parallel outputs, and
// journal phase and progress transitions. At most one session is active at a
// time; a second request is refused while the first is running.
package coordinator
