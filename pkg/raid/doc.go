// Package raid is the software-RAID control engine: a parser for
// /proc/mdstat and mdadm --detail --export output, a status derivation for
// every supported level, and two interchangeable controller backends. The
// mdadm backend drives the real kernel md layer through the host adapter;
// the simulator keeps a faithful in-memory model with deterministic rebuild
// progress for dev mode and tests. Which backend runs is decided once at
// startup from the configured mode.
package raid
