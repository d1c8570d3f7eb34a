package system

/*
  Host wide introspection: memory, cpu, load, disk and platform
  information. Everything here delegates to gopsutil with thin
  wrappers so callers never import gopsutil directly and the rest of
  this repo presents one surface.
*/
