/*
  Psutils is a library for inspecting processes and system state on
  linux, macos and windows.

  Process handles are bound to a (pid, start time) identity so a
  recycled pid can never be mistaken for the process it replaced. See
  the process package for the core API, the system package for host
  wide queries and the tracker package for a process tree model that
  remembers exited processes.
*/

package psutils
