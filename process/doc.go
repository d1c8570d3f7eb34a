package process

/*
  Cross platform process introspection without shelling out.

  A Process handle binds a pid to the creation time of the process
  that owned it when the handle was made. The kernel recycles pids,
  so the pair is the only safe long lived reference: any operation on
  a handle whose pid now belongs to an unrelated process fails with
  NoSuchProcess instead of leaking another process' data.

  All kernel access goes through a per platform Backend selected once
  at startup. Backends declare the optional operations they support
  through a capability set, so callers can branch on HasCapability
  instead of probing for runtime failures.
*/
