package main

import "os/user"

// lookupUser validates that name resolves to a real account. The actual
// privilege drop is a documented external collaborator, out of scope here;
// this only validates the flag the way PrivInit/Init ordering
// in original_source/platform/Linux/sm_proc.c implies it should be checked
// before the sampler modules initialize.
func lookupUser(name string) (*user.User, error) {
	return user.Lookup(name)
}
