package entitystore

import (
	"testing"

	"entitystore/testutil"
)

func TestStoreDoesNotDependOnManagerLayers(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.InternalPackage("entitymanager", "worker", "metrics", "logging", "config", "normalizer"),
		"the store is driven by the manager, never the reverse")
	testutil.AssertNoDirectImports(t, ".", testutil.ThirdParty, "the store is built on the standard library")
}

func TestStoreBuildsWithoutThirdPartyModules(t *testing.T) {
	testutil.AssertNoTransitiveDependency(t, ".", func(path string) bool {
		return testutil.ThirdParty(path) || testutil.InternalPackage("entitymanager", "worker", "metrics", "logging", "config", "normalizer")(path)
	}, "the store and everything it imports stay on the standard library")
}
