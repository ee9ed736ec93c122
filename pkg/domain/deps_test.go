package domain

import (
	"testing"

	"entitystore/testutil"
)

func TestDomainImportsOnlyStdlib(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.AnyInternal, "domain types are shared by every layer")
	testutil.AssertNoDirectImports(t, ".", testutil.ThirdParty, "domain types carry no third-party dependency")
}

func TestDomainPullsInNoThirdPartyModule(t *testing.T) {
	testutil.AssertNoTransitiveDependency(t, ".", testutil.ThirdParty, "importing domain must not add modules to a consumer's build")
}
