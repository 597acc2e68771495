package membership_test

import (
	"modelproof/internal/monitoring/membership"
	"modelproof/internal/monitoring/plans"
	"modelproof/internal/monitoring/scope"
	memberstore "modelproof/internal/monitoring/store/membership"
)

// Both implementations must satisfy every consumer-side ledger interface;
// server wiring passes one store value to all three services.
var (
	_ membership.LedgerStore = (*memberstore.InMemory)(nil)
	_ membership.LedgerStore = (*memberstore.PostgresStore)(nil)

	_ plans.MembershipReader = (*memberstore.InMemory)(nil)
	_ plans.MembershipReader = (*memberstore.PostgresStore)(nil)

	_ scope.MembershipReader = (*memberstore.InMemory)(nil)
	_ scope.MembershipReader = (*memberstore.PostgresStore)(nil)
)
