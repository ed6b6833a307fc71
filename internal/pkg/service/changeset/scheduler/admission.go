package scheduler

import (
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
)

// maxedOutTenants returns tenants with the number of running change sets at or over the limit.
func maxedOutTenants(running model.GroupSet, maxRunningPerTenant int) map[model.TenantID]bool {
	out := make(map[model.TenantID]bool)
	for tenant, count := range running.CountByTenant() {
		if count >= maxRunningPerTenant {
			out[tenant] = true
		}
	}
	return out
}

// eligibleGroups returns groups with a queued change set, without a running change set,
// and not belonging to a maxed-out tenant. The result is sorted by the tenant and the queue key.
func eligibleGroups(queued, running model.GroupSet, maxRunningPerTenant int) []model.GroupKey {
	maxedOut := maxedOutTenants(running, maxRunningPerTenant)

	var out []model.GroupKey
	for _, k := range queued.Minus(running).Keys() {
		if !maxedOut[k.TenantID] {
			out = append(out, k)
		}
	}
	return out
}
