package workload

import (
	"github.com/kbukum/stepflow/component"
)

// NewComponent registers a manager's runtime probe as component
// "workload-<provider>". Managers have no start or stop of their own.
func NewComponent(provider string, m Manager) component.Component {
	return &component.Func{
		ComponentName: "workload-" + provider,
		HealthFn:      m.HealthCheck,
	}
}
