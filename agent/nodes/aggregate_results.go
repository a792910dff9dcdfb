package orchestratornode

import (
	"fmt"

	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/aggregate"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/tool"
)

func AggregateResults(in *GraphState, catalog *tool.Catalog) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	guard(in, "aggregate_results", func() error {
		in.Aggregate = aggregate.Aggregate(in.Results, catalog)
		return nil
	})
	return in, nil
}
