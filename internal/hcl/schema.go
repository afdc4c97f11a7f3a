package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot is the set of top-level blocks a pipeline file may contain.
type fileRoot struct {
	Scheduler []*schedulerBlock `hcl:"scheduler,block"`
	Nodes     []*nodeBlock      `hcl:"node,block"`
	Edges     []*edgeBlock      `hcl:"edge,block"`
}

type schedulerBlock struct {
	Workers   *int   `hcl:"workers,optional"`
	FailFast  *bool  `hcl:"fail_fast,optional"`
	PoolLimit *int64 `hcl:"pool_limit,optional"`
}

type nodeBlock struct {
	Name   string   `hcl:"name,label"`
	Kind   string   `hcl:"kind"`
	Remain hcl.Body `hcl:",remain"`
}

type edgeBlock struct {
	From         string  `hcl:"from"`
	To           string  `hcl:"to"`
	Depth        *int    `hcl:"depth,optional"`
	Policy       *string `hcl:"policy,optional"`
	Feedback     *bool   `hcl:"feedback,optional"`
	BlockTimeout *string `hcl:"block_timeout,optional"`
}
