// Package hcl loads pipeline descriptions written in HCL.
//
// A pipeline is spread over any number of .hcl files. Three top-level blocks
// are recognised:
//
//	scheduler {
//	  workers    = 4
//	  fail_fast  = false
//	  pool_limit = 67108864
//	}
//
//	node "camera" {
//	  kind = "test_source"
//	  fps  = 30 # every other attribute is a property override
//	}
//
//	edge {
//	  from          = "camera.out"
//	  to            = "invert.in"
//	  depth         = 4
//	  policy        = "drop_oldest"
//	  block_timeout = "250ms"
//	  feedback      = false
//	}
//
// Attribute expressions may call a small set of functions (min, max, format,
// upper, lower, concat) but cannot reference other blocks. env("NAME") reads
// an environment variable, with an optional fallback as a second argument.
package hcl
