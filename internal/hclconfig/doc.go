// Package hclconfig loads pipeline definitions written in HCL.
//
// A definition file contains one or more pipeline blocks:
//
//	pipeline "songs" {
//	  sources         = ["rds"]
//	  start_partition = "2024-01-01"
//
//	  task "extract" {
//	    kind      = "extract"
//	    operation = "rds_extract"
//	    source    = "songs"
//	    params = {
//	      dsn = "${var.data_root}/source/songs.db"
//	    }
//	    retry {
//	      max_attempts = 3
//	    }
//	  }
//
//	  task "quality" {
//	    kind      = "quality"
//	    operation = "rule_evaluate"
//	    upstream  = ["transform"]
//	    rule "has_rows" {
//	      metric    = "row_count"
//	      operator  = "greater_than"
//	      threshold = 0
//	    }
//	  }
//	}
//
// Expressions may reference `var.<name>` (loader variables such as
// data_root) and `env.<NAME>` (the process environment). The loader does no
// semantic validation; that is the definition package's job.
package hclconfig
