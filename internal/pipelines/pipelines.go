// Package pipelines embeds the pipeline definitions shipped with the binary:
// the relational songs pipeline and the API purchases pipeline.
//
// The definitions read these variables, which the application always sets:
//
//	var.start_partition  first partition when no watermark exists
//	var.source_db        relational source database for rds_extract
//	var.serving_db       serving database for warehouse_load
//	var.api_base_url     root of the users and sessions API
//	var.api_token        bearer token for the API, may be empty
package pipelines

import (
	"embed"
	"io/fs"
)

//go:embed definitions/*.hcl
var embedded embed.FS

// Variables lists the variables the embedded definitions reference.
var Variables = []string{"start_partition", "source_db", "serving_db", "api_base_url", "api_token"}

// FS returns the embedded definition files.
func FS() fs.FS {
	sub, err := fs.Sub(embedded, "definitions")
	if err != nil {
		panic(err)
	}
	return sub
}
