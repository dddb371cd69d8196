// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// bio-sv-discover runs structural-variant discovery from local assembly
// contig alignments, locally or on inputs staged to shared storage, and
// checks the resulting VCF against a golden file. See "bio-sv-discover help".
package main

import (
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/biosv/cmd/bio-sv-discover/cmd"
)

func main() {
	shutdown := grail.Init()
	code := cmd.Run()
	shutdown()
	os.Exit(code)
}
