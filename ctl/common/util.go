// Copyright 2022 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pingcap/errors"
)

// PrintLines prints one formatted line.
func PrintLines(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintln(w, fmt.Sprintf(format, a...))
}

// PrettyPrint prints a report as indented JSON.
func PrettyPrint(w io.Writer, v interface{}) {
	s, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		PrintLines(w, "%s", errors.ErrorStack(err))
		return
	}
	fmt.Fprintln(w, string(s))
}
