package datastore

import (
	"strconv"
	"strings"
)

// resultSuffix terminates every result key.
const resultSuffix = "result"

// ResultKey addresses the result slot of one step within a stack.
// Its canonical form is "<stack_id>/<step_id>/result"; StackID must not
// contain the separator, which Validate on the request types enforces.
type ResultKey struct {
	StackID string
	StepID  int
}

func (k ResultKey) String() string {
	return k.StackID + "/" + strconv.Itoa(k.StepID) + "/" + resultSuffix
}

// ParseResultKey is the inverse of ResultKey.String.
func ParseResultKey(s string) (ResultKey, bool) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || parts[0] == "" || parts[2] != resultSuffix {
		return ResultKey{}, false
	}
	stepID, err := strconv.Atoi(parts[1])
	if err != nil {
		return ResultKey{}, false
	}
	return ResultKey{StackID: parts[0], StepID: stepID}, true
}
