// Copyright 2015 Comcast Cable Communications Management, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// End Copyright

package core

// Rule paths follow a deliberate subset of JSONPath: a leading "$.",
// then dot-separated field names, with optional "[N]" indices or
// "[*]" wildcards on array fields.  Example: "$.devices[*].osVersion".
//
// Evaluation always works on one entity at a time, so the document
// part of a path (the collection segment) gets stripped before
// lookup.  See SimplifyPath.

import (
	"strconv"
	"strings"
)

// SimplifyPath turns a document-level path into an intra-entity path.
//
// Strips the leading "$." and then drops the first segment if it
// contains a bracket expression: that segment names the entity
// collection at the document level, which has already been extracted.
//
//   $.devices[*].vendor         -> vendor
//   $.devices[0].config.version -> config.version
//   $.version                   -> version
//   vendor                      -> vendor
func SimplifyPath(path string) string {
	if strings.HasPrefix(path, "$.") {
		path = path[2:]
	}

	parts := strings.Split(path, ".")
	if 1 < len(parts) && strings.Contains(parts[0], "[") {
		path = strings.Join(parts[1:], ".")
	}

	return path
}

// ValueAtPath fetches the value at the given (simplified) path within
// an entity.
//
// Returns nil for anything that can't be resolved: a missing field, a
// non-map where a map is needed, an out-of-range or malformed index.
// nil is the sentinel for "absent" and is what leaf operators receive
// as the actual value.
func ValueAtPath(entity interface{}, path string) interface{} {
	if path == "" {
		return nil
	}

	parts := strings.Split(path, ".")
	current := entity

	for _, part := range parts {
		if strings.Contains(part, "[") && strings.Contains(part, "]") {
			name := part[:strings.Index(part, "[")]
			index := part[strings.Index(part, "[")+1 : strings.Index(part, "]")]

			m, ok := current.(map[string]interface{})
			if !ok {
				return nil
			}
			inner, have := m[name]
			if !have {
				return nil
			}
			n, err := strconv.Atoi(index)
			if err != nil {
				return nil
			}
			xs, ok := inner.([]interface{})
			if !ok || n < 0 || len(xs) <= n {
				return nil
			}
			current = xs[n]
			continue
		}

		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		v, have := m[part]
		if !have {
			return nil
		}
		current = v
	}

	return current
}

// ExtractEntities finds the list of entities in a document.
//
// Tries the keys entityType + "s" and then entityType, returning the
// first whose value is a list.  No list means no entities.
//
// Members are returned as-is.  Non-map members still count as
// entities; paths just won't resolve into them.
func ExtractEntities(data Map, entityType string) []interface{} {
	for _, key := range []string{entityType + "s", entityType} {
		if raw, have := data[key]; have {
			if xs, ok := raw.([]interface{}); ok {
				return xs
			}
		}
	}
	return []interface{}{}
}
