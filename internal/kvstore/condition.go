/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package kvstore

import (
	"fmt"
	"strings"
)

// Condition is a predicate over the existing row image, evaluated inside
// the same store transaction as the write it guards. A nil item means the
// row does not exist.
type Condition interface {
	Evaluate(item Item) bool
	String() string
}

type notExists struct{}

func (notExists) Evaluate(item Item) bool { return item == nil }
func (notExists) String() string          { return "attribute_not_exists" }

// NotExists is satisfied only when no row is present.
func NotExists() Condition { return notExists{} }

type attrEquals struct {
	field string
	value string
}

func (c attrEquals) Evaluate(item Item) bool {
	if item == nil {
		return false
	}
	return item.StringAttr(c.field) == c.value
}

func (c attrEquals) String() string { return fmt.Sprintf("%s = %s", c.field, c.value) }

// AttributeEquals is satisfied when the row exists and the named attribute
// equals value.
func AttributeEquals(field, value string) Condition { return attrEquals{field: field, value: value} }

type attrLTE struct {
	field string
	value string
}

func (c attrLTE) Evaluate(item Item) bool {
	if item == nil {
		return false
	}
	// Lexicographic compare; RFC3339 timestamps in UTC order correctly.
	return item.StringAttr(c.field) <= c.value
}

func (c attrLTE) String() string { return fmt.Sprintf("%s <= %s", c.field, c.value) }

// AttributeLTE is satisfied when the row exists and the named attribute is
// lexicographically at most value.
func AttributeLTE(field, value string) Condition { return attrLTE{field: field, value: value} }

type anyOf struct {
	conds []Condition
}

func (c anyOf) Evaluate(item Item) bool {
	for _, cond := range c.conds {
		if cond.Evaluate(item) {
			return true
		}
	}
	return false
}

func (c anyOf) String() string {
	parts := make([]string, len(c.conds))
	for i, cond := range c.conds {
		parts[i] = cond.String()
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// Or is satisfied when any sub-condition is.
func Or(conds ...Condition) Condition { return anyOf{conds: conds} }
