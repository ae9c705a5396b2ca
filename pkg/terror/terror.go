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

package terror

import (
	"fmt"
	"io"

	"github.com/pingcap/errors"
)

const (
	errBaseFormat = "[code=%d:class=%s:scope=%s:level=%s]"
)

// ErrCode is used as the unique identifier of a specific error type.
type ErrCode int

// ErrClass represents a class of errors.
type ErrClass int

// Error classes.
const (
	ClassFunctional ErrClass = iota + 1
	ClassConfig
	ClassStepState
	ClassWorkflow
	ClassCluster
	ClassCoordination
	ClassService
	ClassRebalance
	ClassMaintenance
	ClassSplit
	ClassRestore
	ClassUpgrade
	ClassNotSet
)

var errClass2Str = map[ErrClass]string{
	ClassFunctional:   "functional",
	ClassConfig:       "config",
	ClassStepState:    "step-state",
	ClassWorkflow:     "workflow",
	ClassCluster:      "cluster",
	ClassCoordination: "coordination",
	ClassService:      "service",
	ClassRebalance:    "rebalance",
	ClassMaintenance:  "maintenance",
	ClassSplit:        "split",
	ClassRestore:      "restore",
	ClassUpgrade:      "upgrade",
	ClassNotSet:       "not-set",
}

// String implements fmt.Stringer interface.
func (ec ErrClass) String() string {
	if s, ok := errClass2Str[ec]; ok {
		return s
	}
	return fmt.Sprintf("unknown error class: %d", ec)
}

// ErrScope represents the error occurs environment, such as the cluster being operated,
// the coordination store or the tool itself.
type ErrScope int

// Error scopes.
const (
	ScopeNotSet ErrScope = iota
	ScopeInternal
	ScopeCluster
	ScopeOperator
)

var errScope2Str = map[ErrScope]string{
	ScopeNotSet:   "not-set",
	ScopeInternal: "internal",
	ScopeCluster:  "cluster",
	ScopeOperator: "operator",
}

// String implements fmt.Stringer interface.
func (es ErrScope) String() string {
	if s, ok := errScope2Str[es]; ok {
		return s
	}
	return fmt.Sprintf("unknown error scope: %d", es)
}

// ErrLevel represents the emergency level of a specific error type.
type ErrLevel int

// Error levels.
const (
	LevelLow ErrLevel = iota + 1
	LevelMedium
	LevelHigh
)

var errLevel2Str = map[ErrLevel]string{
	LevelLow:    "low",
	LevelMedium: "medium",
	LevelHigh:   "high",
}

// String implements fmt.Stringer interface.
func (el ErrLevel) String() string {
	if s, ok := errLevel2Str[el]; ok {
		return s
	}
	return fmt.Sprintf("unknown error level: %d", el)
}

// Error implements error interface and adds some useful fields for operators.
type Error struct {
	code       ErrCode
	class      ErrClass
	scope      ErrScope
	level      ErrLevel
	message    string
	workaround string
	args       []interface{}
	rawCause   error
	stack      errors.StackTracer
}

// New creates a new *Error instance.
func New(code ErrCode, class ErrClass, scope ErrScope, level ErrLevel, message string, workaround string) *Error {
	return &Error{
		code:       code,
		class:      class,
		scope:      scope,
		level:      level,
		message:    message,
		workaround: workaround,
	}
}

// Code returns ErrCode.
func (e *Error) Code() ErrCode {
	return e.code
}

// Class returns ErrClass.
func (e *Error) Class() ErrClass {
	return e.class
}

// Scope returns ErrScope.
func (e *Error) Scope() ErrScope {
	return e.scope
}

// Level returns ErrLevel.
func (e *Error) Level() ErrLevel {
	return e.level
}

// Workaround returns the workaround for error.
func (e *Error) Workaround() string {
	return e.workaround
}

// Error implements error interface.
func (e *Error) Error() string {
	str := fmt.Sprintf(errBaseFormat, e.code, e.class, e.scope, e.level)
	if e.getMsg() != "" {
		str += fmt.Sprintf(", Message: %s", e.getMsg())
	}
	if e.rawCause != nil {
		str += fmt.Sprintf(", RawCause: %s", e.rawCause.Error())
	}
	if e.workaround != "" {
		str += fmt.Sprintf(", Workaround: %s", e.workaround)
	}
	return str
}

// Format accepts flags that alter the printing of some verbs.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') && e.stack != nil {
			_, _ = io.WriteString(s, e.Error())
			e.stack.StackTrace().Format(s, verb)
			return
		}
		fallthrough
	case 's':
		_, _ = io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// Cause implements causer.Cause defined in pingcap/errors.
func (e *Error) Cause() error {
	return e.rawCause
}

// Unwrap returns the raw cause, so the standard library can walk the chain too.
func (e *Error) Unwrap() error {
	return e.rawCause
}

// Equal checks whether err or any of its causes carries the same error code as e,
// looking through wrappers added by pingcap/errors and delegated raw causes.
func (e *Error) Equal(err error) bool {
	for err != nil {
		if inErr, ok := err.(*Error); ok && e.code == inErr.code {
			return true
		}
		next := unwrapOnce(err)
		if next == err {
			return false
		}
		err = next
	}
	return false
}

// SetMessage clones an Error and resets its message.
func (e *Error) SetMessage(message string) *Error {
	err := *e
	err.message = message
	err.args = nil
	return &err
}

// New generates a new *Error with the same class and code, and replace message with new message.
func (e *Error) New(message string) error {
	return e.stackLevelGeneratef(1, message)
}

// Generate generates a new *Error with the same class and code, and new arguments.
func (e *Error) Generate(args ...interface{}) error {
	return e.stackLevelGeneratef(1, e.message, args...)
}

// Generatef generates a new *Error with the same class and code, and a new formatted message.
func (e *Error) Generatef(format string, args ...interface{}) error {
	return e.stackLevelGeneratef(1, format, args...)
}

// stackLevelGeneratef is an inner interface to generate error with specified stack level.
func (e *Error) stackLevelGeneratef(stackSkipLevel int, format string, args ...interface{}) *Error {
	return &Error{
		code:       e.code,
		class:      e.class,
		scope:      e.scope,
		level:      e.level,
		message:    format,
		workaround: e.workaround,
		args:       args,
		stack:      errors.NewStack(stackSkipLevel + 1),
	}
}

// Delegate creates a new *Error with the same fields of the give *Error,
// except for new arguments, it also sets the err as raw cause of *Error.
func (e *Error) Delegate(err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{
		code:       e.code,
		class:      e.class,
		scope:      e.scope,
		level:      e.level,
		message:    e.message,
		workaround: e.workaround,
		args:       args,
		rawCause:   err,
		stack:      errors.NewStack(1),
	}
}

// AnnotateDelegate resets the message of *Error and Delegate with error instance.
func (e *Error) AnnotateDelegate(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{
		code:       e.code,
		class:      e.class,
		scope:      e.scope,
		level:      e.level,
		message:    message,
		workaround: e.workaround,
		args:       args,
		rawCause:   err,
		stack:      errors.NewStack(1),
	}
}

func (e *Error) getMsg() string {
	if len(e.args) > 0 {
		return fmt.Sprintf(e.message, e.args...)
	}
	return e.message
}

// Annotate tries to convert err to *Error and adds a message to it.
// This API is designed to reset Error message but keeps its original stack.
func Annotate(err error, message string) error {
	e, ok := err.(*Error)
	if !ok {
		return errors.Annotate(err, message)
	}
	e2 := *e
	e2.message = fmt.Sprintf("%s: %s", message, e.getMsg())
	e2.args = nil
	return &e2
}

// Annotatef tries to convert err to *Error and adds a message to it.
func Annotatef(err error, format string, args ...interface{}) error {
	e, ok := err.(*Error)
	if !ok {
		return errors.Annotatef(err, format, args...)
	}
	e2 := *e
	e2.message = fmt.Sprintf("%s: %s", fmt.Sprintf(format, args...), e.getMsg())
	e2.args = nil
	return &e2
}

// Message returns `getMsg()` value if err is an *Error instance, else returns `Error()` value.
func Message(err error) string {
	if err == nil {
		return ""
	}
	e, ok := err.(*Error)
	if !ok {
		return err.Error()
	}
	return e.getMsg()
}

// WithScope tries to set given scope to *Error, if err is not an *Error instance,
// wrap it with error scope instead.
func WithScope(err error, scope ErrScope) error {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if !ok {
		return errors.Annotatef(err, "error scope: %s", scope)
	}
	e2 := *e
	e2.scope = scope
	return &e2
}

// WithClass tries to set given class to *Error, if err is not an *Error instance,
// wrap it with error class instead.
func WithClass(err error, class ErrClass) error {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if !ok {
		return errors.Annotatef(err, "error class: %s", class)
	}
	e2 := *e
	e2.class = class
	return &e2
}

// unwrapOnce returns the next error in the chain, or err itself when it can not be unwrapped.
func unwrapOnce(err error) error {
	switch x := err.(type) {
	case interface{ Unwrap() error }:
		if next := x.Unwrap(); next != nil {
			return next
		}
	case interface{ Cause() error }:
		if next := x.Cause(); next != nil {
			return next
		}
	}
	return err
}
