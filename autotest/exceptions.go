package autotest

import (
	"errors"
	"fmt"
	"sort"
)

// ErrorClass is a named error class. An error belongs to the class when the
// class matcher accepts it.
type ErrorClass struct {
	Name  string
	match func(error) bool
}

// Matches reports whether err is an instance of the class
func (c ErrorClass) Matches(err error) bool {
	if err == nil || c.match == nil {
		return false
	}
	return c.match(err)
}

// ClassOf returns a class whose instances are errors that errors.As can convert to T
func ClassOf[T error](name string) ErrorClass {
	return ErrorClass{
		Name: name,
		match: func(err error) bool {
			var target T
			return errors.As(err, &target)
		},
	}
}

// ClassFunc returns a class whose membership is decided by match
func ClassFunc(name string, match func(error) bool) ErrorClass {
	return ErrorClass{Name: name, match: match}
}

// Exceptions is the registry of error classes negative cases refer to by name
type Exceptions struct {
	classes map[string]ErrorClass
}

// NewExceptions builds a registry. Names must be non-empty and unique and every
// class needs a matcher.
func NewExceptions(classes ...ErrorClass) (*Exceptions, error) {
	x := &Exceptions{classes: make(map[string]ErrorClass, len(classes))}
	for _, c := range classes {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: error class without a name", ErrConfig)
		}
		if c.match == nil {
			return nil, fmt.Errorf("%w: error class %q has no matcher", ErrConfig, c.Name)
		}
		if _, dup := x.classes[c.Name]; dup {
			return nil, fmt.Errorf("%w: error class %q registered twice", ErrConfig, c.Name)
		}
		x.classes[c.Name] = c
	}
	return x, nil
}

// MustExceptions is like NewExceptions but panics on an invalid registry
func MustExceptions(classes ...ErrorClass) *Exceptions {
	x, err := NewExceptions(classes...)
	if err != nil {
		panic(err)
	}
	return x
}

// Lookup returns the class registered under name
func (x *Exceptions) Lookup(name string) (ErrorClass, bool) {
	c, ok := x.classes[name]
	return c, ok
}

// Names returns the registered class names in sorted order
func (x *Exceptions) Names() []string {
	names := make([]string, 0, len(x.classes))
	for name := range x.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Classify returns the name of the first class, in name order, that err belongs to
func (x *Exceptions) Classify(err error) (string, bool) {
	for _, name := range x.Names() {
		if x.classes[name].Matches(err) {
			return name, true
		}
	}
	return "", false
}
