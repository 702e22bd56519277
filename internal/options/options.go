// Package options implements the functional option plumbing shared by the
// engine's constructors.
package options

// OptionConstructor returns the defaults an option set starts from.
type OptionConstructor[T any] func() T

// OptionCallback mutates an option set.
type OptionCallback[T any] func(*T)

// ApplyOptions builds an option set from defaults and callbacks, in order.
// Nil callbacks are skipped.
func ApplyOptions[T any](constructor OptionConstructor[T], cbs []OptionCallback[T]) T {
	var opts T

	if constructor != nil {
		opts = constructor()
	}

	for _, cb := range cbs {
		if cb != nil {
			cb(&opts)
		}
	}

	return opts
}

// ApplyValidated is ApplyOptions followed by a validation step.
func ApplyValidated[T any](constructor OptionConstructor[T], cbs []OptionCallback[T], validate func(T) error) (T, error) {
	opts := ApplyOptions(constructor, cbs)

	if validate != nil {
		if err := validate(opts); err != nil {
			var zero T
			return zero, err
		}
	}

	return opts, nil
}
