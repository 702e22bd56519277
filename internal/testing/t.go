// Package testing holds fixtures shared by the package tests: sealed commit
// chains and a scripted tarantool connection.
package testing

// T is the subset of testing.TB the fixtures need.
type T interface {
	Helper()
	Log(args ...any)
	Logf(format string, args ...any)
	Fatalf(format string, args ...any)
	Errorf(format string, args ...any)
}
