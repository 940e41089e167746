package xerror

// Unwrap returns t, panicking if e is not nil. It is meant for values that
// are known to be valid, such as constants in tests.
func Unwrap[T any](t T, e error) T {
	if e != nil {
		panic(e)
	}
	return t
}
