// Package utils has small generic helpers for optional values.
package utils

// Value dereferences v, giving the zero value for nil. Optional timestamps
// such as last_sign_in_at come back as nil pointers.
func Value[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}

// Ptr returns a pointer to a copy of v, for optional update fields.
func Ptr[T any](v T) *T {
	return &v
}
