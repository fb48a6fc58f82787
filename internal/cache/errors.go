package cache

import derrors "github.com/y3owk1n/kioku/internal/errors"

// IsNotFound reports whether err means the key is absent or no longer alive.
func IsNotFound(err error) bool {
	return derrors.IsCode(err, derrors.CodeKeyNotFound)
}

// IsKeyTooLong reports whether err means the key exceeds the length limit.
func IsKeyTooLong(err error) bool {
	return derrors.IsCode(err, derrors.CodeKeyTooLong)
}

// IsValueTooLong reports whether err means the value exceeds the length limit.
func IsValueTooLong(err error) bool {
	return derrors.IsCode(err, derrors.CodeValueTooLong)
}

// IsCapacityExceeded reports whether err means the entry cannot fit at all.
func IsCapacityExceeded(err error) bool {
	return derrors.IsCode(err, derrors.CodeCapacityExceeded)
}
