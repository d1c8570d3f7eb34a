package utils

// Elide truncates long strings for inclusion in error messages and
// log lines.
func Elide(in string, length int) string {
	if len(in) < length {
		return in
	}

	return in[:length] + " ..."
}
