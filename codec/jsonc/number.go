package jsonc

import "strconv"

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
