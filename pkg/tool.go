package pkg

// Contains check source have target
func Contains(slice []string, val string) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

// Remove 回傳移除 val 後的新 slice, 不修改原 slice
func Remove(slice []string, val string) []string {
	out := make([]string, 0, len(slice))
	for _, v := range slice {
		if v != val {
			out = append(out, v)
		}
	}
	return out
}

// AppendIfNotExists append val when slice not contains it
func AppendIfNotExists(slice []string, val string) []string {
	if Contains(slice, val) {
		return slice
	}
	return append(slice, val)
}
